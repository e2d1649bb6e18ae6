package finding

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EngineManual is the engine type of findings created by hand rather than
// by a scanner.
const EngineManual = "MANUAL"

// PublicationDateLayout is the layout of RiskInfo.VulnPublicationDate.
const PublicationDateLayout = "2006/01/02"

// RiskInfo carries the risk metadata attached to a finding.
type RiskInfo struct {
	// CVSSBaseScore is the CVSS base score (0.0 to 10.0).
	CVSSBaseScore float64 `json:"cvss_base_score"`

	// VulnPublicationDate is the vulnerability publication date (YYYY/MM/DD).
	VulnPublicationDate string `json:"vuln_publication_date,omitempty"`
}

// Finding represents a deduplicated vulnerability record reported against an asset.
type Finding struct {
	// ID is a unique identifier for the finding.
	ID string `json:"id"`

	// Title is a brief summary of the finding.
	Title string `json:"title"`

	// Description provides detailed information about the finding.
	Description string `json:"description"`

	// Severity indicates the severity level of the finding.
	Severity Severity `json:"severity"`

	// Status indicates the triage state of the finding.
	Status Status `json:"status"`

	// Type is the scanner-defined class of the issue (e.g. "vulnerability").
	Type string `json:"type"`

	// Confidence is how sure the reporting engine is.
	Confidence Confidence `json:"confidence,omitempty"`

	// Solution provides guidance on fixing or mitigating the issue.
	Solution string `json:"solution,omitempty"`

	// RiskInfo holds CVSS score and publication date.
	RiskInfo RiskInfo `json:"risk_info"`

	// VulnRefs maps reference kinds (CVE, CWE, ...) to identifiers.
	VulnRefs map[string][]string `json:"vuln_refs,omitempty"`

	// Links contains links to relevant documentation or advisories.
	Links []string `json:"links,omitempty"`

	// Tags are arbitrary labels for categorization and filtering.
	Tags []string `json:"tags,omitempty"`

	// Comments holds free-form analyst notes.
	Comments string `json:"comments,omitempty"`

	// OwnerID identifies the owning user.
	OwnerID string `json:"owner_id"`

	// AssetID identifies the asset the finding is about.
	AssetID string `json:"asset_id"`

	// AssetName is the denormalized asset value.
	AssetName string `json:"asset_name"`

	// ScanID identifies the originating scan. Empty for manual findings.
	ScanID string `json:"scan_id,omitempty"`

	// EngineType is the scanner identifier, or EngineManual.
	EngineType string `json:"engine_type"`

	// Hash identifies the underlying issue across scan runs.
	Hash string `json:"hash"`

	// RawData keeps the engine's original record, when any.
	RawData map[string]any `json:"raw_data,omitempty"`

	// CreatedAt is the timestamp when the finding was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the timestamp when the finding was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// RawFinding is the unprocessed per-scan record a Finding is derived from.
// It always belongs to exactly one scan.
type RawFinding struct {
	Finding
}

// NewFinding creates a new Finding with required fields and auto-generated values.
// The content hash is computed from the asset name, type and title.
func NewFinding(ownerID, assetID, assetName, title, findingType string, severity Severity) *Finding {
	now := time.Now()
	f := &Finding{
		ID:        uuid.New().String(),
		Title:     title,
		Severity:  severity,
		Status:    StatusNew,
		Type:      findingType,
		OwnerID:   ownerID,
		AssetID:   assetID,
		AssetName: assetName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.Hash = f.ComputeHash()
	return f
}

// NewRawFinding creates a RawFinding belonging to scanID.
func NewRawFinding(scanID, engineType, ownerID, assetID, assetName, title, findingType string, severity Severity) *RawFinding {
	f := NewFinding(ownerID, assetID, assetName, title, findingType, severity)
	f.ScanID = scanID
	f.EngineType = engineType
	return &RawFinding{Finding: *f}
}

// IsManual reports whether the finding was created by hand and therefore has
// no scan lineage.
func (f *Finding) IsManual() bool {
	return f.EngineType == "" || strings.EqualFold(f.EngineType, EngineManual)
}

// ComputeHash returns the content hash of the finding's identity fields.
func (f *Finding) ComputeHash() string {
	return Hash(f.AssetName, f.Type, f.Title)
}

// Validate checks if the finding has all required fields and valid values.
func (f *Finding) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("finding ID is required")
	}
	if f.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", f.Severity)
	}
	if !f.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", f.Status)
	}
	if f.Confidence != "" && !f.Confidence.IsValid() {
		return fmt.Errorf("invalid confidence: %s", f.Confidence)
	}
	if f.RiskInfo.CVSSBaseScore < 0.0 || f.RiskInfo.CVSSBaseScore > 10.0 {
		return fmt.Errorf("CVSS score must be between 0.0 and 10.0, got %f", f.RiskInfo.CVSSBaseScore)
	}
	if f.AssetName == "" {
		return fmt.Errorf("asset name is required")
	}
	if f.CreatedAt.IsZero() {
		return fmt.Errorf("created_at timestamp is required")
	}
	return nil
}

// Validate checks the embedded finding and the scan reference.
func (r *RawFinding) Validate() error {
	if err := r.Finding.Validate(); err != nil {
		return err
	}
	if r.ScanID == "" {
		return fmt.Errorf("raw finding requires a scan ID")
	}
	return nil
}

// AddTag adds a tag to the finding if it doesn't already exist and reports
// whether it did. Blank tags are ignored.
func (f *Finding) AddTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false
	}
	for _, existingTag := range f.Tags {
		if existingTag == tag {
			return false
		}
	}
	f.Tags = append(f.Tags, tag)
	return true
}

// SetStatus updates the finding status and timestamp.
func (f *Finding) SetStatus(status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid status: %s", status)
	}
	f.Status = status
	f.UpdatedAt = time.Now()
	return nil
}

// ApplyDefaultRiskInfo fills an empty risk info with a zero CVSS score and
// the publication date of now.
func (f *Finding) ApplyDefaultRiskInfo(now time.Time) {
	if f.RiskInfo.VulnPublicationDate == "" {
		f.RiskInfo.VulnPublicationDate = now.Format(PublicationDateLayout)
	}
}

// Clone returns a deep copy of the finding.
func (f *Finding) Clone() *Finding {
	c := *f
	c.Links = append([]string(nil), f.Links...)
	c.Tags = append([]string(nil), f.Tags...)
	if f.VulnRefs != nil {
		c.VulnRefs = make(map[string][]string, len(f.VulnRefs))
		for k, v := range f.VulnRefs {
			c.VulnRefs[k] = append([]string(nil), v...)
		}
	}
	if f.RawData != nil {
		c.RawData = make(map[string]any, len(f.RawData))
		for k, v := range f.RawData {
			c.RawData[k] = v
		}
	}
	return &c
}
