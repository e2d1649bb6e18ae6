package finding

import (
	"fmt"
	"strings"
	"time"
)

// Form holds the user-editable fields of a finding, as submitted for an
// edit or a manual creation.
type Form struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Type        string              `json:"type"`
	Severity    Severity            `json:"severity"`
	Solution    string              `json:"solution,omitempty"`
	RiskInfo    *RiskInfo           `json:"risk_info,omitempty"`
	VulnRefs    map[string][]string `json:"vuln_refs,omitempty"`
	Links       []string            `json:"links,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
	Status      Status              `json:"status"`
	Comments    string              `json:"comments,omitempty"`

	// AssetID is only read when creating a finding.
	AssetID string `json:"asset_id,omitempty"`
}

// Validate checks the submitted values. Severity spellings are normalized
// in place (e.g. "Moderate" becomes medium); an empty status defaults to new.
func (f *Form) Validate() error {
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return fmt.Errorf("title is required")
	}
	if f.Type == "" {
		return fmt.Errorf("type is required")
	}

	sev, err := ParseSeverity(string(f.Severity))
	if err != nil {
		return err
	}
	f.Severity = sev

	if f.Status == "" {
		f.Status = StatusNew
	}
	if !f.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", f.Status)
	}

	if f.RiskInfo != nil {
		if f.RiskInfo.CVSSBaseScore < 0.0 || f.RiskInfo.CVSSBaseScore > 10.0 {
			return fmt.Errorf("CVSS score must be between 0.0 and 10.0, got %f", f.RiskInfo.CVSSBaseScore)
		}
		if d := f.RiskInfo.VulnPublicationDate; d != "" {
			if _, err := time.Parse(PublicationDateLayout, d); err != nil {
				return fmt.Errorf("invalid publication date %q, want YYYY/MM/DD", d)
			}
		}
	}

	return nil
}

// ApplyTo copies the form values onto target and returns the names of the
// fields whose value changed. The form should have been validated; an
// invalid status is rejected before target is modified.
func (f *Form) ApplyTo(target *Finding) ([]string, error) {
	before := target.Clone()

	if target.Status != f.Status {
		if err := target.SetStatus(f.Status); err != nil {
			return nil, err
		}
	}
	target.Title = f.Title
	target.Description = f.Description
	target.Type = f.Type
	target.Severity = f.Severity
	target.Solution = f.Solution
	if f.RiskInfo != nil {
		target.RiskInfo = *f.RiskInfo
	}
	target.VulnRefs = f.VulnRefs
	target.Links = f.Links
	target.Tags = nil
	for _, tag := range f.Tags {
		target.AddTag(tag)
	}
	target.Comments = f.Comments

	diffs := Diff(before, target)
	if len(diffs) == 0 {
		return nil, nil
	}

	target.UpdatedAt = time.Now()
	changed := make([]string, 0, len(diffs))
	for _, d := range diffs {
		changed = append(changed, d.Field)
	}
	return changed, nil
}

// NewManualFinding builds a finding from a creation form: engine MANUAL,
// confidence certain, and default risk info when none was submitted.
func NewManualFinding(ownerID, assetID, assetName string, form *Form) *Finding {
	f := NewFinding(ownerID, assetID, assetName, form.Title, form.Type, form.Severity)
	f.Description = form.Description
	f.Solution = form.Solution
	f.VulnRefs = form.VulnRefs
	f.Links = form.Links
	for _, tag := range form.Tags {
		f.AddTag(tag)
	}
	f.Status = form.Status
	f.Comments = form.Comments
	f.Confidence = ConfidenceCertain
	f.EngineType = EngineManual
	f.RawData = map[string]any{}
	if form.RiskInfo != nil {
		f.RiskInfo = *form.RiskInfo
	} else {
		f.ApplyDefaultRiskInfo(f.CreatedAt)
	}
	return f
}
