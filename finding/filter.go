package finding

import (
	"fmt"
	"strings"
	"time"
)

// Filter represents criteria for filtering findings.
// Empty fields match everything.
type Filter struct {
	// Title matches findings whose title contains this text (case-insensitive).
	Title string `json:"title,omitempty"`

	// Severities filters by one or more severity levels.
	Severities []Severity `json:"severities,omitempty"`

	// Statuses filters by one or more statuses.
	Statuses []Status `json:"statuses,omitempty"`

	// Type filters by finding type (case-insensitive).
	Type string `json:"type,omitempty"`

	// AssetName matches findings whose asset name contains this text.
	AssetName string `json:"asset_name,omitempty"`

	// AssetID filters by exact asset identifier.
	AssetID string `json:"asset_id,omitempty"`

	// EngineType filters by engine (case-insensitive).
	EngineType string `json:"engine_type,omitempty"`

	// OwnerID filters by owning user.
	OwnerID string `json:"owner_id,omitempty"`

	// Tags filters by tags (finding must have at least one matching tag).
	Tags []string `json:"tags,omitempty"`

	// CreatedAfter filters findings created after this time.
	CreatedAfter time.Time `json:"created_after,omitempty"`

	// CreatedBefore filters findings created before this time.
	CreatedBefore time.Time `json:"created_before,omitempty"`
}

// Matches returns true if the given finding matches all filter criteria.
func (f *Filter) Matches(finding *Finding) bool {
	if f.Title != "" && !containsFold(finding.Title, f.Title) {
		return false
	}

	if len(f.Severities) > 0 && !contains(f.Severities, finding.Severity) {
		return false
	}

	if len(f.Statuses) > 0 && !contains(f.Statuses, finding.Status) {
		return false
	}

	if f.Type != "" && !strings.EqualFold(finding.Type, f.Type) {
		return false
	}

	if f.AssetName != "" && !containsFold(finding.AssetName, f.AssetName) {
		return false
	}

	if f.AssetID != "" && finding.AssetID != f.AssetID {
		return false
	}

	if f.EngineType != "" && !strings.EqualFold(finding.EngineType, f.EngineType) {
		return false
	}

	if f.OwnerID != "" && finding.OwnerID != f.OwnerID {
		return false
	}

	// at least one tag must match
	if len(f.Tags) > 0 {
		matched := false
		for _, tag := range f.Tags {
			if contains(finding.Tags, tag) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if !f.CreatedAfter.IsZero() && finding.CreatedAt.Before(f.CreatedAfter) {
		return false
	}

	if !f.CreatedBefore.IsZero() && finding.CreatedAt.After(f.CreatedBefore) {
		return false
	}

	return true
}

// Validate checks if the filter configuration is valid.
func (f *Filter) Validate() error {
	for _, sev := range f.Severities {
		if !sev.IsValid() {
			return fmt.Errorf("invalid severity in filter: %s", sev)
		}
	}

	for _, st := range f.Statuses {
		if !st.IsValid() {
			return fmt.Errorf("invalid status in filter: %s", st)
		}
	}

	if !f.CreatedAfter.IsZero() && !f.CreatedBefore.IsZero() && f.CreatedAfter.After(f.CreatedBefore) {
		return fmt.Errorf("created_after must be before created_before")
	}

	return nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func contains[T comparable](items []T, v T) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}
