package finding

import (
	"fmt"
	"strings"
)

// Severity represents the severity level of a finding.
// Severities are ordered: info < low < medium < high < critical.
type Severity string

const (
	// SeverityInfo indicates an informational finding without direct security impact.
	SeverityInfo Severity = "info"

	// SeverityLow indicates a minor security issue.
	SeverityLow Severity = "low"

	// SeverityMedium indicates a moderate security issue.
	SeverityMedium Severity = "medium"

	// SeverityHigh indicates a high-impact security issue.
	SeverityHigh Severity = "high"

	// SeverityCritical indicates a critical security issue requiring immediate attention.
	SeverityCritical Severity = "critical"
)

// severityRanks maps severity levels to their position in the ordering.
var severityRanks = map[Severity]int{
	SeverityInfo:     1,
	SeverityLow:      2,
	SeverityMedium:   3,
	SeverityHigh:     4,
	SeverityCritical: 5,
}

// severityWeights maps severity levels to numeric weights for risk calculation.
var severityWeights = map[Severity]float64{
	SeverityCritical: 10.0,
	SeverityHigh:     7.5,
	SeverityMedium:   5.0,
	SeverityLow:      2.5,
	SeverityInfo:     1.0,
}

// IsValid returns true if the severity level is valid.
func (s Severity) IsValid() bool {
	_, ok := severityRanks[s]
	return ok
}

// Rank returns the position of the severity in the ordering (info=1,
// critical=5). Invalid severities rank 0.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// Weight returns the numeric weight associated with the severity level.
// Returns 0.0 for invalid severity levels.
func (s Severity) Weight() float64 {
	return severityWeights[s]
}

// AtLeast reports whether s is at or above min in the ordering.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// ParseSeverity parses a severity string case-insensitively.
// Scanner spellings are normalized: "informational" and "none" map to info,
// "moderate" to medium.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "informational", "none", "note":
		return SeverityInfo, nil
	case "low":
		return SeverityLow, nil
	case "medium", "moderate":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("invalid severity: %s (want one of %v)", s, AllSeverities())
	}
}

// CompareSeverity compares two severity levels.
// Returns negative if s1 < s2, zero if equal, positive if s1 > s2.
func CompareSeverity(s1, s2 Severity) int {
	return s1.Rank() - s2.Rank()
}

// AllSeverities returns all valid severity levels in order from critical to info.
func AllSeverities() []Severity {
	return []Severity{
		SeverityCritical,
		SeverityHigh,
		SeverityMedium,
		SeverityLow,
		SeverityInfo,
	}
}
