// Package finding provides the vulnerability records tracked by the findings
// manager.
//
// # Core Types
//
// Finding is the deduplicated record shown to users. RawFinding is the
// per-scan record a Finding is derived from; it always belongs to one scan.
// Both carry a content hash that identifies the same underlying issue across
// runs of a scan definition:
//
//	hash := finding.Hash(assetName, findingType, title)
//
// # Severity Levels
//
// Severity is ordered info < low < medium < high < critical. ParseSeverity
// accepts the spellings scanners emit ("Moderate", "informational", ...).
//
// # Statuses
//
// new, ack and confirmed findings are open and count against their asset's
// risk; mitigated, patched, closed and false-positive findings do not.
//
// # Forms, Comparison and Export
//
// Form carries the user-editable fields and reports which of them an edit
// changed. Diff lists differing fields between two findings. Export writes a
// listing as JSON or CSV.
package finding
