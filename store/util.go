package store

import (
	"sort"

	patrowl "github.com/D-E-N/PatrowlManager"
	"github.com/D-E-N/PatrowlManager/asset"
	"github.com/D-E-N/PatrowlManager/finding"
)

func findingNotFound(op, id string) error {
	return patrowl.NewNotFoundError(op, patrowl.ErrFindingNotFound).
		WithContext(map[string]any{"finding_id": id})
}

func rawFindingNotFound(op, id string) error {
	return patrowl.NewNotFoundError(op, patrowl.ErrRawFindingNotFound).
		WithContext(map[string]any{"raw_finding_id": id})
}

func scanNotFound(op, id string) error {
	return patrowl.NewNotFoundError(op, patrowl.ErrScanNotFound).
		WithContext(map[string]any{"scan_id": id})
}

func assetNotFound(op, id string) error {
	return patrowl.NewNotFoundError(op, patrowl.ErrAssetNotFound).
		WithContext(map[string]any{"asset_id": id})
}

func cloneRaw(r *finding.RawFinding) *finding.RawFinding {
	return &finding.RawFinding{Finding: *r.Finding.Clone()}
}

func cloneAsset(a *asset.Asset) *asset.Asset {
	c := *a
	if a.Risk.Counts != nil {
		c.Risk.Counts = make(map[finding.Severity]int, len(a.Risk.Counts))
		for k, v := range a.Risk.Counts {
			c.Risk.Counts[k] = v
		}
	}
	return &c
}

// sortFindings orders findings by creation time, then id.
func sortFindings(fs []*finding.Finding) {
	sort.Slice(fs, func(i, j int) bool {
		if !fs[i].CreatedAt.Equal(fs[j].CreatedAt) {
			return fs[i].CreatedAt.Before(fs[j].CreatedAt)
		}
		return fs[i].ID < fs[j].ID
	})
}
