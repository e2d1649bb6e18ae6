package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/D-E-N/PatrowlManager/finding"
)

// SortByAsset orders findings by asset name, severity (most severe first),
// status, then type. Ties keep their input order.
func SortByAsset(findings []*finding.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.AssetName != b.AssetName {
			return a.AssetName < b.AssetName
		}
		if c := finding.CompareSeverity(a.Severity, b.Severity); c != 0 {
			return c > 0
		}
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		return a.Type < b.Type
	})
}

// SortBySeverity orders findings most severe first, newest first within a
// severity.
func SortBySeverity(findings []*finding.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if c := finding.CompareSeverity(a.Severity, b.Severity); c != 0 {
			return c > 0
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

// Order is a listing order, selected by the _sort parameter.
type Order string

const (
	// OrderCreated keeps the store order, oldest first.
	OrderCreated  Order = "created"
	OrderSeverity Order = "severity"
	OrderAsset    Order = "asset"
)

// ParseOrder reads a _sort value. Empty selects OrderCreated.
func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderCreated, nil
	case OrderCreated, OrderSeverity, OrderAsset:
		return o, nil
	default:
		return "", fmt.Errorf("unknown sort order %q", s)
	}
}

// Sort orders findings in place.
func (o Order) Sort(findings []*finding.Finding) {
	switch o {
	case OrderSeverity:
		SortBySeverity(findings)
	case OrderAsset:
		SortByAsset(findings)
	}
}
