// Package search turns list requests into finding filters: query-string
// parameters, an optional CEL expression and page selection.
//
//	GET /findings?_severity=high,critical&_status=new&q=cvss >= 7.0&n=20&page=2
package search

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/D-E-N/PatrowlManager/finding"
)

// DefaultPageSize is used when the n parameter is absent or invalid.
const DefaultPageSize = 50

// MaxPageSize caps the n parameter.
const MaxPageSize = 1000

// Query is a parsed list request.
type Query struct {
	Filter   finding.Filter
	Expr     string
	Sort     Order
	PageSize int
	Page     string
}

// ParseQuery reads list parameters:
//
//	_title, _asset_name      substring match
//	_severity, _status       comma separated values
//	_type, _engine           exact (case-insensitive) match
//	_tag                     comma separated, any matches
//	q                        CEL expression
//	_sort                    created (default), severity or asset
//	n, page                  pagination
//
// An invalid severity, status or sort order is a validation error. Pagination values are
// never an error: they are normalized by Paginate.
func ParseQuery(v url.Values) (Query, error) {
	q := Query{
		Filter: finding.Filter{
			Title:      strings.TrimSpace(v.Get("_title")),
			Type:       strings.TrimSpace(v.Get("_type")),
			AssetName:  strings.TrimSpace(v.Get("_asset_name")),
			EngineType: strings.TrimSpace(v.Get("_engine")),
			Tags:       splitList(v.Get("_tag")),
		},
		Expr:     strings.TrimSpace(v.Get("q")),
		PageSize: DefaultPageSize,
		Page:     v.Get("page"),
	}

	for _, s := range splitList(v.Get("_severity")) {
		sev, err := finding.ParseSeverity(s)
		if err != nil {
			return Query{}, err
		}
		q.Filter.Severities = append(q.Filter.Severities, sev)
	}

	for _, s := range splitList(v.Get("_status")) {
		st, err := finding.ParseStatus(s)
		if err != nil {
			return Query{}, err
		}
		q.Filter.Statuses = append(q.Filter.Statuses, st)
	}

	order, err := ParseOrder(v.Get("_sort"))
	if err != nil {
		return Query{}, err
	}
	q.Sort = order

	if n, err := strconv.Atoi(v.Get("n")); err == nil && n > 0 {
		q.PageSize = min(n, MaxPageSize)
	}

	return q, nil
}

// Apply returns the findings matching the query's filter and expression in
// the query's sort order. The input order breaks ties.
func Apply(ctx context.Context, findings []*finding.Finding, q Query) ([]*finding.Finding, error) {
	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}

	var expr *Expression
	if q.Expr != "" {
		var err error
		expr, err = Compile(q.Expr)
		if err != nil {
			return nil, err
		}
	}

	out := make([]*finding.Finding, 0, len(findings))
	for _, f := range findings {
		if !q.Filter.Matches(f) {
			continue
		}
		if expr != nil {
			ok, err := expr.Match(ctx, f)
			if err != nil {
				return nil, fmt.Errorf("evaluate %q on finding %s: %w", q.Expr, f.ID, err)
			}
			if !ok {
				continue
			}
		}
		out = append(out, f)
	}
	q.Sort.Sort(out)
	return out, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
