package finding

import "reflect"

// FieldDiff describes one field whose value differs between two findings.
type FieldDiff struct {
	Field string `json:"field"`
	A     any    `json:"a"`
	B     any    `json:"b"`
}

// comparedFields lists the fields shown side by side when comparing findings,
// in display order.
var comparedFields = []struct {
	name string
	get  func(*Finding) any
}{
	{"title", func(f *Finding) any { return f.Title }},
	{"description", func(f *Finding) any { return f.Description }},
	{"severity", func(f *Finding) any { return f.Severity }},
	{"status", func(f *Finding) any { return f.Status }},
	{"type", func(f *Finding) any { return f.Type }},
	{"confidence", func(f *Finding) any { return f.Confidence }},
	{"solution", func(f *Finding) any { return f.Solution }},
	{"risk_info", func(f *Finding) any { return f.RiskInfo }},
	{"vuln_refs", func(f *Finding) any { return f.VulnRefs }},
	{"links", func(f *Finding) any { return f.Links }},
	{"tags", func(f *Finding) any { return f.Tags }},
	{"comments", func(f *Finding) any { return f.Comments }},
	{"asset_name", func(f *Finding) any { return f.AssetName }},
	{"engine_type", func(f *Finding) any { return f.EngineType }},
	{"scan_id", func(f *Finding) any { return f.ScanID }},
	{"hash", func(f *Finding) any { return f.Hash }},
}

// Diff returns the compared fields whose values differ between a and b.
// Nil and empty collections are considered equal.
func Diff(a, b *Finding) []FieldDiff {
	var diffs []FieldDiff
	for _, field := range comparedFields {
		va, vb := field.get(a), field.get(b)
		if equalValues(va, vb) {
			continue
		}
		diffs = append(diffs, FieldDiff{Field: field.name, A: va, B: vb})
	}
	return diffs
}

func equalValues(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.Slice || ra.Kind() == reflect.Map {
		if ra.Len() == 0 && rb.Len() == 0 {
			return true
		}
	}
	return reflect.DeepEqual(a, b)
}
