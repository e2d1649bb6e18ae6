package finding

import (
	"testing"
	"time"
)

func TestNewFinding(t *testing.T) {
	before := time.Now()
	f := NewFinding("user-1", "asset-1", "example.com", "Open port 22", "port", SeverityLow)
	after := time.Now()

	if f.ID == "" {
		t.Error("NewFinding() ID is empty, want auto-generated UUID")
	}
	if f.Status != StatusNew {
		t.Errorf("NewFinding() Status = %v, want %v", f.Status, StatusNew)
	}
	if f.AssetName != "example.com" {
		t.Errorf("NewFinding() AssetName = %v, want example.com", f.AssetName)
	}
	if f.Hash != Hash("example.com", "port", "Open port 22") {
		t.Errorf("NewFinding() Hash = %v, want content hash", f.Hash)
	}
	if f.CreatedAt.Before(before) || f.CreatedAt.After(after) {
		t.Error("NewFinding() CreatedAt not in expected range")
	}
	if !f.IsManual() {
		t.Error("NewFinding() without engine should be manual")
	}
}

func TestNewRawFinding(t *testing.T) {
	r := NewRawFinding("scan-1", "NMAP", "user-1", "asset-1", "example.com", "Open port 22", "port", SeverityLow)
	if r.ScanID != "scan-1" {
		t.Errorf("ScanID = %v, want scan-1", r.ScanID)
	}
	if r.IsManual() {
		t.Error("raw finding from NMAP reported as manual")
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	r.ScanID = ""
	if err := r.Validate(); err == nil {
		t.Error("Validate() without scan ID error = nil, want error")
	}
}

func TestHash(t *testing.T) {
	a := Hash("example.com", "vuln", "XSS")
	if len(a) != 32 {
		t.Errorf("Hash() length = %d, want 32 hex chars", len(a))
	}
	if a != Hash("example.com", "vuln", "XSS") {
		t.Error("Hash() is not deterministic")
	}
	if a == Hash("example.org", "vuln", "XSS") {
		t.Error("Hash() equal for different asset names")
	}
	// field boundaries matter
	if Hash("ab", "c", "d") == Hash("a", "bc", "d") {
		t.Error("Hash() ignores field boundaries")
	}
}

func TestIsManual(t *testing.T) {
	tests := []struct {
		engine string
		want   bool
	}{
		{"", true},
		{"MANUAL", true},
		{"manual", true},
		{"NESSUS", false},
		{"trivy", false},
	}
	for _, tt := range tests {
		f := &Finding{EngineType: tt.engine}
		if got := f.IsManual(); got != tt.want {
			t.Errorf("IsManual(%q) = %v, want %v", tt.engine, got, tt.want)
		}
	}
}

func TestFinding_Validate(t *testing.T) {
	valid := func() *Finding {
		return NewFinding("u", "a", "example.com", "Title", "vuln", SeverityHigh)
	}

	tests := []struct {
		name    string
		mutate  func(*Finding)
		wantErr bool
	}{
		{"valid finding", func(*Finding) {}, false},
		{"missing ID", func(f *Finding) { f.ID = "" }, true},
		{"missing title", func(f *Finding) { f.Title = "" }, true},
		{"invalid severity", func(f *Finding) { f.Severity = "severe" }, true},
		{"invalid status", func(f *Finding) { f.Status = "open" }, true},
		{"invalid confidence", func(f *Finding) { f.Confidence = "sure" }, true},
		{"cvss too high", func(f *Finding) { f.RiskInfo.CVSSBaseScore = 10.1 }, true},
		{"missing asset name", func(f *Finding) { f.AssetName = "" }, true},
		{"zero created_at", func(f *Finding) { f.CreatedAt = time.Time{} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid()
			tt.mutate(f)
			if err := f.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFinding_Clone(t *testing.T) {
	f := NewFinding("u", "a", "example.com", "Title", "vuln", SeverityHigh)
	f.Tags = []string{"web"}
	f.VulnRefs = map[string][]string{"CVE": {"CVE-2024-0001"}}

	c := f.Clone()
	c.Tags[0] = "changed"
	c.VulnRefs["CVE"][0] = "changed"

	if f.Tags[0] != "web" {
		t.Error("Clone() shares Tags with the original")
	}
	if f.VulnRefs["CVE"][0] != "CVE-2024-0001" {
		t.Error("Clone() shares VulnRefs with the original")
	}
}

func TestFilter_Matches(t *testing.T) {
	f := NewFinding("u1", "a1", "shop.example.com", "SQL Injection", "vuln", SeverityCritical)
	f.EngineType = "ARACHNI"
	f.Tags = []string{"web", "pci"}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"title substring", Filter{Title: "injection"}, true},
		{"title mismatch", Filter{Title: "xss"}, false},
		{"severity match", Filter{Severities: []Severity{SeverityHigh, SeverityCritical}}, true},
		{"severity mismatch", Filter{Severities: []Severity{SeverityLow}}, false},
		{"status match", Filter{Statuses: []Status{StatusNew}}, true},
		{"status mismatch", Filter{Statuses: []Status{StatusClosed}}, false},
		{"asset name", Filter{AssetName: "example"}, true},
		{"engine case-insensitive", Filter{EngineType: "arachni"}, true},
		{"tag match", Filter{Tags: []string{"pci"}}, true},
		{"tag mismatch", Filter{Tags: []string{"infra"}}, false},
		{"created after", Filter{CreatedAfter: f.CreatedAt.Add(time.Hour)}, false},
		{"owner mismatch", Filter{OwnerID: "u2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(f); got != tt.want {
				t.Errorf("Filter.Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_Validate(t *testing.T) {
	now := time.Now()
	if err := (&Filter{Severities: []Severity{"bad"}}).Validate(); err == nil {
		t.Error("Validate() with invalid severity error = nil")
	}
	if err := (&Filter{CreatedAfter: now, CreatedBefore: now.Add(-time.Hour)}).Validate(); err == nil {
		t.Error("Validate() with inverted range error = nil")
	}
	if err := (&Filter{Statuses: []Status{StatusAck}}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
