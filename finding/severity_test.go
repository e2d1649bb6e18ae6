package finding

import (
	"strings"
	"testing"
)

func TestSeverity_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		severity Severity
		want     bool
	}{
		{"critical is valid", SeverityCritical, true},
		{"high is valid", SeverityHigh, true},
		{"medium is valid", SeverityMedium, true},
		{"low is valid", SeverityLow, true},
		{"info is valid", SeverityInfo, true},
		{"empty is invalid", Severity(""), false},
		{"uppercase is invalid", Severity("HIGH"), false},
		{"moderate is not a stored level", Severity("moderate"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.severity.IsValid(); got != tt.want {
				t.Errorf("Severity.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeverity_Ordering(t *testing.T) {
	ordered := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if CompareSeverity(ordered[i-1], ordered[i]) >= 0 {
			t.Errorf("CompareSeverity(%s, %s) >= 0, want < 0", ordered[i-1], ordered[i])
		}
		if !ordered[i].AtLeast(ordered[i-1]) {
			t.Errorf("%s.AtLeast(%s) = false, want true", ordered[i], ordered[i-1])
		}
		if ordered[i-1].AtLeast(ordered[i]) {
			t.Errorf("%s.AtLeast(%s) = true, want false", ordered[i-1], ordered[i])
		}
	}

	if got := Severity("bogus").Rank(); got != 0 {
		t.Errorf("invalid Rank() = %d, want 0", got)
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input   string
		want    Severity
		wantErr bool
	}{
		{"critical", SeverityCritical, false},
		{"High", SeverityHigh, false},
		{" MEDIUM ", SeverityMedium, false},
		{"Moderate", SeverityMedium, false},
		{"low", SeverityLow, false},
		{"informational", SeverityInfo, false},
		{"none", SeverityInfo, false},
		{"urgent", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSeverity(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSeverity(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSeverity(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestAllSeverities(t *testing.T) {
	all := AllSeverities()
	if len(all) != 5 {
		t.Fatalf("AllSeverities() returned %d items, want 5", len(all))
	}
	if all[0] != SeverityCritical || all[4] != SeverityInfo {
		t.Errorf("AllSeverities() order = %v, want critical first and info last", all)
	}
	for _, s := range all {
		if s.Weight() <= 0 {
			t.Errorf("%s.Weight() = %v, want > 0", s, s.Weight())
		}
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		status Status
		valid  bool
		open   bool
	}{
		{StatusNew, true, true},
		{StatusAck, true, true},
		{StatusConfirmed, true, true},
		{StatusMitigated, true, false},
		{StatusPatched, true, false},
		{StatusClosed, true, false},
		{StatusFalsePositive, true, false},
		{Status("open"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsValid(); got != tt.valid {
				t.Errorf("Status.IsValid() = %v, want %v", got, tt.valid)
			}
			if got := tt.status.IsOpen(); got != tt.open {
				t.Errorf("Status.IsOpen() = %v, want %v", got, tt.open)
			}
		})
	}

	if _, err := ParseStatus("resolved"); err == nil {
		t.Error("ParseStatus(\"resolved\") error = nil, want error")
	}
	if got := StatusFalsePositive.DisplayName(); got != "False Positive" {
		t.Errorf("DisplayName() = %q, want %q", got, "False Positive")
	}
}

func TestParse_ErrorListsValidValues(t *testing.T) {
	if _, err := ParseSeverity("severe"); err == nil || !strings.Contains(err.Error(), "[critical high medium low info]") {
		t.Errorf("ParseSeverity() error = %v, want the valid levels listed", err)
	}
	if _, err := ParseStatus("open"); err == nil || !strings.Contains(err.Error(), "ack") || !strings.Contains(err.Error(), "false-positive") {
		t.Errorf("ParseStatus() error = %v, want the valid statuses listed", err)
	}
}
