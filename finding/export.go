package finding

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ExportFormat represents the format for exporting findings.
type ExportFormat string

const (
	// FormatJSON exports findings as a JSON array.
	FormatJSON ExportFormat = "json"

	// FormatCSV exports findings as comma-separated values.
	FormatCSV ExportFormat = "csv"
)

// IsValid returns true if the export format is valid.
func (f ExportFormat) IsValid() bool {
	switch f {
	case FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// String returns the string representation of the export format.
func (f ExportFormat) String() string {
	return string(f)
}

// FileExtension returns the file extension for the export format.
func (f ExportFormat) FileExtension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatCSV:
		return ".csv"
	default:
		return ""
	}
}

// MimeType returns the MIME type for the export format.
func (f ExportFormat) MimeType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// ParseExportFormat parses a string into an ExportFormat value.
// An empty string selects JSON.
func ParseExportFormat(s string) (ExportFormat, error) {
	if s == "" {
		return FormatJSON, nil
	}
	format := ExportFormat(strings.ToLower(s))
	if !format.IsValid() {
		return "", fmt.Errorf("invalid export format: %s", s)
	}
	return format, nil
}

// csvHeader is the column order of CSV exports.
var csvHeader = []string{
	"id", "asset_name", "title", "severity", "status", "type", "confidence",
	"engine_type", "cvss_base_score", "tags", "hash", "created_at", "updated_at",
}

// Export writes findings to w in the given format.
func Export(w io.Writer, format ExportFormat, findings []*Finding) error {
	switch format {
	case FormatJSON:
		if findings == nil {
			findings = []*Finding{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(findings)
	case FormatCSV:
		return exportCSV(w, findings)
	default:
		return fmt.Errorf("invalid export format: %s", format)
	}
}

func exportCSV(w io.Writer, findings []*Finding) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, f := range findings {
		record := []string{
			f.ID,
			f.AssetName,
			f.Title,
			string(f.Severity),
			string(f.Status),
			f.Type,
			string(f.Confidence),
			f.EngineType,
			strconv.FormatFloat(f.RiskInfo.CVSSBaseScore, 'f', 1, 64),
			strings.Join(f.Tags, ";"),
			f.Hash,
			f.CreatedAt.UTC().Format(time.RFC3339),
			f.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
