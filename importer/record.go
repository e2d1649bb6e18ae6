package importer

import (
	"fmt"
	"io"
	"sort"
	"strings"

	patrowl "github.com/D-E-N/PatrowlManager"
	"github.com/D-E-N/PatrowlManager/asset"
	"github.com/D-E-N/PatrowlManager/finding"
	"github.com/D-E-N/PatrowlManager/scan"
)

// Record is one issue read from a scanner report, before it is attached to
// an asset and a scan.
type Record struct {
	// AssetValue identifies the scanned target (host, image, repository).
	AssetValue  string
	Title       string
	Description string
	Type        string
	Severity    finding.Severity
	Confidence  finding.Confidence
	Solution    string
	CVSS        float64
	PublishedAt string
	VulnRefs    map[string][]string
	Links       []string
	Tags        []string
	RawData     map[string]any
}

// Parser reads the records of one report format.
type Parser interface {
	// Engine is the import form's engine value for this format.
	Engine() string
	Parse(r io.Reader) ([]Record, error)
}

var parsers = map[string]Parser{}

func register(p Parser) {
	parsers[p.Engine()] = p
}

func init() {
	register(jsonParser{})
	register(trivyParser{})
	register(sarifParser{})
}

// ParserFor returns the parser of an engine. Unknown engines are a
// validation error wrapping patrowl.ErrUnsupportedEngine.
func ParserFor(engine string) (Parser, error) {
	p, ok := parsers[strings.ToLower(strings.TrimSpace(engine))]
	if !ok {
		return nil, patrowl.NewValidationError("importer.ParserFor",
			fmt.Errorf("%w: %q", patrowl.ErrUnsupportedEngine, engine))
	}
	return p, nil
}

// Engines lists the supported engine names in sorted order.
func Engines() []string {
	names := make([]string, 0, len(parsers))
	for name := range parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// rawFinding builds the per-scan raw finding of a record.
func (rec *Record) rawFinding(s *scan.Scan, a *asset.Asset) *finding.RawFinding {
	findingType := rec.Type
	if findingType == "" {
		findingType = "vulnerability"
	}

	raw := finding.NewRawFinding(s.ID, s.EngineType, s.OwnerID, a.ID, a.Name, rec.Title, findingType, rec.Severity)
	raw.Description = rec.Description
	raw.Confidence = rec.Confidence
	if raw.Confidence == "" {
		raw.Confidence = finding.ConfidenceFirm
	}
	raw.Solution = rec.Solution
	raw.RiskInfo = finding.RiskInfo{
		CVSSBaseScore:       rec.CVSS,
		VulnPublicationDate: rec.PublishedAt,
	}
	raw.VulnRefs = rec.VulnRefs
	raw.Links = rec.Links
	raw.Tags = rec.Tags
	raw.RawData = rec.RawData
	raw.CreatedAt = s.CreatedAt
	raw.UpdatedAt = s.CreatedAt
	raw.ApplyDefaultRiskInfo(s.CreatedAt)
	return raw
}

// severityOrInfo maps scanner severities onto ours. Values we do not know,
// such as Trivy's UNKNOWN, become info.
func severityOrInfo(s string) finding.Severity {
	sev, err := finding.ParseSeverity(s)
	if err != nil {
		return finding.SeverityInfo
	}
	return sev
}
