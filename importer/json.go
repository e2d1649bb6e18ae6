package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/D-E-N/PatrowlManager/finding"
)

// jsonFinding is one element of a native findings report:
//
//	[{"asset": "www.example.com", "title": "Reflected XSS", "type": "web",
//	  "severity": "high", "cvss_base_score": 7.1, "tags": ["web"]}]
type jsonFinding struct {
	Asset         string              `json:"asset"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	Type          string              `json:"type"`
	Severity      string              `json:"severity"`
	Confidence    string              `json:"confidence"`
	Solution      string              `json:"solution"`
	CVSSBaseScore float64             `json:"cvss_base_score"`
	PublishedAt   string              `json:"vuln_publication_date"`
	VulnRefs      map[string][]string `json:"vuln_refs"`
	Links         []string            `json:"links"`
	Tags          []string            `json:"tags"`
	Raw           map[string]any      `json:"raw"`
}

type jsonParser struct{}

func (jsonParser) Engine() string { return "json" }

func (jsonParser) Parse(r io.Reader) ([]Record, error) {
	var items []jsonFinding
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode json findings: %w", err)
	}

	records := make([]Record, 0, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.Asset) == "" || strings.TrimSpace(it.Title) == "" {
			return nil, fmt.Errorf("finding %d: asset and title are required", i)
		}
		sev, err := finding.ParseSeverity(it.Severity)
		if err != nil {
			return nil, fmt.Errorf("finding %d: %w", i, err)
		}
		conf := finding.Confidence(strings.ToLower(it.Confidence))
		if conf != "" && !conf.IsValid() {
			return nil, fmt.Errorf("finding %d: invalid confidence %q", i, it.Confidence)
		}
		if it.CVSSBaseScore < 0 || it.CVSSBaseScore > 10 {
			return nil, fmt.Errorf("finding %d: cvss_base_score %.1f out of range", i, it.CVSSBaseScore)
		}

		records = append(records, Record{
			AssetValue:  strings.TrimSpace(it.Asset),
			Title:       strings.TrimSpace(it.Title),
			Description: it.Description,
			Type:        it.Type,
			Severity:    sev,
			Confidence:  conf,
			Solution:    it.Solution,
			CVSS:        it.CVSSBaseScore,
			PublishedAt: it.PublishedAt,
			VulnRefs:    it.VulnRefs,
			Links:       it.Links,
			Tags:        it.Tags,
			RawData:     it.Raw,
		})
	}
	return records, nil
}
