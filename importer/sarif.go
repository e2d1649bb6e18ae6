package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/D-E-N/PatrowlManager/finding"
)

type sarifLog struct {
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool                     sarifTool                   `json:"tool"`
	Results                  []sarifResult               `json:"results"`
	VersionControlProvenance []sarifVersionControl       `json:"versionControlProvenance"`
	OriginalURIBaseIDs       map[string]sarifArtifactLoc `json:"originalUriBaseIds"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name  string      `json:"name"`
	Rules []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	ShortDescription sarifMessage `json:"shortDescription"`
	HelpURI          string       `json:"helpUri"`
	Help             sarifMessage `json:"help"`
}

type sarifVersionControl struct {
	RepositoryURI string `json:"repositoryUri"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation struct {
		ArtifactLocation sarifArtifactLoc `json:"artifactLocation"`
		Region           struct {
			StartLine int `json:"startLine"`
		} `json:"region"`
	} `json:"physicalLocation"`
}

type sarifArtifactLoc struct {
	URI string `json:"uri"`
}

type sarifParser struct{}

func (sarifParser) Engine() string { return "sarif" }

// Parse reads a SARIF 2.1.0 log. The asset of a run is its repository, then
// its SRCROOT base, then the tool name. A result is identified by its rule
// and location.
func (sarifParser) Parse(r io.Reader) ([]Record, error) {
	var log sarifLog
	if err := json.NewDecoder(r).Decode(&log); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sarif log: %w", err)
	}
	if log.Version != "" && log.Version != "2.1.0" {
		return nil, fmt.Errorf("unsupported sarif version %q", log.Version)
	}

	var records []Record
	for _, run := range log.Runs {
		assetValue := sarifAsset(run)
		tool := strings.ToLower(run.Tool.Driver.Name)

		rules := make(map[string]sarifRule, len(run.Tool.Driver.Rules))
		for _, rule := range run.Tool.Driver.Rules {
			rules[rule.ID] = rule
		}

		for _, res := range run.Results {
			if res.RuleID == "" {
				continue
			}
			rule := rules[res.RuleID]

			title := res.RuleID
			location := ""
			if len(res.Locations) > 0 {
				loc := res.Locations[0].PhysicalLocation
				location = loc.ArtifactLocation.URI
				if loc.Region.StartLine > 0 {
					location += ":" + strconv.Itoa(loc.Region.StartLine)
				}
			}
			if location != "" {
				title = fmt.Sprintf("%s at %s", res.RuleID, location)
			}

			rec := Record{
				AssetValue:  assetValue,
				Title:       title,
				Description: res.Message.Text,
				Type:        "code",
				Severity:    sarifSeverity(res.Level),
				Solution:    rule.Help.Text,
				Tags:        []string{"sarif"},
				RawData: map[string]any{
					"rule_id":  res.RuleID,
					"level":    res.Level,
					"location": location,
				},
			}
			if tool != "" {
				rec.Tags = append(rec.Tags, tool)
			}
			if rule.ShortDescription.Text != "" {
				rec.Description = rule.ShortDescription.Text + "\n\n" + res.Message.Text
			}
			if rule.HelpURI != "" {
				rec.Links = []string{rule.HelpURI}
			}
			records = append(records, rec)
		}
	}

	return records, nil
}

func sarifAsset(run sarifRun) string {
	for _, vc := range run.VersionControlProvenance {
		if vc.RepositoryURI != "" {
			return vc.RepositoryURI
		}
	}
	if root, ok := run.OriginalURIBaseIDs["SRCROOT"]; ok && root.URI != "" {
		return root.URI
	}
	if run.Tool.Driver.Name != "" {
		return run.Tool.Driver.Name
	}
	return "sarif"
}

// sarifSeverity maps result levels; an absent level means warning.
func sarifSeverity(level string) finding.Severity {
	switch strings.ToLower(level) {
	case "error":
		return finding.SeverityHigh
	case "", "warning":
		return finding.SeverityMedium
	case "note":
		return finding.SeverityLow
	default:
		return finding.SeverityInfo
	}
}
