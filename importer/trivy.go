package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/D-E-N/PatrowlManager/finding"
)

type trivyReport struct {
	ArtifactName string        `json:"ArtifactName"`
	Results      []trivyResult `json:"Results"`
}

type trivyResult struct {
	Target          string               `json:"Target"`
	Class           string               `json:"Class"`
	Type            string               `json:"Type"`
	Vulnerabilities []trivyVulnerability `json:"Vulnerabilities"`
}

type trivyVulnerability struct {
	VulnerabilityID  string               `json:"VulnerabilityID"`
	PkgName          string               `json:"PkgName"`
	InstalledVersion string               `json:"InstalledVersion"`
	FixedVersion     string               `json:"FixedVersion"`
	Title            string               `json:"Title"`
	Description      string               `json:"Description"`
	Severity         string               `json:"Severity"`
	PrimaryURL       string               `json:"PrimaryURL"`
	References       []string             `json:"References"`
	CweIDs           []string             `json:"CweIDs"`
	CVSS             map[string]trivyCVSS `json:"CVSS"`
	PublishedDate    *time.Time           `json:"PublishedDate"`
}

type trivyCVSS struct {
	V2Score float64 `json:"V2Score"`
	V3Score float64 `json:"V3Score"`
}

type trivyParser struct{}

func (trivyParser) Engine() string { return "trivy" }

// Parse reads a Trivy JSON report. The asset is the report's artifact, or
// the result target when the report has none. A vulnerability is identified
// by its id and package so the same CVE in two packages stays two findings.
func (trivyParser) Parse(r io.Reader) ([]Record, error) {
	var report trivyReport
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trivy json: %w", err)
	}

	var records []Record
	for _, result := range report.Results {
		assetValue := report.ArtifactName
		if assetValue == "" {
			assetValue = result.Target
		}
		if assetValue == "" {
			return nil, fmt.Errorf("trivy result has neither artifact name nor target")
		}

		for _, v := range result.Vulnerabilities {
			if v.VulnerabilityID == "" {
				continue
			}

			description := v.Description
			if v.Title != "" {
				description = v.Title + "\n\n" + v.Description
			}

			links := make([]string, 0, len(v.References)+1)
			if v.PrimaryURL != "" {
				links = append(links, v.PrimaryURL)
			}
			for _, ref := range v.References {
				if ref != v.PrimaryURL {
					links = append(links, ref)
				}
			}

			rec := Record{
				AssetValue:  assetValue,
				Title:       fmt.Sprintf("%s in %s", v.VulnerabilityID, v.PkgName),
				Description: strings.TrimSpace(description),
				Type:        "vulnerability",
				Severity:    severityOrInfo(v.Severity),
				CVSS:        trivyScore(v.CVSS),
				VulnRefs:    trivyRefs(v),
				Links:       links,
				Tags:        []string{"trivy"},
				RawData: map[string]any{
					"target":            result.Target,
					"package":           v.PkgName,
					"installed_version": v.InstalledVersion,
					"fixed_version":     v.FixedVersion,
				},
			}
			if result.Type != "" {
				rec.Tags = append(rec.Tags, result.Type)
			}
			if v.FixedVersion != "" {
				rec.Solution = fmt.Sprintf("Upgrade %s to %s", v.PkgName, v.FixedVersion)
			}
			if v.PublishedDate != nil {
				rec.PublishedAt = v.PublishedDate.Format(finding.PublicationDateLayout)
			}
			records = append(records, rec)
		}
	}

	return records, nil
}

// trivyScore prefers the NVD v3 score, then the highest v3 score of any
// source, then the highest v2 score.
func trivyScore(scores map[string]trivyCVSS) float64 {
	if s, ok := scores["nvd"]; ok && s.V3Score > 0 {
		return s.V3Score
	}
	var v3, v2 float64
	for _, s := range scores {
		v3 = max(v3, s.V3Score)
		v2 = max(v2, s.V2Score)
	}
	if v3 > 0 {
		return v3
	}
	return v2
}

func trivyRefs(v trivyVulnerability) map[string][]string {
	refs := map[string][]string{}
	id := strings.ToUpper(v.VulnerabilityID)
	switch {
	case strings.HasPrefix(id, "CVE-"):
		refs["CVE"] = []string{v.VulnerabilityID}
	case strings.HasPrefix(id, "GHSA-"):
		refs["GHSA"] = []string{v.VulnerabilityID}
	default:
		refs["OTHER"] = []string{v.VulnerabilityID}
	}
	if len(v.CweIDs) > 0 {
		refs["CWE"] = append([]string(nil), v.CweIDs...)
	}
	return refs
}
