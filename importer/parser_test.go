package importer

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	patrowl "github.com/D-E-N/PatrowlManager"
	"github.com/D-E-N/PatrowlManager/finding"
)

func parseFile(t *testing.T, engine, path string) []Record {
	t.Helper()

	p, err := ParserFor(engine)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := p.Parse(f)
	require.NoError(t, err)
	return records
}

func TestParserFor(t *testing.T) {
	assert.Equal(t, []string{"json", "sarif", "trivy"}, Engines())

	p, err := ParserFor(" Trivy ")
	require.NoError(t, err)
	assert.Equal(t, "trivy", p.Engine())

	_, err = ParserFor("nessus")
	require.Error(t, err)
	assert.True(t, patrowl.IsValidation(err))
	assert.True(t, errors.Is(err, patrowl.ErrUnsupportedEngine))
}

func TestJSONParser(t *testing.T) {
	records := parseFile(t, "json", "testdata/findings.json")
	require.Len(t, records, 3)

	xss := records[0]
	assert.Equal(t, "www.example.com", xss.AssetValue)
	assert.Equal(t, "Reflected XSS in search", xss.Title)
	assert.Equal(t, finding.SeverityHigh, xss.Severity)
	assert.Equal(t, finding.ConfidenceFirm, xss.Confidence)
	assert.Equal(t, 7.1, xss.CVSS)
	assert.Equal(t, "2023/04/12", xss.PublishedAt)

	db := records[2]
	assert.Equal(t, finding.SeverityCritical, db.Severity)
	assert.Equal(t, map[string][]string{"CWE": {"CWE-284"}}, db.VulnRefs)
	assert.Equal(t, float64(5432), db.RawData["port"])
}

func TestJSONParser_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not a list", `{"title": "x"}`},
		{"missing asset", `[{"title": "x", "severity": "low"}]`},
		{"bad severity", `[{"asset": "a", "title": "x", "severity": "severe"}]`},
		{"bad confidence", `[{"asset": "a", "title": "x", "severity": "low", "confidence": "maybe"}]`},
		{"cvss out of range", `[{"asset": "a", "title": "x", "severity": "low", "cvss_base_score": 11}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := jsonParser{}.Parse(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestTrivyParser(t *testing.T) {
	records := parseFile(t, "trivy", "testdata/trivy.json")
	require.Len(t, records, 4)

	for _, r := range records {
		assert.Equal(t, "registry.example.com/shop/api:1.4.2", r.AssetValue)
	}

	crypto := records[0]
	assert.Equal(t, "CVE-2023-5363 in libcrypto3", crypto.Title)
	assert.Equal(t, finding.SeverityHigh, crypto.Severity)
	assert.Equal(t, 7.5, crypto.CVSS)
	assert.Equal(t, "2023/10/25", crypto.PublishedAt)
	assert.Equal(t, "Upgrade libcrypto3 to 3.1.4-r0", crypto.Solution)
	assert.Equal(t, []string{"CVE-2023-5363"}, crypto.VulnRefs["CVE"])
	assert.Equal(t, []string{"CWE-325"}, crypto.VulnRefs["CWE"])
	assert.Equal(t, []string{
		"https://avd.aquasec.com/nvd/cve-2023-5363",
		"https://www.openssl.org/news/secadv/20231024.txt",
	}, crypto.Links)
	assert.Equal(t, []string{"trivy", "alpine"}, crypto.Tags)
	assert.True(t, strings.HasPrefix(crypto.Description, "openssl: Incorrect cipher key"))

	ssl := records[1]
	assert.Equal(t, "CVE-2023-5363 in libssl3", ssl.Title, "same CVE in another package is another record")
	assert.Equal(t, 7.5, ssl.CVSS)

	unknown := records[2]
	assert.Equal(t, finding.SeverityInfo, unknown.Severity)
	assert.Empty(t, unknown.Solution)

	npm := records[3]
	assert.Equal(t, []string{"GHSA-c2qf-rxjj-qqgw"}, npm.VulnRefs["GHSA"])
	assert.Equal(t, 5.3, npm.CVSS)
	assert.Equal(t, finding.SeverityMedium, npm.Severity)
}

func TestTrivyParser_TargetAsAsset(t *testing.T) {
	input := `{"Results": [{"Target": "go.sum", "Vulnerabilities": [{"VulnerabilityID": "CVE-1", "PkgName": "x", "Severity": "LOW"}]}]}`
	records, err := trivyParser{}.Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "go.sum", records[0].AssetValue)

	_, err = trivyParser{}.Parse(strings.NewReader("not json"))
	assert.Error(t, err)
}

func TestSARIFParser(t *testing.T) {
	records := parseFile(t, "sarif", "testdata/results.sarif")
	require.Len(t, records, 3)

	for _, r := range records {
		assert.Equal(t, "https://git.example.com/shop/api", r.AssetValue)
		assert.Equal(t, "code", r.Type)
	}

	creds := records[0]
	assert.Equal(t, "G101 at internal/db/conn.go:42", creds.Title)
	assert.Equal(t, finding.SeverityHigh, creds.Severity)
	assert.Equal(t, "Load credentials from the environment", creds.Solution)
	assert.Equal(t, []string{"https://securego.io/docs/rules/g101"}, creds.Links)
	assert.Equal(t, []string{"sarif", "gosec"}, creds.Tags)
	assert.Equal(t, "Look for hard coded credentials\n\nPotential hardcoded credentials", creds.Description)

	assert.Equal(t, finding.SeverityMedium, records[1].Severity, "absent level is a warning")
	assert.Equal(t, "G307", records[2].Title, "results without a location keep the rule id")
	assert.Equal(t, finding.SeverityLow, records[2].Severity)
}

func TestSARIFParser_Version(t *testing.T) {
	_, err := sarifParser{}.Parse(strings.NewReader(`{"version": "1.0.0", "runs": []}`))
	assert.Error(t, err)
}

func TestSARIFAsset(t *testing.T) {
	run := sarifRun{OriginalURIBaseIDs: map[string]sarifArtifactLoc{"SRCROOT": {URI: "file:///src/"}}}
	assert.Equal(t, "file:///src/", sarifAsset(run))

	run = sarifRun{}
	run.Tool.Driver.Name = "semgrep"
	assert.Equal(t, "semgrep", sarifAsset(run))

	assert.Equal(t, "sarif", sarifAsset(sarifRun{}))
}
