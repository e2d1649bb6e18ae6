package asset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/D-E-N/PatrowlManager/finding"
)

// Repository is the storage the Grader reads findings from and writes
// grades to.
type Repository interface {
	GetAsset(ctx context.Context, id string) (*Asset, error)
	UpdateAsset(ctx context.Context, a *Asset) error
	ListFindingsForAsset(ctx context.Context, assetID string) ([]*finding.Finding, error)
}

// Grader is the default RiskEvaluator. It counts the asset's open findings
// per severity and assigns a letter grade from A (nothing open) to F.
type Grader struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewGrader creates a Grader over repo. A nil logger uses slog.Default().
func NewGrader(repo Repository, logger *slog.Logger) *Grader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grader{repo: repo, logger: logger, now: time.Now}
}

// EvaluateRisk recomputes and stores the risk of assetID.
func (g *Grader) EvaluateRisk(ctx context.Context, assetID string) error {
	a, err := g.repo.GetAsset(ctx, assetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}

	findings, err := g.repo.ListFindingsForAsset(ctx, assetID)
	if err != nil {
		return fmt.Errorf("list findings: %w", err)
	}

	a.Risk = Evaluate(findings)
	a.Risk.EvaluatedAt = g.now()
	a.UpdatedAt = a.Risk.EvaluatedAt

	if err := g.repo.UpdateAsset(ctx, a); err != nil {
		return fmt.Errorf("store asset risk: %w", err)
	}

	g.logger.Debug("asset risk evaluated",
		"asset_id", assetID,
		"grade", a.Risk.Grade,
		"open_findings", a.Risk.Total)
	return nil
}

// Evaluate computes the risk of a set of findings. Only open findings count.
func Evaluate(findings []*finding.Finding) Risk {
	r := Risk{Counts: make(map[finding.Severity]int, 5)}
	for _, f := range findings {
		if !f.Status.IsOpen() {
			continue
		}
		r.Counts[f.Severity]++
		r.Total++
		r.Score += f.Severity.Weight()
	}
	r.Grade = grade(r.Counts)
	return r
}

func grade(counts map[finding.Severity]int) string {
	switch {
	case counts[finding.SeverityCritical] > 0:
		return "F"
	case counts[finding.SeverityHigh] >= 3:
		return "E"
	case counts[finding.SeverityHigh] > 0:
		return "D"
	case counts[finding.SeverityMedium] > 0:
		return "C"
	case counts[finding.SeverityLow] > 0:
		return "B"
	default:
		return "A"
	}
}
