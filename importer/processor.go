package importer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	patrowl "github.com/D-E-N/PatrowlManager"
	"github.com/D-E-N/PatrowlManager/asset"
	"github.com/D-E-N/PatrowlManager/event"
	"github.com/D-E-N/PatrowlManager/finding"
	"github.com/D-E-N/PatrowlManager/scan"
)

const instrumentationName = "github.com/D-E-N/PatrowlManager/importer"

// Repository is the storage the processor writes to. store.Store satisfies it.
type Repository interface {
	GetAssetByValue(ctx context.Context, ownerID, value string) (*asset.Asset, error)
	CreateAsset(ctx context.Context, a *asset.Asset) error

	GetScanDefinition(ctx context.Context, id string) (*scan.Definition, error)
	UpsertScanDefinition(ctx context.Context, d *scan.Definition) error
	CreateScan(ctx context.Context, s *scan.Scan) error
	UpdateScan(ctx context.Context, s *scan.Scan) error

	CreateRawFinding(ctx context.Context, r *finding.RawFinding) error
	FindFindingByHash(ctx context.Context, assetID, hash string) (*finding.Finding, error)
	CreateFinding(ctx context.Context, f *finding.Finding) error
	UpdateFinding(ctx context.Context, f *finding.Finding) error

	AppendEvent(ctx context.Context, e *event.Event) error
}

// Request is one report to import.
type Request struct {
	OwnerID  string
	Engine   string
	MinLevel string
	Path     string
}

// Summary reports what an import did.
type Summary struct {
	ScanID  string
	Created int
	Updated int
	Skipped int
	// Assets are the ids of the assets whose risk was re-evaluated.
	Assets []string
}

// Processor turns stored reports into scans, raw findings and findings.
type Processor struct {
	repo    Repository
	risk    asset.RiskEvaluator
	uploads *Uploads
	logger  *slog.Logger
	tracer  trace.Tracer
	records metric.Int64Counter
}

// NewProcessor creates a processor. risk is called once per asset touched
// by an import; logger may be nil.
func NewProcessor(repo Repository, risk asset.RiskEvaluator, uploads *Uploads, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		repo:    repo,
		risk:    risk,
		uploads: uploads,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"patrowl.importer.records",
		metric.WithDescription("Report records imported, by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		logger.Warn("failed to create import counter", "error", err)
	} else {
		p.records = counter
	}
	return p
}

// Process imports the report at req.Path. Records less severe than
// req.MinLevel are skipped. All records land in one finished scan of the
// owner's import definition for the engine, so successive imports are
// siblings of each other.
func (p *Processor) Process(ctx context.Context, req Request) (Summary, error) {
	const op = "importer.Process"

	ctx, span := p.tracer.Start(ctx, "importer.Process", trace.WithAttributes(
		attribute.String("patrowl.owner_id", req.OwnerID),
		attribute.String("patrowl.engine", req.Engine),
	))
	defer span.End()

	sum, err := p.process(ctx, op, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sum, err
	}

	span.SetAttributes(
		attribute.String("patrowl.scan_id", sum.ScanID),
		attribute.Int("patrowl.created", sum.Created),
		attribute.Int("patrowl.updated", sum.Updated),
		attribute.Int("patrowl.skipped", sum.Skipped),
	)
	return sum, nil
}

func (p *Processor) process(ctx context.Context, op string, req Request) (Summary, error) {
	var sum Summary

	if req.OwnerID == "" {
		return sum, patrowl.NewValidationError(op, fmt.Errorf("%w: owner is required", patrowl.ErrInvalidForm))
	}
	parser, err := ParserFor(req.Engine)
	if err != nil {
		return sum, err
	}
	minLevel, err := parseMinLevel(req.MinLevel)
	if err != nil {
		return sum, patrowl.NewValidationError(op, err)
	}

	f, err := p.uploads.Open(req.Path)
	if err != nil {
		return sum, err
	}
	records, err := parser.Parse(f)
	patrowl.CloseWithLog(f, p.logger, "upload file")
	if err != nil {
		return sum, patrowl.NewValidationError(op, err).WithContext(map[string]any{"path": req.Path})
	}

	s, err := p.startScan(ctx, req, parser.Engine())
	if err != nil {
		return sum, err
	}
	sum.ScanID = s.ID

	logger := p.logger.With("scan_id", s.ID, "owner_id", req.OwnerID, "engine", parser.Engine())
	logger.Info("importing report", "path", req.Path, "records", len(records), "min_level", minLevel)

	assets := map[string]*asset.Asset{}
	for i := range records {
		rec := &records[i]
		if !rec.Severity.AtLeast(minLevel) {
			sum.Skipped++
			p.count(ctx, "skipped")
			continue
		}

		a, err := p.resolveAsset(ctx, assets, req.OwnerID, rec.AssetValue)
		if err != nil {
			return sum, p.failScan(ctx, s, err)
		}

		created, err := p.importRecord(ctx, s, a, rec)
		if err != nil {
			return sum, p.failScan(ctx, s, err)
		}
		if created {
			sum.Created++
			p.count(ctx, "created")
		} else {
			sum.Updated++
			p.count(ctx, "updated")
		}
	}

	s.Finish(time.Now())
	if err := p.repo.UpdateScan(ctx, s); err != nil {
		return sum, err
	}

	sum.Assets = make([]string, 0, len(assets))
	for _, a := range assets {
		sum.Assets = append(sum.Assets, a.ID)
	}
	sort.Strings(sum.Assets)

	for _, id := range sum.Assets {
		if err := p.risk.EvaluateRisk(ctx, id); err != nil {
			logger.Warn("failed to evaluate asset risk", "asset_id", id, "error", err)
		}
	}

	logger.Info("report imported",
		"created", sum.Created,
		"updated", sum.Updated,
		"skipped", sum.Skipped,
		"assets", len(sum.Assets),
	)
	return sum, nil
}

func (p *Processor) startScan(ctx context.Context, req Request, engine string) (*scan.Scan, error) {
	defID := scan.ImportDefinitionID(req.OwnerID, engine)
	def, err := p.repo.GetScanDefinition(ctx, defID)
	if patrowl.IsNotFound(err) {
		def = &scan.Definition{
			ID:         defID,
			Title:      fmt.Sprintf("%s imports", engine),
			EngineType: engine,
			OwnerID:    req.OwnerID,
			CreatedAt:  time.Now(),
		}
		err = p.repo.UpsertScanDefinition(ctx, def)
	}
	if err != nil {
		return nil, err
	}

	s := scan.New(def, fmt.Sprintf("Import of %s", filepath.Base(req.Path)))
	s.Status = scan.StatusStarted
	if err := p.repo.CreateScan(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Processor) failScan(ctx context.Context, s *scan.Scan, cause error) error {
	s.Status = scan.StatusError
	if err := p.repo.UpdateScan(ctx, s); err != nil {
		p.logger.Error("failed to mark scan as failed", "scan_id", s.ID, "error", err)
	}
	return cause
}

func (p *Processor) resolveAsset(ctx context.Context, cache map[string]*asset.Asset, ownerID, value string) (*asset.Asset, error) {
	if a, ok := cache[value]; ok {
		return a, nil
	}

	a, err := p.repo.GetAssetByValue(ctx, ownerID, value)
	if patrowl.IsNotFound(err) {
		a = asset.New(ownerID, value)
		err = p.repo.CreateAsset(ctx, a)
		if err == nil {
			p.logger.Debug("created asset", "asset_id", a.ID, "value", value)
		}
	}
	if err != nil {
		return nil, err
	}
	cache[value] = a
	return a, nil
}

// importRecord stores the raw finding and creates or refreshes the finding
// with the same hash on the asset. It reports whether a finding was created.
func (p *Processor) importRecord(ctx context.Context, s *scan.Scan, a *asset.Asset, rec *Record) (bool, error) {
	raw := rec.rawFinding(s, a)
	if err := p.repo.CreateRawFinding(ctx, raw); err != nil {
		return false, err
	}

	existing, err := p.repo.FindFindingByHash(ctx, a.ID, raw.Hash)
	switch {
	case err == nil:
		existing.UpdatedAt = time.Now()
		return false, p.repo.UpdateFinding(ctx, existing)
	case !patrowl.IsNotFound(err):
		return false, err
	}

	f := raw.Finding.Clone()
	f.ID = uuid.New().String()
	if err := p.repo.CreateFinding(ctx, f); err != nil {
		return false, err
	}
	if err := p.repo.AppendEvent(ctx, event.New(f.ID, event.TypeCreated, "New finding")); err != nil {
		return true, err
	}
	return true, nil
}

func (p *Processor) count(ctx context.Context, outcome string) {
	if p.records != nil {
		p.records.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func parseMinLevel(s string) (finding.Severity, error) {
	if s == "" {
		return finding.SeverityInfo, nil
	}
	sev, err := finding.ParseSeverity(s)
	if err != nil {
		return "", fmt.Errorf("min_level: %w", err)
	}
	return sev, nil
}
