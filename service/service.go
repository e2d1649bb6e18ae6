// Package service implements the findings operations: listing, importing,
// editing, comparing and deleting findings, and building their timelines.
//
// It sits between the transports (HTTP, CLI) and the store. Every operation
// opens a span and returns *patrowl.Error values whose Kind tells the
// transport how to answer.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
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
	"github.com/D-E-N/PatrowlManager/importer"
	"github.com/D-E-N/PatrowlManager/queue"
	"github.com/D-E-N/PatrowlManager/search"
	"github.com/D-E-N/PatrowlManager/store"
	"github.com/D-E-N/PatrowlManager/tracker"
)

const instrumentationName = "github.com/D-E-N/PatrowlManager/service"

// JobQueue accepts import jobs. queue.Client satisfies it.
type JobQueue interface {
	Push(ctx context.Context, queue string, job queue.ImportJob) error
}

// ResultSource delivers the results workers publish. queue.Client satisfies it.
type ResultSource interface {
	Subscribe(ctx context.Context, channel string) (<-chan queue.Result, error)
}

// Service runs findings operations against a store.
type Service struct {
	repo      store.Store
	tracker   *tracker.Tracker
	risk      asset.RiskEvaluator
	uploads   *importer.Uploads
	jobs      JobQueue
	results   ResultSource
	queueName string
	logger    *slog.Logger
	tracer    trace.Tracer
	imports   metric.Int64Counter
}

// New creates a service over repo.
func New(repo store.Store, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		queueName: queue.DefaultQueue,
		logger:    slog.Default(),
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracker == nil {
		s.tracker = tracker.New(repo, tracker.WithLogger(s.logger))
	}
	if s.risk == nil {
		s.risk = asset.NewGrader(repo, s.logger)
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"patrowl.service.imports",
		metric.WithDescription("Report imports queued"),
		metric.WithUnit("{import}"),
	)
	if err != nil {
		s.logger.Warn("failed to create import counter", "error", err)
	} else {
		s.imports = counter
	}
	return s
}

// Details is a finding with its timeline, or a raw finding alone.
type Details struct {
	Finding  *finding.Finding    `json:"finding,omitempty"`
	Raw      *finding.RawFinding `json:"raw_finding,omitempty"`
	Timeline tracker.Timeline    `json:"timeline,omitempty"`
}

// Comparison holds two findings side by side and the fields that differ.
type Comparison struct {
	A     *finding.Finding    `json:"finding_a"`
	B     *finding.Finding    `json:"finding_b"`
	Diffs []finding.FieldDiff `json:"diffs"`
}

// ImportForm is an uploaded report to import.
type ImportForm struct {
	OwnerID  string
	Engine   string
	MinLevel string
	File     io.Reader

	// JobID names the job. Empty generates a UUID.
	JobID string
}

// EditResult is the updated record and the names of the fields that changed.
type EditResult struct {
	Finding *finding.Finding    `json:"finding,omitempty"`
	Raw     *finding.RawFinding `json:"raw_finding,omitempty"`
	Changed []string            `json:"changed"`
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// List returns one page of the findings matching q.
func (s *Service) List(ctx context.Context, q search.Query) (page search.Page[*finding.Finding], err error) {
	ctx, span := s.start(ctx, "service.List", attribute.String("patrowl.query", q.Expr))
	defer func() { finish(span, err) }()

	all, err := s.repo.ListFindings(ctx)
	if err != nil {
		return page, err
	}
	matched, err := search.Apply(ctx, all, q)
	if err != nil {
		return page, patrowl.NewValidationError("service.List", err)
	}
	return search.Paginate(matched, q.PageSize, q.Page), nil
}

// ListByAsset returns the findings of the asset named assetName ordered by
// asset name, severity, status and type. status filters the listing only
// when it is new or ack; any other value lists every status.
func (s *Service) ListByAsset(ctx context.Context, assetName, status string) (out []*finding.Finding, err error) {
	ctx, span := s.start(ctx, "service.ListByAsset", attribute.String("patrowl.asset_name", assetName))
	defer func() { finish(span, err) }()

	all, err := s.repo.ListFindings(ctx)
	if err != nil {
		return nil, err
	}

	filter := finding.Filter{}
	if st := finding.Status(status); st == finding.StatusNew || st == finding.StatusAck {
		filter.Statuses = []finding.Status{st}
	}

	out = make([]*finding.Finding, 0)
	for _, f := range all {
		if f.AssetName == assetName && filter.Matches(f) {
			out = append(out, f)
		}
	}
	search.SortByAsset(out)
	return out, nil
}

// Delete removes a finding, then re-evaluates the risk of its asset once.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, span := s.start(ctx, "service.Delete", attribute.String("patrowl.finding_id", id))
	defer func() { finish(span, err) }()

	f, err := s.repo.GetFinding(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteFinding(ctx, id); err != nil {
		return err
	}
	s.logger.Info("finding deleted", "finding_id", id, "asset_id", f.AssetID)

	if f.AssetID == "" {
		return nil
	}
	if err := s.risk.EvaluateRisk(ctx, f.AssetID); err != nil {
		return fmt.Errorf("evaluate risk of asset %s: %w", f.AssetID, err)
	}
	return nil
}

// Import stores the uploaded report and queues its processing. It returns
// the job id; the result is published on queue.ResultChannel(jobID).
func (s *Service) Import(ctx context.Context, form ImportForm) (jobID string, err error) {
	const op = "service.Import"
	ctx, span := s.start(ctx, op,
		attribute.String("patrowl.owner_id", form.OwnerID),
		attribute.String("patrowl.engine", form.Engine))
	defer func() { finish(span, err) }()

	if s.uploads == nil || s.jobs == nil {
		return "", patrowl.NewConfigurationError(op, errors.New("imports are not configured"))
	}
	if form.OwnerID == "" {
		return "", patrowl.NewValidationError(op, fmt.Errorf("%w: owner is required", patrowl.ErrInvalidForm))
	}
	if form.File == nil {
		return "", patrowl.NewValidationError(op, fmt.Errorf("%w: file is required", patrowl.ErrInvalidForm))
	}
	parser, err := importer.ParserFor(form.Engine)
	if err != nil {
		return "", err
	}
	if form.MinLevel != "" {
		if _, err := finding.ParseSeverity(form.MinLevel); err != nil {
			return "", patrowl.NewValidationError(op, fmt.Errorf("%w: min_level: %v", patrowl.ErrInvalidForm, err))
		}
	}

	path, err := s.uploads.Save(form.OwnerID, parser.Engine(), form.File)
	if err != nil {
		return "", err
	}

	if form.JobID == "" {
		form.JobID = uuid.New().String()
	}
	job := queue.ImportJob{
		JobID:       form.JobID,
		OwnerID:     form.OwnerID,
		Engine:      parser.Engine(),
		MinLevel:    form.MinLevel,
		Path:        path,
		SubmittedAt: time.Now().UnixMilli(),
	}
	if sc := span.SpanContext(); sc.IsValid() {
		job.TraceID = sc.TraceID().String()
		job.SpanID = sc.SpanID().String()
	}

	if err := s.jobs.Push(ctx, s.queueName, job); err != nil {
		return "", patrowl.NewQueueError(op, err).WithContext(map[string]any{"path": path})
	}
	if s.imports != nil {
		s.imports.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", job.Engine)))
	}

	s.logger.Info("import queued", "job_id", job.JobID, "engine", job.Engine, "path", path)
	return job.JobID, nil
}

// ImportAndWait queues form like Import and blocks until a worker publishes
// the job's result or ctx ends. An import the worker failed is a result with
// Error set, not an error.
func (s *Service) ImportAndWait(ctx context.Context, form ImportForm) (res *queue.Result, err error) {
	const op = "service.ImportAndWait"
	if form.JobID == "" {
		form.JobID = uuid.New().String()
	}
	ctx, span := s.start(ctx, op, attribute.String("patrowl.job_id", form.JobID))
	defer func() { finish(span, err) }()

	if s.results == nil {
		return nil, patrowl.NewConfigurationError(op, errors.New("import results are not configured"))
	}

	// The subscription must exist before the job can be popped.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results, err := s.results.Subscribe(subCtx, queue.ResultChannel(form.JobID))
	if err != nil {
		return nil, patrowl.NewQueueError(op, err)
	}

	jobID, err := s.Import(ctx, form)
	if err != nil {
		return nil, err
	}

	select {
	case r, ok := <-results:
		if !ok {
			cause := ctx.Err()
			if cause == nil {
				cause = fmt.Errorf("result subscription of job %s closed", jobID)
			}
			return nil, patrowl.NewQueueError(op, cause).WithContext(map[string]any{"job_id": jobID})
		}
		s.logger.Info("import finished", "job_id", jobID, "created", r.Created, "updated", r.Updated, "error", r.Error)
		return &r, nil
	case <-ctx.Done():
		return nil, patrowl.NewQueueError(op, ctx.Err()).WithContext(map[string]any{"job_id": jobID})
	}
}

// Details returns the raw finding when raw is set, otherwise the finding
// with its timeline.
func (s *Service) Details(ctx context.Context, id string, raw bool) (d *Details, err error) {
	ctx, span := s.start(ctx, "service.Details",
		attribute.String("patrowl.finding_id", id),
		attribute.Bool("patrowl.raw", raw))
	defer func() { finish(span, err) }()

	if raw {
		r, err := s.repo.GetRawFinding(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Details{Raw: r}, nil
	}

	f, err := s.repo.GetFinding(ctx, id)
	if err != nil {
		return nil, err
	}
	tl, err := s.tracker.Build(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Details{Finding: f, Timeline: tl}, nil
}

// Timeline returns the tracking timeline of a finding.
func (s *Service) Timeline(ctx context.Context, id string) (tracker.Timeline, error) {
	return s.tracker.BuildTimeline(ctx, id)
}

// Edit applies form to the finding (or raw finding) id. Status and severity
// changes of a finding are logged as events and re-evaluate its asset risk.
func (s *Service) Edit(ctx context.Context, id string, raw bool, form *finding.Form) (res *EditResult, err error) {
	const op = "service.Edit"
	ctx, span := s.start(ctx, op,
		attribute.String("patrowl.finding_id", id),
		attribute.Bool("patrowl.raw", raw))
	defer func() { finish(span, err) }()

	if err := form.Validate(); err != nil {
		return nil, patrowl.NewValidationError(op, fmt.Errorf("%w: %v", patrowl.ErrInvalidForm, err))
	}

	if raw {
		r, err := s.repo.GetRawFinding(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := form.ApplyTo(&r.Finding)
		if err != nil {
			return nil, patrowl.NewValidationError(op, fmt.Errorf("%w: %v", patrowl.ErrInvalidForm, err))
		}
		if len(changed) > 0 {
			if err := s.repo.UpdateRawFinding(ctx, r); err != nil {
				return nil, err
			}
		}
		return &EditResult{Raw: r, Changed: orEmpty(changed)}, nil
	}

	f, err := s.repo.GetFinding(ctx, id)
	if err != nil {
		return nil, err
	}
	prevStatus, prevSeverity := f.Status, f.Severity

	changed, err := form.ApplyTo(f)
	if err != nil {
		return nil, patrowl.NewValidationError(op, fmt.Errorf("%w: %v", patrowl.ErrInvalidForm, err))
	}
	if len(changed) == 0 {
		return &EditResult{Finding: f, Changed: []string{}}, nil
	}
	if err := s.repo.UpdateFinding(ctx, f); err != nil {
		return nil, err
	}

	var events []*event.Event
	if f.Status != prevStatus {
		events = append(events, event.New(f.ID, event.TypeStatusChanged,
			fmt.Sprintf("Status changed from '%s' to '%s'", prevStatus.DisplayName(), f.Status.DisplayName())))
	}
	if f.Severity != prevSeverity {
		events = append(events, event.New(f.ID, event.TypeSeverityChange,
			fmt.Sprintf("Severity changed from '%s' to '%s'", prevSeverity, f.Severity)))
	}
	for _, e := range events {
		if err := s.repo.AppendEvent(ctx, e); err != nil {
			return nil, err
		}
	}

	if len(events) > 0 && f.AssetID != "" {
		if err := s.risk.EvaluateRisk(ctx, f.AssetID); err != nil {
			s.logger.Warn("failed to evaluate asset risk", "asset_id", f.AssetID, "error", err)
		}
	}

	s.logger.Info("finding updated", "finding_id", f.ID, "changed", changed)
	return &EditResult{Finding: f, Changed: changed}, nil
}

// Add creates a manual finding on the asset named by form.AssetID.
func (s *Service) Add(ctx context.Context, ownerID string, form *finding.Form) (f *finding.Finding, err error) {
	const op = "service.Add"
	ctx, span := s.start(ctx, op, attribute.String("patrowl.asset_id", form.AssetID))
	defer func() { finish(span, err) }()

	if ownerID == "" {
		return nil, patrowl.NewValidationError(op, fmt.Errorf("%w: owner is required", patrowl.ErrInvalidForm))
	}
	if err := form.Validate(); err != nil {
		return nil, patrowl.NewValidationError(op, fmt.Errorf("%w: %v", patrowl.ErrInvalidForm, err))
	}
	if form.AssetID == "" {
		return nil, patrowl.NewValidationError(op, fmt.Errorf("%w: asset is required", patrowl.ErrInvalidForm))
	}

	a, err := s.repo.GetAsset(ctx, form.AssetID)
	if err != nil {
		if patrowl.IsNotFound(err) {
			return nil, patrowl.NewValidationError(op, fmt.Errorf("%w: %w", patrowl.ErrInvalidForm, patrowl.ErrAssetNotFound)).
				WithContext(map[string]any{"asset_id": form.AssetID})
		}
		return nil, err
	}

	f = finding.NewManualFinding(ownerID, a.ID, a.Value, form)
	if err := s.repo.CreateFinding(ctx, f); err != nil {
		return nil, err
	}
	if err := s.repo.AppendEvent(ctx, event.New(f.ID, event.TypeCreated, "New finding")); err != nil {
		return nil, err
	}
	if err := s.risk.EvaluateRisk(ctx, a.ID); err != nil {
		s.logger.Warn("failed to evaluate asset risk", "asset_id", a.ID, "error", err)
	}

	s.logger.Info("manual finding created", "finding_id", f.ID, "asset_id", a.ID)
	return f, nil
}

// Compare loads two findings (or raw findings) and lists the fields that
// differ between them.
func (s *Service) Compare(ctx context.Context, aID, bID string, raw bool) (c *Comparison, err error) {
	const op = "service.Compare"
	ctx, span := s.start(ctx, op,
		attribute.String("patrowl.finding_a_id", aID),
		attribute.String("patrowl.finding_b_id", bID),
		attribute.Bool("patrowl.raw", raw))
	defer func() { finish(span, err) }()

	if aID == "" || bID == "" {
		return nil, patrowl.NewValidationError(op, errors.New("finding_a_id and finding_b_id are required"))
	}

	load := func(id string) (*finding.Finding, error) {
		if raw {
			r, err := s.repo.GetRawFinding(ctx, id)
			if err != nil {
				return nil, err
			}
			return &r.Finding, nil
		}
		return s.repo.GetFinding(ctx, id)
	}

	a, err := load(aID)
	if err != nil {
		return nil, err
	}
	b, err := load(bID)
	if err != nil {
		return nil, err
	}

	diffs := finding.Diff(a, b)
	if diffs == nil {
		diffs = []finding.FieldDiff{}
	}
	return &Comparison{A: a, B: b, Diffs: diffs}, nil
}

// Export writes every finding matching q (pagination ignored) to w.
func (s *Service) Export(ctx context.Context, q search.Query, format finding.ExportFormat, w io.Writer) (err error) {
	ctx, span := s.start(ctx, "service.Export", attribute.String("patrowl.format", format.String()))
	defer func() { finish(span, err) }()

	if !format.IsValid() {
		return patrowl.NewValidationError("service.Export", fmt.Errorf("unsupported export format %q", format))
	}

	all, err := s.repo.ListFindings(ctx)
	if err != nil {
		return err
	}
	matched, err := search.Apply(ctx, all, q)
	if err != nil {
		return patrowl.NewValidationError("service.Export", err)
	}
	return finding.Export(w, format, matched)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
