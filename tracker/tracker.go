// Package tracker explains the history of a finding across the runs of its
// scan definition.
//
// A timeline starts with the scan that first reported the finding. Every
// other finished scan of the same definition then contributes exactly one
// entry: "identified" when one of its raw findings carries the finding's
// content hash, "not in scan" otherwise. The finding's events are merged in
// and the result is sorted by (timestamp, source, enumeration order), so no
// entry is lost when two share a timestamp.
//
// Manual findings have no scan lineage; their timeline holds events only.
package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	patrowl "github.com/D-E-N/PatrowlManager"
	"github.com/D-E-N/PatrowlManager/event"
	"github.com/D-E-N/PatrowlManager/finding"
	"github.com/D-E-N/PatrowlManager/scan"
)

const instrumentationName = "github.com/D-E-N/PatrowlManager/tracker"

// FindingSource resolves findings by id.
type FindingSource interface {
	GetFinding(ctx context.Context, id string) (*finding.Finding, error)
}

// ScanSource resolves scans and their finished siblings.
type ScanSource interface {
	GetScan(ctx context.Context, id string) (*scan.Scan, error)
	ListFinishedSiblingScans(ctx context.Context, definitionID, excludeScanID string) ([]*scan.Scan, error)
}

// RawFindingSource lists the raw findings of a scan.
type RawFindingSource interface {
	ListRawFindingsForScan(ctx context.Context, scanID string) ([]*finding.RawFinding, error)
}

// EventSource lists the events of a finding.
type EventSource interface {
	ListEventsForFinding(ctx context.Context, findingID string) ([]*event.Event, error)
}

// Repository is everything the tracker reads. store.Store satisfies it.
type Repository interface {
	FindingSource
	ScanSource
	RawFindingSource
	EventSource
}

// Tracker builds finding timelines. It holds no per-call state and is safe
// for concurrent use.
type Tracker struct {
	repo        Repository
	policy      MatchPolicy
	concurrency int
	logger      *slog.Logger
	tracer      trace.Tracer
	meter       metric.Meter
	builds      metric.Int64Counter
}

// New creates a Tracker reading from repo.
func New(repo Repository, opts ...Option) *Tracker {
	t := &Tracker{
		repo:        repo,
		policy:      MatchAnyRaw,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(t)
	}

	builds, err := t.meter.Int64Counter(
		"patrowl.tracker.builds",
		metric.WithDescription("Number of finding timelines built"),
		metric.WithUnit("1"),
	)
	if err != nil {
		t.logger.Warn("failed to create tracker counter", "error", err)
	} else {
		t.builds = builds
	}
	return t
}

// Policy returns the configured match policy.
func (t *Tracker) Policy() MatchPolicy {
	return t.policy
}

// BuildTimeline loads the finding and builds its timeline.
// Returns a not_found error when findingID does not resolve.
func (t *Tracker) BuildTimeline(ctx context.Context, findingID string) (Timeline, error) {
	f, err := t.repo.GetFinding(ctx, findingID)
	if err != nil {
		if patrowl.IsNotFound(err) {
			return nil, patrowl.NewNotFoundError("tracker.BuildTimeline", patrowl.ErrFindingNotFound).
				WithContext(map[string]any{"finding_id": findingID})
		}
		return nil, fmt.Errorf("load finding %s: %w", findingID, err)
	}
	return t.Build(ctx, f)
}

// Build builds the timeline of an already loaded finding.
//
// For a finding with scan lineage the origin scan must resolve; a dangling
// origin is reported as not_found and no partial timeline is returned.
func (t *Tracker) Build(ctx context.Context, f *finding.Finding) (Timeline, error) {
	ctx, span := t.tracer.Start(ctx, "tracker.Build",
		trace.WithAttributes(
			attribute.String("finding.id", f.ID),
			attribute.String("tracker.policy", t.policy.String()),
		))
	defer span.End()

	timeline, err := t.build(ctx, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("timeline.entries", len(timeline)),
		attribute.Int("timeline.scans", timeline.Count(SourceScan)),
	)
	if t.builds != nil {
		t.builds.Add(ctx, 1, metric.WithAttributes(attribute.Bool("manual", f.IsManual())))
	}
	return timeline, nil
}

func (t *Tracker) build(ctx context.Context, f *finding.Finding) (Timeline, error) {
	var origin *scan.Scan
	if !f.IsManual() && f.ScanID != "" {
		s, err := t.repo.GetScan(ctx, f.ScanID)
		if err != nil {
			if patrowl.IsNotFound(err) {
				return nil, patrowl.NewNotFoundError("tracker.Build", patrowl.ErrScanNotFound).
					WithContext(map[string]any{"finding_id": f.ID, "scan_id": f.ScanID})
			}
			return nil, fmt.Errorf("load origin scan %s: %w", f.ScanID, err)
		}
		origin = s
	} else if !f.IsManual() {
		t.logger.Debug("automated finding without origin scan",
			"finding_id", f.ID,
			"engine_type", f.EngineType)
	}

	var (
		siblings []*scan.Scan
		events   []*event.Event
	)

	g, gctx := errgroup.WithContext(ctx)
	if origin != nil && origin.DefinitionID != "" {
		g.Go(func() error {
			var err error
			siblings, err = t.repo.ListFinishedSiblingScans(gctx, origin.DefinitionID, origin.ID)
			if err != nil {
				return fmt.Errorf("list sibling scans: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		var err error
		events, err = t.repo.ListEventsForFinding(gctx, f.ID)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scanEntries, err := t.occurrences(ctx, f, siblings)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, 1+len(scanEntries)+len(events))
	if origin != nil {
		entries = append(entries, seedEntry(f, origin))
	}
	entries = append(entries, scanEntries...)
	for i, e := range events {
		entries = append(entries, Entry{
			At:      e.CreatedAt,
			Level:   LevelInfo,
			Source:  SourceEvent,
			Message: e.Message,
			EventID: e.ID,
			seq:     i,
		})
	}

	sortEntries(entries)
	return Timeline(entries), nil
}

// occurrences produces one entry per sibling. Raw findings are fetched in
// parallel, bounded by the tracker's concurrency; each goroutine owns one
// slot so the result keeps sibling order.
func (t *Tracker) occurrences(ctx context.Context, f *finding.Finding, siblings []*scan.Scan) ([]Entry, error) {
	if len(siblings) == 0 {
		return nil, nil
	}

	slots := make([]Entry, len(siblings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, sibling := range siblings {
		g.Go(func() error {
			raws, err := t.repo.ListRawFindingsForScan(gctx, sibling.ID)
			if err != nil {
				return fmt.Errorf("list raw findings of scan %s: %w", sibling.ID, err)
			}
			slots[i] = t.occurrence(f, sibling, raws, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slots, nil
}

func (t *Tracker) occurrence(f *finding.Finding, sibling *scan.Scan, raws []*finding.RawFinding, seq int) Entry {
	if match := t.match(f.Hash, raws); match != nil {
		return Entry{
			At:               match.CreatedAt,
			Level:            LevelInfo,
			Source:           SourceScan,
			Message:          fmt.Sprintf("Identified in scan '%s'", sibling),
			ScanID:           sibling.ID,
			ScanDefinitionID: sibling.DefinitionID,
			RawFindingID:     match.ID,
			seq:              seq,
		}
	}
	return Entry{
		At:               sibling.CreatedAt,
		Level:            LevelWarning,
		Source:           SourceScan,
		Message:          fmt.Sprintf("Not in scan '%s'", sibling),
		ScanID:           sibling.ID,
		ScanDefinitionID: sibling.DefinitionID,
		seq:              seq,
	}
}

// match returns the raw finding carrying hash under the tracker's policy.
func (t *Tracker) match(hash string, raws []*finding.RawFinding) *finding.RawFinding {
	if t.policy == MatchFirstRawOnly {
		if len(raws) > 0 && raws[0].Hash == hash {
			return raws[0]
		}
		return nil
	}
	for _, r := range raws {
		if r.Hash == hash {
			return r
		}
	}
	return nil
}

func seedEntry(f *finding.Finding, origin *scan.Scan) Entry {
	msg := fmt.Sprintf("First identification in scan '%s' (%s)", origin, origin.EngineType)
	if origin.DefinitionID != "" {
		msg += fmt.Sprintf(". Definition %s", origin.DefinitionID)
	}
	return Entry{
		At:               f.CreatedAt,
		Level:            LevelInfo,
		Source:           SourceOrigin,
		Message:          msg,
		ScanID:           origin.ID,
		ScanDefinitionID: origin.DefinitionID,
	}
}
