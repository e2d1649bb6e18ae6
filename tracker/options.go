package tracker

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MatchPolicy selects how a sibling scan's raw findings are searched for the
// finding's content hash.
type MatchPolicy int

const (
	// MatchAnyRaw searches every raw finding of the sibling and records the
	// first one whose hash matches.
	MatchAnyRaw MatchPolicy = iota

	// MatchFirstRawOnly compares only the first raw finding of the sibling.
	// A match anywhere else in the scan is reported as absent.
	MatchFirstRawOnly
)

// String returns the policy name.
func (p MatchPolicy) String() string {
	switch p {
	case MatchAnyRaw:
		return "any"
	case MatchFirstRawOnly:
		return "first-only"
	default:
		return "unknown"
	}
}

// ParseMatchPolicy parses "any" or "first-only".
func ParseMatchPolicy(s string) (MatchPolicy, bool) {
	switch s {
	case "", "any":
		return MatchAnyRaw, true
	case "first-only":
		return MatchFirstRawOnly, true
	default:
		return MatchAnyRaw, false
	}
}

// DefaultConcurrency bounds the parallel raw-finding lookups of one build.
const DefaultConcurrency = 8

// Option configures a Tracker.
type Option func(*Tracker)

// WithMatchPolicy sets the match policy. Defaults to MatchAnyRaw.
func WithMatchPolicy(p MatchPolicy) Option {
	return func(t *Tracker) {
		t.policy = p
	}
}

// WithConcurrency bounds the number of sibling scans read in parallel.
// Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTracer sets the tracer used for build spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(t *Tracker) {
		if tracer != nil {
			t.tracer = tracer
		}
	}
}

// WithMeter sets the meter used for build counters.
func WithMeter(meter metric.Meter) Option {
	return func(t *Tracker) {
		if meter != nil {
			t.meter = meter
		}
	}
}
