package service

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/D-E-N/PatrowlManager/asset"
	"github.com/D-E-N/PatrowlManager/importer"
	"github.com/D-E-N/PatrowlManager/tracker"
)

// Option configures a Service.
type Option func(*Service)

// WithTracker sets the timeline builder. By default a tracker with the
// default match policy reads from the service's repository.
func WithTracker(t *tracker.Tracker) Option {
	return func(s *Service) {
		s.tracker = t
	}
}

// WithRiskEvaluator sets the asset risk evaluator. By default the severity
// grader over the service's repository is used.
func WithRiskEvaluator(r asset.RiskEvaluator) Option {
	return func(s *Service) {
		s.risk = r
	}
}

// WithImports enables Import: uploads are stored by u and jobs pushed on
// queueName. An empty queueName means queue.DefaultQueue.
func WithImports(u *importer.Uploads, q JobQueue, queueName string) Option {
	return func(s *Service) {
		s.uploads = u
		s.jobs = q
		if queueName != "" {
			s.queueName = queueName
		}
	}
}

// WithResults enables ImportAndWait: job results are read from r.
func WithResults(r ResultSource) Option {
	return func(s *Service) {
		s.results = r
	}
}

// WithLogger sets the logger. slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}
