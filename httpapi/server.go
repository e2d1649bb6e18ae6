// Package httpapi exposes the findings service as a JSON HTTP API.
//
//	GET    /findings                     list, filtered and paginated
//	POST   /findings                     create a manual finding
//	POST   /findings/import              upload a report (multipart)
//	GET    /findings/compare             compare two findings
//	GET    /findings/export              export as json or csv
//	GET    /findings/asset/{asset_name}  findings of one asset
//	GET    /findings/{id}                details and timeline
//	GET    /findings/{id}/timeline       timeline only
//	PUT    /findings/{id}                edit
//	DELETE /findings/{id}                delete
//	GET    /healthz                      dependency health
//
// Errors are JSON objects {"error": ..., "kind": ...}. Not found maps to
// 404, validation to 400 and everything else to 500.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/D-E-N/PatrowlManager/service"
)

const instrumentationName = "github.com/D-E-N/PatrowlManager/httpapi"

// OwnerHeader carries the id of the user making the request. Authentication
// happens in front of this server.
const OwnerHeader = "X-Patrowl-Owner"

// DefaultMaxUploadBytes caps import uploads unless WithMaxUploadBytes is set.
const DefaultMaxUploadBytes = 32 << 20

// Server routes HTTP requests to a service.Service.
type Server struct {
	svc        *service.Service
	mux        *http.ServeMux
	handler    http.Handler
	health     http.Handler
	logger     *slog.Logger
	tracer     trace.Tracer
	maxUpload  int64
	propagator propagation.TextMapPropagator
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealth serves h on GET /healthz. Without it the endpoint always
// answers 200.
func WithHealth(h http.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithMaxUploadBytes caps the import request body.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New creates the API server.
func New(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		svc:        svc,
		mux:        http.NewServeMux(),
		logger:     slog.Default(),
		tracer:     otel.Tracer(instrumentationName),
		maxUpload:  DefaultMaxUploadBytes,
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.handler = s.instrument(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /findings", s.handleList)
	s.mux.HandleFunc("POST /findings", s.handleAdd)
	s.mux.HandleFunc("POST /findings/import", s.handleImport)
	s.mux.HandleFunc("GET /findings/compare", s.handleCompare)
	s.mux.HandleFunc("GET /findings/export", s.handleExport)
	s.mux.HandleFunc("GET /findings/{id}", s.handleDetails)
	// /findings/asset/{name} and /findings/{id}/timeline overlap as mux
	// patterns, so one route serves both.
	s.mux.HandleFunc("GET /findings/{id}/{sub}", s.handleSubresource)
	s.mux.HandleFunc("PUT /findings/{id}", s.handleEdit)
	s.mux.HandleFunc("DELETE /findings/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument opens a server span per request, continuing any incoming W3C
// trace context, and logs the outcome.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := s.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, "HTTP "+r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		req := r.WithContext(ctx)
		next.ServeHTTP(rec, req)

		// The mux records the matched pattern on the request it was given.
		if req.Pattern != "" {
			span.SetName(req.Pattern)
		}
		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}

		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
