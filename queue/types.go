package queue

import (
	"fmt"
	"time"
)

// ImportJob asks a worker to import one uploaded scanner report.
type ImportJob struct {
	// JobID is a UUID that correlates the job with its published Result
	JobID string `json:"job_id"`

	// OwnerID is the user the imported findings belong to
	OwnerID string `json:"owner_id"`

	// Engine names the report format (json, trivy, sarif)
	Engine string `json:"engine"`

	// MinLevel drops records less severe than this level. Empty keeps all.
	MinLevel string `json:"min_level,omitempty"`

	// Path is the stored upload, readable by the worker
	Path string `json:"path"`

	// TraceID and SpanID carry the submitting request's trace context
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`

	// SubmittedAt is the Unix timestamp in milliseconds when the job was queued
	SubmittedAt int64 `json:"submitted_at"`
}

// Result is the outcome of an ImportJob, published on ResultChannel(JobID).
type Result struct {
	JobID  string `json:"job_id"`
	ScanID string `json:"scan_id,omitempty"`

	// Counts of findings created, updated in place, and dropped by min level
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`

	// Error is the failure message. Empty on success.
	Error string `json:"error,omitempty"`

	WorkerID    string `json:"worker_id"`
	StartedAt   int64  `json:"started_at"`
	CompletedAt int64  `json:"completed_at"`
}

// WorkerMeta describes a running import worker. It is stored as a Redis hash
// and used to list live workers.
type WorkerMeta struct {
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Queue       string   `json:"queue"`
	Engines     []string `json:"engines"`
	Concurrency int      `json:"concurrency"`
	StartedAt   int64    `json:"started_at"`
}

// IsValid checks the job's required fields.
func (j *ImportJob) IsValid() error {
	if j.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if j.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if j.Engine == "" {
		return fmt.Errorf("engine is required")
	}
	if j.Path == "" {
		return fmt.Errorf("path is required")
	}
	if j.SubmittedAt <= 0 {
		return fmt.Errorf("submitted_at must be positive, got %d", j.SubmittedAt)
	}
	return nil
}

// Age returns the time since the job was submitted.
func (j *ImportJob) Age() time.Duration {
	if j.SubmittedAt <= 0 {
		return 0
	}
	return time.Duration(time.Now().UnixMilli()-j.SubmittedAt) * time.Millisecond
}

// HasError returns true if the import failed.
func (r *Result) HasError() bool {
	return r.Error != ""
}

// Duration returns the wall-clock time the worker spent on the job.
func (r *Result) Duration() time.Duration {
	if r.StartedAt <= 0 || r.CompletedAt <= 0 {
		return 0
	}
	return time.Duration(r.CompletedAt-r.StartedAt) * time.Millisecond
}

// IsValid checks the result's required fields.
func (r *Result) IsValid() error {
	if r.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if r.WorkerID == "" {
		return fmt.Errorf("worker_id is required")
	}
	if r.StartedAt <= 0 {
		return fmt.Errorf("started_at must be positive, got %d", r.StartedAt)
	}
	if r.CompletedAt < r.StartedAt {
		return fmt.Errorf("completed_at (%d) cannot be before started_at (%d)", r.CompletedAt, r.StartedAt)
	}
	if r.Created < 0 || r.Updated < 0 || r.Skipped < 0 {
		return fmt.Errorf("counts must be non-negative")
	}
	if !r.HasError() && r.ScanID == "" {
		return fmt.Errorf("scan_id is required when error is empty")
	}
	return nil
}

// IsValid checks the worker metadata.
func (m *WorkerMeta) IsValid() error {
	if m.ID == "" {
		return fmt.Errorf("worker id is required")
	}
	if m.Queue == "" {
		return fmt.Errorf("queue is required")
	}
	if m.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative, got %d", m.Concurrency)
	}
	return nil
}
