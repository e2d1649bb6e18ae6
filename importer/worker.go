package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/D-E-N/PatrowlManager/queue"
)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Queue is the queue to consume. Defaults to queue.DefaultQueue.
	Queue string

	// Concurrency is the number of jobs processed in parallel. Defaults to 4.
	Concurrency int

	// ShutdownTimeout bounds the wait for in-flight jobs once Run's context
	// is cancelled. Defaults to 30s.
	ShutdownTimeout time.Duration

	// HeartbeatInterval defaults to 10s.
	HeartbeatInterval time.Duration

	// JobTimeout bounds a single import. Zero means no limit.
	JobTimeout time.Duration

	Version string
	Logger  *slog.Logger
}

// Worker pops import jobs from Redis, runs them through a Processor and
// publishes a queue.Result for each.
type Worker struct {
	id     string
	client queue.Client
	proc   *Processor
	opts   WorkerOptions
	logger *slog.Logger
}

// NewWorker creates a worker with a unique id.
func NewWorker(client queue.Client, proc *Processor, opts WorkerOptions) *Worker {
	if opts.Queue == "" {
		opts.Queue = queue.DefaultQueue
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	id := generateWorkerID()
	return &Worker{
		id:     id,
		client: client,
		proc:   proc,
		opts:   opts,
		logger: opts.Logger.With("worker_id", id, "queue", opts.Queue),
	}
}

// ID returns the worker's unique id.
func (w *Worker) ID() string {
	return w.id
}

// Run registers the worker, starts the job loops and a heartbeat, and
// blocks until ctx is cancelled. It then waits up to ShutdownTimeout for
// in-flight jobs.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting", "concurrency", w.opts.Concurrency)

	meta := queue.WorkerMeta{
		ID:          w.id,
		Version:     w.opts.Version,
		Queue:       w.opts.Queue,
		Engines:     Engines(),
		Concurrency: w.opts.Concurrency,
		StartedAt:   time.Now().UnixMilli(),
	}
	if err := w.client.RegisterWorker(ctx, meta); err != nil {
		w.logger.Error("failed to register worker", "error", err)
		return fmt.Errorf("failed to register worker: %w", err)
	}

	if err := w.client.IncrementWorkerCount(ctx, w.opts.Queue); err != nil {
		w.logger.Error("failed to increment worker count", "error", err)
	}
	defer func() {
		// ctx is already cancelled here
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.client.DecrementWorkerCount(cleanupCtx, w.opts.Queue); err != nil {
			w.logger.Error("failed to decrement worker count", "error", err)
		}
	}()

	go w.heartbeat(ctx)

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(num int) {
			defer wg.Done()
			w.loop(ctx, num)
		}(i)
	}

	w.logger.Info("worker started")
	<-ctx.Done()
	w.logger.Info("worker stopping, waiting for in-flight jobs")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker shutdown complete")
	case <-time.After(w.opts.ShutdownTimeout):
		w.logger.Warn("worker shutdown timeout exceeded", "timeout", w.opts.ShutdownTimeout)
	}
	return nil
}

func (w *Worker) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.client.Heartbeat(ctx, w.id); err != nil {
				// transient
				w.logger.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) loop(ctx context.Context, num int) {
	logger := w.logger.With("worker_num", num)

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.client.Pop(ctx, w.opts.Queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to pop import job", "error", err)
			// avoid spinning on a broken connection
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}

		result := w.Handle(context.WithoutCancel(ctx), *job)
		if err := w.client.Publish(context.WithoutCancel(ctx), queue.ResultChannel(job.JobID), result); err != nil {
			logger.Error("failed to publish result", "job_id", job.JobID, "error", err)
		}
	}
}

// Handle processes one job and returns its result. It never fails: errors
// are reported in Result.Error.
func (w *Worker) Handle(ctx context.Context, job queue.ImportJob) queue.Result {
	result := queue.Result{
		JobID:     job.JobID,
		WorkerID:  w.id,
		StartedAt: time.Now().UnixMilli(),
	}
	logger := w.logger.With("job_id", job.JobID)

	if err := job.IsValid(); err != nil {
		result.Error = fmt.Sprintf("invalid import job: %v", err)
		result.CompletedAt = time.Now().UnixMilli()
		logger.Error("invalid import job", "error", err)
		return result
	}

	ctx = remoteParent(ctx, job.TraceID, job.SpanID)
	if w.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.JobTimeout)
		defer cancel()
	}

	logger.Info("received import job", "engine", job.Engine, "owner_id", job.OwnerID, "queued_for", job.Age())

	sum, err := w.proc.Process(ctx, Request{
		OwnerID:  job.OwnerID,
		Engine:   job.Engine,
		MinLevel: job.MinLevel,
		Path:     job.Path,
	})
	result.ScanID = sum.ScanID
	result.Created = sum.Created
	result.Updated = sum.Updated
	result.Skipped = sum.Skipped
	result.CompletedAt = time.Now().UnixMilli()

	if err != nil {
		result.Error = err.Error()
		logger.Error("import job failed", "error", err)
		return result
	}

	logger.Info("import job completed", "scan_id", sum.ScanID, "duration_ms", result.CompletedAt-result.StartedAt)
	return result
}

// remoteParent makes the submitting request's span the parent of the import.
func remoteParent(ctx context.Context, traceID, spanID string) context.Context {
	tid, err := trace.TraceIDFromHex(traceID)
	if err != nil {
		return ctx
	}
	sid, err := trace.SpanIDFromHex(spanID)
	if err != nil {
		return ctx
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// generateWorkerID returns hostname-pid-<uuid prefix>.
func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
}
