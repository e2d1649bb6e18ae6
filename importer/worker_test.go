package importer

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/D-E-N/PatrowlManager/queue"
)

func setupQueue(t *testing.T) *queue.RedisClient {
	t.Helper()

	mr := miniredis.RunT(t)
	conn, err := queue.Dial(queue.RedisOptions{
		URL: fmt.Sprintf("redis://%s", mr.Addr()),
	})
	require.NoError(t, err)
	client := queue.NewRedisClientFrom(conn)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestWorker_Run(t *testing.T) {
	fx := newFixture(t)
	client := setupQueue(t)

	w := NewWorker(client, fx.proc, WorkerOptions{
		Concurrency:       2,
		ShutdownTimeout:   5 * time.Second,
		HeartbeatInterval: 50 * time.Millisecond,
		Version:           "test",
		Logger:            slog.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := client.GetWorkerCount(context.Background(), queue.DefaultQueue)
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)

	workers, err := client.ListWorkers(context.Background())
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, w.ID(), workers[0].ID)
	assert.Contains(t, workers[0].Engines, "sarif")

	path := fx.saveFile(t, "sarif", "testdata/results.sarif")
	job := queue.ImportJob{
		JobID:       "job-1",
		OwnerID:     "u1",
		Engine:      "sarif",
		MinLevel:    "medium",
		Path:        path,
		SubmittedAt: time.Now().UnixMilli(),
	}

	subCtx, subCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer subCancel()
	results, err := client.Subscribe(subCtx, queue.ResultChannel(job.JobID))
	require.NoError(t, err)
	require.NoError(t, client.Push(context.Background(), queue.DefaultQueue, job))

	select {
	case res := <-results:
		assert.Equal(t, "job-1", res.JobID)
		assert.Empty(t, res.Error)
		assert.Equal(t, 2, res.Created)
		assert.Equal(t, 1, res.Skipped)
		assert.Equal(t, w.ID(), res.WorkerID)
		assert.NoError(t, res.IsValid())
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for import result")
	}

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(queue.PopTimeout + 5*time.Second):
		t.Fatal("worker did not stop")
	}

	n, err := client.GetWorkerCount(context.Background(), queue.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWorker_HandleErrors(t *testing.T) {
	fx := newFixture(t)
	w := NewWorker(setupQueue(t), fx.proc, WorkerOptions{})

	t.Run("invalid job", func(t *testing.T) {
		res := w.Handle(context.Background(), queue.ImportJob{JobID: "j"})
		assert.Contains(t, res.Error, "invalid import job")
		assert.Equal(t, "j", res.JobID)
	})

	t.Run("unsupported engine", func(t *testing.T) {
		res := w.Handle(context.Background(), queue.ImportJob{
			JobID:       "j2",
			OwnerID:     "u1",
			Engine:      "nessus",
			Path:        "/tmp/x.nessus",
			SubmittedAt: time.Now().UnixMilli(),
		})
		assert.Contains(t, res.Error, "unsupported engine")
		assert.Empty(t, res.ScanID)
		assert.GreaterOrEqual(t, res.CompletedAt, res.StartedAt)
	})
}

func TestRemoteParent(t *testing.T) {
	ctx := remoteParent(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")
	sc := trace.SpanContextFromContext(ctx)
	assert.True(t, sc.IsValid())
	assert.True(t, sc.IsRemote())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())

	ctx = remoteParent(context.Background(), "", "")
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}
