package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func TestTracerProvider_LogsSpans(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tp := NewTracerProvider("patrowl-test", "v0.0.1", logger)
	defer tp.Shutdown(context.Background())

	tracer := tp.Tracer("test")
	ctx, parent := tracer.Start(context.Background(), "service.Delete")
	_, child := tracer.Start(ctx, "store.DeleteFinding")
	child.SetAttributes(
		attribute.String("patrowl.finding_id", "f-1"),
		attribute.Int("patrowl.count", 3),
		attribute.Bool("patrowl.raw", false),
		attribute.StringSlice("patrowl.tags", []string{"a", "b"}),
	)
	child.RecordError(errors.New("boom"))
	child.SetStatus(codes.Error, "boom")
	child.End()
	parent.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "span", rec["msg"])
	assert.Equal(t, "store.DeleteFinding", rec["name"])
	assert.Equal(t, "error", rec["status"])
	assert.Equal(t, "boom", rec["status_message"])
	assert.NotEmpty(t, rec["parent_span_id"])
	assert.EqualValues(t, 1, rec["events"])

	attrs, ok := rec["attributes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "f-1", attrs["patrowl.finding_id"])
	assert.EqualValues(t, 3, attrs["patrowl.count"])
	assert.Equal(t, false, attrs["patrowl.raw"])
	assert.Contains(t, attrs["patrowl.tags"], "a")

	rec = map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "service.Delete", rec["name"])
	assert.Equal(t, "unset", rec["status"])
	assert.NotContains(t, rec, "parent_span_id")
}

func TestLogExporter_SkipsBelowDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	tp := NewTracerProvider("patrowl-test", "dev", logger)
	_, span := tp.Tracer("test").Start(context.Background(), "quiet")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Empty(t, buf.String())
}

func TestSetup_Disabled(t *testing.T) {
	shutdown := Setup(false, "patrowl-test", "dev", nil)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewLogger(t *testing.T) {
	t.Run("rotating file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "findings.log")
		logger, closer := NewLogger(LogOptions{Level: slog.LevelInfo, Format: "json", File: path})
		logger.Debug("hidden")
		logger.Info("import queued", "job_id", "j-1")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "hidden")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
		assert.Equal(t, "import queued", rec["msg"])
		assert.Equal(t, "j-1", rec["job_id"])
	})

	t.Run("text format", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "findings.log")
		logger, closer := NewLogger(LogOptions{Level: slog.LevelDebug, Format: "TEXT", File: path})
		logger.Debug("timeline built", "entries", 3)
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "msg=\"timeline built\" entries=3")
	})

	t.Run("stderr", func(t *testing.T) {
		logger, closer := NewLogger(LogOptions{})
		assert.NotNil(t, logger)
		assert.NoError(t, closer.Close())
	})
}
