package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/D-E-N/PatrowlManager/queue"
	"github.com/D-E-N/PatrowlManager/tracker"
)

// durationOr parses s and returns def when s is empty or invalid.
func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// GetReadTimeout returns the HTTP read timeout or 30s.
func (s ServerConfig) GetReadTimeout() time.Duration {
	return durationOr(s.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the HTTP write timeout or 60s.
func (s ServerConfig) GetWriteTimeout() time.Duration {
	return durationOr(s.WriteTimeout, 60*time.Second)
}

// MaxUploadBytes returns the upload cap in bytes.
func (s ServerConfig) MaxUploadBytes() int64 {
	if s.MaxUploadMB <= 0 {
		return 32 << 20
	}
	return s.MaxUploadMB << 20
}

// Options converts the section for queue.Dial.
func (r RedisConfig) Options() queue.RedisOptions {
	return queue.RedisOptions{
		URL:            r.URL,
		ConnectTimeout: durationOr(r.ConnectTimeout, 0),
		ReadTimeout:    durationOr(r.ReadTimeout, 0),
		WriteTimeout:   durationOr(r.WriteTimeout, 0),
	}
}

// GetConcurrency returns the configured concurrency or 4.
func (w WorkerConfig) GetConcurrency() int {
	if w.Concurrency <= 0 {
		return 4
	}
	return w.Concurrency
}

// GetShutdownTimeout returns the shutdown timeout or 30s.
func (w WorkerConfig) GetShutdownTimeout() time.Duration {
	return durationOr(w.ShutdownTimeout, 30*time.Second)
}

// GetHeartbeatInterval returns the heartbeat interval or 10s.
func (w WorkerConfig) GetHeartbeatInterval() time.Duration {
	return durationOr(w.HeartbeatInterval, 10*time.Second)
}

// GetJobTimeout returns the per-import timeout, zero for none.
func (w WorkerConfig) GetJobTimeout() time.Duration {
	return durationOr(w.JobTimeout, 0)
}

// Options returns the tracker options for this section.
func (t TrackerConfig) Options() []tracker.Option {
	var opts []tracker.Option
	if t.MatchPolicy != "" {
		if p, ok := tracker.ParseMatchPolicy(t.MatchPolicy); ok {
			opts = append(opts, tracker.WithMatchPolicy(p))
		}
	}
	if t.Concurrency > 0 {
		opts = append(opts, tracker.WithConcurrency(t.Concurrency))
	}
	return opts
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", s)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
