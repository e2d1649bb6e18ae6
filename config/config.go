// Package config loads patrowl.yaml, the configuration shared by the API
// server, the import workers and the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	patrowl "github.com/D-E-N/PatrowlManager"
	"github.com/D-E-N/PatrowlManager/queue"
	"github.com/D-E-N/PatrowlManager/registry"
	"github.com/D-E-N/PatrowlManager/tracker"
)

// FileNames are searched, in order, when Load is given a directory.
var FileNames = []string{"patrowl.yaml", "patrowl.yml"}

// Environment overrides applied by ApplyEnv.
const (
	EnvRedisURL = "PATROWL_REDIS_URL"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config represents a patrowl.yaml file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Worker    WorkerConfig    `yaml:"worker"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Registry  registry.Config `yaml:"registry"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the HTTP listen address. Default: ":8080"
	Addr string `yaml:"addr,omitempty"`

	// HealthAddr is the gRPC health listen address. Empty disables it.
	HealthAddr string `yaml:"health_addr,omitempty"`

	// ReadTimeout and WriteTimeout are Go duration strings. Defaults: 30s, 60s
	ReadTimeout  string `yaml:"read_timeout,omitempty"`
	WriteTimeout string `yaml:"write_timeout,omitempty"`

	// MaxUploadMB caps import uploads. Default: 32
	MaxUploadMB int64 `yaml:"max_upload_mb,omitempty"`
}

// StorageConfig selects the finding store and the upload directory.
type StorageConfig struct {
	// Backend is "memory" or "redis". Default: "memory"
	Backend string `yaml:"backend,omitempty"`

	// KeyPrefix namespaces Redis keys of the store.
	KeyPrefix string `yaml:"key_prefix,omitempty"`

	// MediaRoot receives uploaded reports under imports/. Default: "./media"
	MediaRoot string `yaml:"media_root,omitempty"`
}

// RedisConfig configures the connection shared by the queue and the store.
type RedisConfig struct {
	URL            string `yaml:"url,omitempty"`
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`
	ReadTimeout    string `yaml:"read_timeout,omitempty"`
	WriteTimeout   string `yaml:"write_timeout,omitempty"`
}

// WorkerConfig defines configuration for the import workers.
type WorkerConfig struct {
	// Queue is the Redis queue to consume. Default: "default"
	Queue string `yaml:"queue,omitempty"`

	// Concurrency is the number of imports processed in parallel.
	// Default: 4
	Concurrency int `yaml:"concurrency,omitempty"`

	// ShutdownTimeout is the time to wait for in-flight imports.
	// Default: 30s
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`

	// HeartbeatInterval is the interval between worker heartbeats.
	// Default: 10s
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty"`

	// JobTimeout bounds one import. Empty means no limit.
	JobTimeout string `yaml:"job_timeout,omitempty"`
}

// TrackerConfig tunes timeline building.
type TrackerConfig struct {
	// MatchPolicy is "any" or "first-only". Default: "any"
	MatchPolicy string `yaml:"match_policy,omitempty"`

	// Concurrency bounds parallel sibling scan loads. Default: 8
	Concurrency int `yaml:"concurrency,omitempty"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name,omitempty"`
}

// LogConfig configures slog and file rotation.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level,omitempty"`

	// Format is json or text. Default: json
	Format string `yaml:"format,omitempty"`

	// File, when set, receives logs through a rotating writer.
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills empty fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 32
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Storage.MediaRoot == "" {
		c.Storage.MediaRoot = "./media"
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379"
	}
	if c.Worker.Queue == "" {
		c.Worker.Queue = queue.DefaultQueue
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "patrowl-findings"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Registry.Namespace == "" {
		c.Registry.Namespace = registry.DefaultNamespace
	}
	if c.Registry.TTL <= 0 {
		c.Registry.TTL = registry.DefaultTTL
	}
}

// ApplyEnv overrides the Redis URL and the registry endpoints from the
// environment.
func (c *Config) ApplyEnv() {
	if url := strings.TrimSpace(os.Getenv(EnvRedisURL)); url != "" {
		c.Redis.URL = url
	}
	if endpoints := registry.EndpointsFromEnv(); len(endpoints) > 0 {
		c.Registry.Endpoints = endpoints
	}
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Storage.Backend != BackendMemory && c.Storage.Backend != BackendRedis {
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Storage.Backend))
	}

	durations := map[string]string{
		"server.read_timeout":       c.Server.ReadTimeout,
		"server.write_timeout":      c.Server.WriteTimeout,
		"redis.connect_timeout":     c.Redis.ConnectTimeout,
		"redis.read_timeout":        c.Redis.ReadTimeout,
		"redis.write_timeout":       c.Redis.WriteTimeout,
		"worker.shutdown_timeout":   c.Worker.ShutdownTimeout,
		"worker.heartbeat_interval": c.Worker.HeartbeatInterval,
		"worker.job_timeout":        c.Worker.JobTimeout,
	}
	for _, key := range sortedKeys(durations) {
		if v := durations[key]; v != "" {
			if d, err := time.ParseDuration(v); err != nil || d < 0 {
				errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			}
		}
	}

	if c.Worker.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("worker.concurrency must not be negative"))
	}
	if c.Tracker.MatchPolicy != "" {
		if _, ok := tracker.ParseMatchPolicy(c.Tracker.MatchPolicy); !ok {
			errs = append(errs, fmt.Errorf("tracker.match_policy: unknown policy %q", c.Tracker.MatchPolicy))
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return patrowl.NewConfigurationError("config.Validate",
		fmt.Errorf("%w: %w", patrowl.ErrInvalidConfig, errors.Join(errs...)))
}

// Load reads and parses a patrowl.yaml file. If path is a directory it
// looks for one of FileNames inside it. Defaults are applied; environment
// overrides are not.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range FileNames {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no %s found in %s", strings.Join(FileNames, " or "), path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.ApplyDefaults()

	return &config, nil
}

// LoadFromDir searches for patrowl.yaml starting from dir and walking up to
// parent directories until found or root is reached.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		config, err := Load(absDir)
		if err == nil {
			return config, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("no patrowl.yaml found in %s or parent directories", dir)
		}
		absDir = parent
	}
}

// LoadFromCurrentDir loads patrowl.yaml from the current working directory
// or its parents.
func LoadFromCurrentDir() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return LoadFromDir(cwd)
}

// Resolve loads path, or searches from the current directory when path is
// empty and falls back to defaults when nothing is found. Environment
// overrides are applied and the result validated.
func Resolve(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path != "" {
		cfg, err = Load(path)
		if err != nil {
			return nil, patrowl.NewConfigurationError("config.Resolve", err)
		}
	} else if cfg, err = LoadFromCurrentDir(); err != nil {
		cfg = Default()
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
