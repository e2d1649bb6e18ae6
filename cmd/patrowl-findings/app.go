package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/D-E-N/PatrowlManager/config"
	"github.com/D-E-N/PatrowlManager/health"
	"github.com/D-E-N/PatrowlManager/queue"
	"github.com/D-E-N/PatrowlManager/registry"
	"github.com/D-E-N/PatrowlManager/store"
	"github.com/D-E-N/PatrowlManager/telemetry"
)

// app holds what every long-running command sets up from the config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	// redis is nil when the memory backend runs without a reachable server.
	redis *redis.Client
	repo  store.Store

	closers []func() error
}

// setup loads the config and builds the logger, tracer and store. requireRedis
// makes an unreachable Redis fatal even with the memory backend.
func setup(requireRedis bool) (*app, error) {
	cfg, err := config.Resolve(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLevel != "" {
		cfg.Log.Level = flagLevel
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	logger, logCloser := telemetry.NewLogger(telemetry.LogOptions{
		Level:      level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, logCloser.Close)

	shutdown := telemetry.Setup(cfg.Telemetry.Enabled, cfg.Telemetry.ServiceName, version, logger)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	client, err := queue.Dial(cfg.Redis.Options())
	switch {
	case err == nil:
		a.redis = client
		a.closers = append(a.closers, client.Close)
	case requireRedis || cfg.Storage.Backend == config.BackendRedis:
		_ = a.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	default:
		logger.Warn("redis unavailable, imports disabled", "url", cfg.Redis.URL, "error", err)
	}

	if cfg.Storage.Backend == config.BackendRedis {
		a.repo = store.NewRedis(a.redis, cfg.Storage.KeyPrefix)
	} else {
		a.repo = store.NewMemory()
	}

	return a, nil
}

// checker registers the dependency checks shared by the API and the worker.
func (a *app) checker() *health.Checker {
	c := health.NewChecker(5 * time.Second)
	if a.redis != nil {
		c.Register("redis", func(ctx context.Context) health.Status {
			return health.RedisCheck(ctx, a.redis, 500*time.Millisecond)
		})
		jobs, name := queue.NewRedisClientFrom(a.redis), a.cfg.Worker.Queue
		c.Register("queue", func(ctx context.Context) health.Status {
			return health.QueueCheck(ctx, jobs, name)
		})
	}
	if a.cfg.Registry.Enabled() {
		endpoints := a.cfg.Registry.Endpoints
		c.Register("registry", func(ctx context.Context) health.Status {
			statuses := make([]health.Status, 0, len(endpoints))
			for _, ep := range endpoints {
				statuses = append(statuses, health.AddressCheck(ctx, endpointAddress(ep)))
			}
			return health.Combine(statuses...)
		})
	}
	media := a.cfg.Storage.MediaRoot
	c.Register("media", func(context.Context) health.Status {
		return health.WritableDirCheck(media)
	})
	a.logger.Debug("health checks registered", "checks", c.Names())
	return c
}

// endpointAddress strips the scheme etcd endpoints may carry.
func endpointAddress(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		return endpoint[i+3:]
	}
	return endpoint
}

// startHealthServer serves gRPC health when server.health_addr is set.
func (a *app) startHealthServer(ctx context.Context, checker *health.Checker) error {
	addr := a.cfg.Server.HealthAddr
	if addr == "" {
		return nil
	}
	srv, err := health.NewServer(addr, checker, 10*time.Second, a.logger)
	if err != nil {
		return err
	}
	go func() {
		if err := srv.Serve(ctx); err != nil {
			a.logger.Error("health server stopped", "error", err)
		}
	}()
	return nil
}

// register announces the instance in etcd when the registry is configured.
// The returned function deregisters and closes the client.
func (a *app) register(ctx context.Context, info registry.ServiceInfo) (func(), error) {
	if !a.cfg.Registry.Enabled() {
		return func() {}, nil
	}
	client, err := registry.NewClient(a.cfg.Registry, a.logger)
	if err != nil {
		return nil, err
	}
	info.Version = version
	info.StartedAt = time.Now()
	if err := client.Register(ctx, info); err != nil {
		_ = client.Close()
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Deregister(ctx, info); err != nil {
			a.logger.Warn("failed to deregister", "error", err)
		}
		_ = client.Close()
	}, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
