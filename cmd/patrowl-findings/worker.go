package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/D-E-N/PatrowlManager/asset"
	"github.com/D-E-N/PatrowlManager/config"
	"github.com/D-E-N/PatrowlManager/importer"
	"github.com/D-E-N/PatrowlManager/queue"
	"github.com/D-E-N/PatrowlManager/registry"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued report imports",
	Long: `Pop import jobs from the Redis queue, parse the uploaded reports and
merge them into the findings store. Requires storage.backend: redis so the
API and the workers share findings.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWorker(ctx)
	},
}

func runWorker(ctx context.Context) error {
	a, err := setup(true)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if cfg.Storage.Backend != config.BackendRedis {
		return fmt.Errorf("worker requires storage.backend %q, got %q", config.BackendRedis, cfg.Storage.Backend)
	}

	risk := asset.NewGrader(a.repo, a.logger)
	proc := importer.NewProcessor(a.repo, risk, importer.NewUploads(cfg.Storage.MediaRoot), a.logger)
	w := importer.NewWorker(queue.NewRedisClientFrom(a.redis), proc, workerOptions(a))

	if err := a.startHealthServer(ctx, a.checker()); err != nil {
		return err
	}
	deregister, err := a.register(ctx, registry.ServiceInfo{
		Kind:       registry.KindWorker,
		Name:       cfg.Telemetry.ServiceName,
		InstanceID: w.ID(),
		Metadata: map[string]string{
			registry.MetaQueue:       cfg.Worker.Queue,
			registry.MetaEngines:     strings.Join(importer.Engines(), ","),
			registry.MetaConcurrency: strconv.Itoa(cfg.Worker.GetConcurrency()),
			registry.MetaHealthAddr:  cfg.Server.HealthAddr,
		},
	})
	if err != nil {
		return err
	}
	defer deregister()

	return w.Run(ctx)
}

func workerOptions(a *app) importer.WorkerOptions {
	return importer.WorkerOptions{
		Queue:             a.cfg.Worker.Queue,
		Concurrency:       a.cfg.Worker.GetConcurrency(),
		ShutdownTimeout:   a.cfg.Worker.GetShutdownTimeout(),
		HeartbeatInterval: a.cfg.Worker.GetHeartbeatInterval(),
		JobTimeout:        a.cfg.Worker.GetJobTimeout(),
		Version:           version,
		Logger:            a.logger,
	}
}
