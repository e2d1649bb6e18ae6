package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/D-E-N/PatrowlManager/asset"
	"github.com/D-E-N/PatrowlManager/httpapi"
	"github.com/D-E-N/PatrowlManager/importer"
	"github.com/D-E-N/PatrowlManager/queue"
	"github.com/D-E-N/PatrowlManager/registry"
	"github.com/D-E-N/PatrowlManager/service"
	"github.com/D-E-N/PatrowlManager/tracker"
)

var flagInlineWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the findings API",
	Long: `Serve the findings HTTP API. Uploaded reports are queued in Redis and
processed by "patrowl-findings worker", or in-process with --worker.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&flagInlineWorker, "worker", false, "also run an import worker in this process")
}

func runServe(ctx context.Context) error {
	a, err := setup(flagInlineWorker)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	logger := a.logger
	risk := asset.NewGrader(a.repo, logger)
	uploads := importer.NewUploads(cfg.Storage.MediaRoot)
	trk := tracker.New(a.repo, append(cfg.Tracker.Options(), tracker.WithLogger(logger))...)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithRiskEvaluator(risk),
		service.WithTracker(trk),
	}
	var jobs *queue.RedisClient
	if a.redis != nil {
		jobs = queue.NewRedisClientFrom(a.redis)
		opts = append(opts, service.WithImports(uploads, jobs, cfg.Worker.Queue))
	}
	svc := service.New(a.repo, opts...)

	checker := a.checker()
	api := httpapi.New(svc,
		httpapi.WithLogger(logger),
		httpapi.WithHealth(checker),
		httpapi.WithMaxUploadBytes(cfg.Server.MaxUploadBytes()),
	)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.GetReadTimeout(),
		WriteTimeout:      cfg.Server.GetWriteTimeout(),
	}

	if err := a.startHealthServer(ctx, checker); err != nil {
		return err
	}
	deregister, err := a.register(ctx, registry.ServiceInfo{
		Kind:       registry.KindAPI,
		Name:       cfg.Telemetry.ServiceName,
		InstanceID: uuid.New().String(),
		Endpoint:   cfg.Server.Addr,
		Metadata: map[string]string{
			registry.MetaQueue:      cfg.Worker.Queue,
			registry.MetaHealthAddr: cfg.Server.HealthAddr,
		},
	})
	if err != nil {
		return err
	}
	defer deregister()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("findings api listening",
			"addr", cfg.Server.Addr,
			"backend", cfg.Storage.Backend,
			"match_policy", trk.Policy().String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.GetShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if flagInlineWorker {
		proc := importer.NewProcessor(a.repo, risk, uploads, logger)
		w := importer.NewWorker(jobs, proc, workerOptions(a))
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	err = g.Wait()
	logger.Info("findings api stopped")
	return err
}
