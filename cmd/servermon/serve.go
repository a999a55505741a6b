package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NikhilSetiya/servermon/internal/alerting"
	"github.com/NikhilSetiya/servermon/internal/api"
	"github.com/NikhilSetiya/servermon/internal/jobs"
	"github.com/NikhilSetiya/servermon/pkg/health"
)

func newServeCommand() *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve the API without running periodic jobs")
	return cmd
}

func runServe(noScheduler bool) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go a.dispatcher.Run(ctx)
	defer a.dispatcher.Stop()

	scheduler := jobs.NewScheduler(jobs.SchedulerConfig{
		RunOnStart:      cfg.Scheduler.RunOnStart,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if !noScheduler {
		if err := scheduler.Register(a.collection, cfg.Scheduler.CollectionInterval); err != nil {
			return err
		}
		if err := scheduler.Register(a.evaluator, cfg.Scheduler.EvaluationInterval); err != nil {
			return err
		}
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
	}

	if cfg.Alerts.RulesFile != "" && cfg.Alerts.WatchRules {
		go func() {
			if err := alerting.WatchThresholds(ctx, cfg.Alerts.RulesFile, a.evaluator.SetThresholds); err != nil {
				logger.WithError(err).Error("Threshold watcher stopped")
			}
		}()
	}

	checks := health.NewService(logger, 0)
	checks.RegisterChecker("database", health.NewDatabaseChecker(a.db, "database"))
	if a.redis != nil {
		checks.RegisterChecker("redis", health.NewRedisChecker(a.redis, "redis"))
	}
	if !noScheduler {
		checks.RegisterChecker("scheduler", health.NewCustomChecker("scheduler", func(context.Context) (health.Status, string, error) {
			if !scheduler.IsRunning() {
				return health.StatusUnhealthy, "", errors.New("scheduler is not running")
			}
			return health.StatusHealthy, "scheduler is running", nil
		}))
	}

	deps := api.Dependencies{
		Targets:   a.targets,
		Samples:   a.history,
		Refresher: a.collection,
		Alerts:    a.alerts,
		Lifecycle: a.lifecycle,
		Health:    checks,
		Metrics:   a.metrics,
		Logger:    logger,
	}
	if a.hub != nil {
		deps.Hub = a.hub
	}

	server := &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      api.NewRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("API server failed")
			cancel()
		}
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	if scheduler.IsRunning() {
		if err := scheduler.Stop(); err != nil {
			logger.WithError(err).Warn("Scheduler did not stop cleanly")
		}
	}

	logger.Info("Server exited")
	return nil
}
