package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/NikhilSetiya/servermon/internal/alerting"
	"github.com/NikhilSetiya/servermon/internal/cache"
	"github.com/NikhilSetiya/servermon/internal/collector"
	"github.com/NikhilSetiya/servermon/internal/database"
	"github.com/NikhilSetiya/servermon/internal/jobs"
	"github.com/NikhilSetiya/servermon/internal/notify"
	"github.com/NikhilSetiya/servermon/pkg/config"
	"github.com/NikhilSetiya/servermon/pkg/logging"
	"github.com/NikhilSetiya/servermon/pkg/metrics"
	"github.com/NikhilSetiya/servermon/pkg/tracing"
)

// app holds the wired pipeline shared by every command
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  *tracing.TracingService

	db      *database.DB
	redis   *redis.Client
	targets *database.TargetRepository
	samples cache.SampleStore
	history *database.SampleRepository
	alerts  *database.AlertRepository

	dispatcher *notify.Dispatcher
	hub        *notify.Hub
	kafka      *kafka.Writer

	collection *jobs.CollectionJob
	evaluator  *alerting.Evaluator
	lifecycle  *alerting.Lifecycle
}

func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "servermon",
		Version:     version,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetGlobalLogger(logger)
	return cfg, logger, nil
}

func openDatabase(cfg *config.Config, logger *logging.Logger) (*database.DB, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	logger.Info("Database connection established", "driver", cfg.Database.Driver)
	return db, nil
}

// newApp wires the pipeline. Optional integrations that fail to connect are
// logged and left out.
func newApp(cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		metrics: metrics.NewMetrics(&metrics.Config{
			Namespace: cfg.Metrics.Namespace,
			Enabled:   cfg.Metrics.Enabled,
		}),
	}

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tracer

	if a.db, err = openDatabase(cfg, logger); err != nil {
		return nil, err
	}
	a.targets = database.NewTargetRepository(a.db)
	a.history = database.NewSampleRepository(a.db)
	a.alerts = database.NewAlertRepository(a.db)
	a.samples = a.history

	a.dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
		BufferSize:     cfg.Notify.BufferSize,
		HandlerTimeout: cfg.Notify.PublishTimeout,
	}, a.metrics)
	a.dispatcher.AddHandler(notify.NewLoggingHandler())

	if cfg.Notify.WebSocket {
		a.hub = notify.NewHub(cfg.Server.AllowedOrigins)
		a.dispatcher.AddHandler(a.hub)
	}

	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without sample cache and pub/sub")
		} else {
			a.redis = client
			a.samples = cache.NewLatestSampleCache(a.history, cache.NewService(client, cfg.Redis.SampleTTL), cfg.Redis.SampleTTL)
			a.dispatcher.AddHandler(notify.NewRedisHandler(client, "servermon:"))
			logger.Info("Redis connection established", "addr", cfg.RedisAddr())
		}
	}

	if cfg.Kafka.Enabled {
		a.kafka = notify.NewKafkaWriter(&cfg.Kafka)
		a.dispatcher.AddHandler(notify.NewKafkaHandler(a.kafka, cfg.Kafka.UserID))
		logger.Info("Kafka alert notifications enabled", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	}

	source, err := collector.NewSource(&cfg.Collector)
	if err != nil {
		a.Close()
		return nil, err
	}
	probe, err := collector.NewProbe(cfg.Collector.Probe)
	if err != nil {
		a.Close()
		return nil, err
	}
	coll := collector.New(source, probe, collector.ConfigFromSettings(&cfg.Collector),
		collector.WithMetrics(a.metrics), collector.WithTracer(a.tracer))

	a.collection = jobs.NewCollectionJob(a.targets, a.samples, coll, a.dispatcher, jobs.CollectionConfig{
		Concurrency: cfg.Scheduler.Concurrency,
		MaxQueued:   cfg.Scheduler.MaxQueued,
	}, a.metrics, a.tracer)

	thresholds := alerting.DefaultThresholds()
	if cfg.Alerts.RulesFile != "" {
		if thresholds, err = alerting.LoadThresholds(cfg.Alerts.RulesFile); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load alert thresholds: %w", err)
		}
	}
	a.evaluator = alerting.NewEvaluator(a.targets, a.samples, a.alerts, a.dispatcher, thresholds, a.metrics, a.tracer)
	a.lifecycle = alerting.NewLifecycle(a.alerts, a.dispatcher)

	return a, nil
}

// Close releases every connection. The dispatcher must already be stopped.
func (a *app) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close Kafka writer")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.WithError(err).Warn("Failed to flush traces")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
