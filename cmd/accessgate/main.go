package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/caregrid/accessgate/pkg/api"
	"github.com/caregrid/accessgate/pkg/async"
	"github.com/caregrid/accessgate/pkg/bootstrap"
	"github.com/caregrid/accessgate/pkg/config"
	"github.com/caregrid/accessgate/pkg/middleware"
	"github.com/caregrid/accessgate/pkg/notify"
	"github.com/caregrid/accessgate/pkg/observability"
	"github.com/caregrid/accessgate/pkg/storage"
)

var version = "dev"

func main() {
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the environment")
	migrateOnly := flag.Bool("migrate-only", false, "Run migrations and reconcile the manifest, then exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger, *migrateOnly); err != nil {
		logger.WithError(err).Fatal("accessgate exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger, migrateOnly bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelCfg := cfg.Observability.OTel()
	otelCfg.ServiceVersion = version
	telemetry, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.WithField("driver", cfg.Database.Driver).Info("Database connected")

	if err := storage.RunMigrations(ctx, db, cfg.Database.Dialect(), logger); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var redisClient *redis.Client
	var publisher notify.Publisher = notify.Nop()
	var limiter *middleware.RateLimiter
	if cfg.Redis.Enabled {
		redisClient, err = notify.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.PoolSize)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		publisher = notify.NewRedisPublisher(redisClient, cfg.Redis.Channel)
		limiter = middleware.NewRateLimiter(redisClient, nil, "")
		logger.WithField("channel", cfg.Redis.Channel).Info("Change notifications enabled")
	}

	server := api.NewServer(api.Options{
		DB:          db,
		Redis:       redisClient,
		Publisher:   publisher,
		Logger:      logger,
		Metrics:     metrics,
		Registry:    registry,
		RateLimiter: limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
		Version:     version,
	})

	reconciler := bootstrap.NewReconciler(server.Catalog, server.Roles, server.Modules, server.Registry, metrics, logger)
	if err := reconcile(ctx, reconciler, cfg.Bootstrap.ManifestPath); err != nil {
		return err
	}
	if migrateOnly {
		logger.Info("Migrations and reconciliation complete")
		return nil
	}

	if cfg.Bootstrap.WatchManifest {
		watcher := bootstrap.NewWatcher(cfg.Bootstrap.ManifestPath, reconciler, logger)
		async.SafeGo(ctx, logger, 0, "manifest watcher", watcher.Run)
	}

	scanner := bootstrap.NewIntegrityScanner(server.Registry, metrics, logger)
	scheduler, err := scanner.Schedule(ctx, cfg.Bootstrap.IntegritySchedule)
	if err != nil {
		return err
	}
	scheduler.Start()
	// Run once at startup so the gauge is populated before the first tick
	async.SafeGo(ctx, logger, time.Minute, "integrity scan", func(ctx context.Context) error {
		_, err := scanner.Scan(ctx)
		return err
	})

	async.Every(ctx, logger, 15*time.Second, "db stats", func(ctx context.Context) error {
		metrics.RecordDBStats(db)
		return nil
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("background tasks", func(ctx context.Context) error {
		cancel()
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("telemetry", telemetry.Shutdown)
	shutdown.Register("audit", func(ctx context.Context) error {
		return server.Audit.Close()
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Starting accessgate")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- shutdown.WaitForShutdown(ctx) }()

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case err := <-shutdownDone:
		return err
	}
}

func reconcile(ctx context.Context, reconciler *bootstrap.Reconciler, path string) error {
	manifest := &bootstrap.Manifest{}
	if path != "" {
		loaded, err := bootstrap.LoadManifest(path)
		if err != nil {
			return err
		}
		manifest = loaded
	}
	// An empty manifest still seeds the built-in permissions
	_, err := reconciler.Apply(ctx, manifest)
	return err
}
