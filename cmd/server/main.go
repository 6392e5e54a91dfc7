package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/opsedge/internal/activity"
	"github.com/sdko-org/opsedge/internal/cache"
	"github.com/sdko-org/opsedge/internal/config"
	"github.com/sdko-org/opsedge/internal/database"
	"github.com/sdko-org/opsedge/internal/devices"
	"github.com/sdko-org/opsedge/internal/handlers"
	httpserver "github.com/sdko-org/opsedge/internal/http"
	"github.com/sdko-org/opsedge/internal/storage"
	"github.com/sdko-org/opsedge/internal/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	configureLogger(logger, cfg)

	log := logger.WithField("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *gorm.DB
	if cfg.NeedsDatabase() {
		db, err = database.NewPostgresDB(ctx, logger, database.PostgresConfig{
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			DBName:   cfg.PostgresDatabase,
			SSLMode:  cfg.PostgresSSLMode,
		})
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize database")
		}
	}

	kv, err := newKV(logger, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize snapshot storage")
	}

	opts := cache.Options{
		MaxAge:           cfg.MaxCacheAge,
		MaxSize:          cfg.MaxCacheSize,
		MaxEntries:       cfg.MaxEntries,
		EvictionTarget:   cfg.EvictionTarget,
		QuotaRetryTarget: cfg.QuotaRetryTarget,
	}
	if cfg.MirrorIndex {
		opts.Index = database.NewSnapshotIndexStore(db)
	}
	snapshotCache := cache.New(logger, kv, opts)

	if err := snapshotCache.Load(ctx); err != nil {
		log.WithError(err).Warn("Snapshot index not restored, starting empty")
	}

	sink, closeSink, err := newTransport(logger, cfg, db)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize activity transport")
	}
	defer closeSink()

	dispatcher := activity.NewDispatcher(logger, sink, cfg.DispatchWorkers, cfg.DispatchBuffer, cfg.DispatchTimeout)
	scheduler := activity.NewFlushScheduler(logger, sink, activity.SchedulerOptions{
		BatchSize:      cfg.BatchSize,
		BatchDelay:     cfg.BatchDelay,
		MaxQueueLength: cfg.MaxQueueLength,
		SendTimeout:    cfg.DispatchTimeout,
	})
	recorder := activity.NewRecorder(logger, activity.NewSession(), activity.DefaultRouter(), dispatcher, scheduler)

	client := devices.NewClient(logger, cfg.DeviceAPIURL, cfg.DeviceRateLimit, 30*time.Second)
	snapshots := devices.NewSnapshots(logger, snapshotCache, client)
	poller := devices.NewPoller(logger, snapshots, cfg.DeviceIDs, cfg.PollInterval)
	purger := cache.NewPurger(logger, snapshotCache, cfg.PurgeInterval)

	limiter := handlers.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	r := mux.NewRouter()
	r.Use(handlers.LoggingMiddleware(logger))
	r.Use(limiter.Middleware)
	handlers.RegisterRoutes(r, handlers.NewHandler(logger, snapshots, snapshotCache, recorder))

	server, err := httpserver.New(logger, r, httpserver.Options{
		Addr:    cfg.ListenAddr,
		TLSAddr: cfg.TLSListenAddr,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to configure HTTP server")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Serve)
	g.Go(func() error {
		purger.Start(gctx)
		return nil
	})
	g.Go(func() error {
		poller.Start(gctx)
		return nil
	})
	g.Go(func() error {
		limiter.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP shutdown incomplete")
		}
		return recorder.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Server exited with error")
		closeSink()
		os.Exit(1)
	}
	log.Info("Server stopped")
}

func configureLogger(logger *logrus.Logger, cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func newKV(logger *logrus.Logger, cfg *config.Config) (storage.KV, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewS3KV(logger, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    "snapshots",
		})
	}
	return storage.NewBounded(storage.NewMemoryKV(), cfg.StorageCapacity), nil
}

// newTransport returns the activity sink and a func releasing its resources.
func newTransport(logger *logrus.Logger, cfg *config.Config, db *gorm.DB) (activity.Transport, func(), error) {
	noop := func() {}

	switch cfg.ActivitySink {
	case "kafka":
		kt, err := transport.NewKafkaTransport(logger, transport.KafkaConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			WriteTimeout: cfg.DispatchTimeout,
		})
		if err != nil {
			return nil, noop, err
		}
		return kt, func() {
			if err := kt.Close(); err != nil {
				logger.WithError(err).Warn("Kafka writer close failed")
			}
		}, nil
	case "postgres":
		return transport.NewGormTransport(db), noop, nil
	default:
		return transport.NewHTTPTransport(logger, cfg.ActivityURL, cfg.DispatchTimeout), noop, nil
	}
}
