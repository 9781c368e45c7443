package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"vigil/internal/alert"
	alerthandler "vigil/internal/alert/handler"
	"vigil/internal/archive"
	"vigil/internal/event"
	"vigil/internal/inference"
	"vigil/internal/intake"
	intakehandler "vigil/internal/intake/handler"
	"vigil/internal/platform/config"
	"vigil/internal/platform/httpserver"
	"vigil/internal/platform/kafka"
	"vigil/internal/platform/logger"
	"vigil/internal/platform/metrics"
	platformredis "vigil/internal/platform/redis"
	"vigil/internal/processor"
	"vigil/internal/queue"
	"vigil/internal/record"
	"vigil/pkg/platform/circuit"
)

// main wires the pipeline end to end: intake HTTP -> Kafka queue ->
// processor workers -> Postgres/ClickHouse -> inference -> alerts.
// Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("vigil exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Queue.
	if err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers, 3, cfg.Kafka.EventsTopic, cfg.Kafka.AlertsTopic); err != nil {
		return err
	}
	kafkaProducer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		return err
	}
	defer kafkaProducer.Close()
	kafkaConsumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, cfg.Kafka.EventsTopic)
	if err != nil {
		return err
	}
	producer := queue.NewKafkaProducer(kafkaProducer, cfg.Kafka.EventsTopic)
	consumer := queue.NewKafkaConsumer(kafkaConsumer, log)
	defer consumer.Close()

	// Durable store.
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	recordStore := record.NewPostgresStore(db)
	if err := recordStore.EnsureSchema(ctx); err != nil {
		return err
	}
	alertStore := alert.NewPostgresStore(db)
	if err := alertStore.EnsureSchema(ctx); err != nil {
		return err
	}

	// Cold archive, optional.
	var archiver archive.Archiver = archive.Nop{}
	if cfg.ClickHouse.DSN != "" {
		clickhouse, err := archive.Connect(cfg.ClickHouse.DSN)
		if err != nil {
			return err
		}
		defer clickhouse.Close()
		if err := clickhouse.EnsureSchema(ctx); err != nil {
			return err
		}
		archiver = clickhouse
		log.Info("clickhouse archive enabled")
	} else {
		log.Warn("no clickhouse DSN configured, raw events will not be archived")
	}

	// Alert dedup, Redis when configured.
	var deduper alert.Deduper = alert.NewMemoryDeduper()
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		deduper = alert.NewRedisDeduper(redisClient.Client)
		log.Info("redis alert dedup enabled")
	} else {
		log.Warn("no redis URL configured, alert dedup is in-process only")
	}

	// Inference client behind a circuit breaker.
	breaker := circuit.New("inference",
		circuit.WithFailureThreshold(cfg.Inference.BreakerFailures),
		circuit.WithSuccessThreshold(cfg.Inference.BreakerSuccesses),
	)
	scorer := inference.New(cfg.Inference.URL, cfg.Inference.Timeout, log,
		inference.WithBreaker(breaker),
		inference.WithMetrics(m),
	)

	// Alerting and processing.
	publisher := alert.NewKafkaPublisher(kafkaProducer, cfg.Kafka.AlertsTopic)
	emitter := alert.NewEmitter(deduper, alertStore, publisher, cfg.Alerting.DedupWindow, log, m)
	normalizer := event.NewNormalizer(cfg.Alerting.WatchedLabels)
	proc := processor.New(consumer, recordStore, scorer, archiver, emitter, normalizer, log, m,
		processor.WithBackoff(processor.Backoff{
			Base:        cfg.Processor.BackoffBase,
			Cap:         cfg.Processor.BackoffCap,
			MaxAttempts: cfg.Processor.MaxAttempts,
		}),
	)

	// HTTP surface.
	intakeService := intake.NewService(producer, log, m)
	router := chi.NewRouter()
	intakehandler.New(intakeService, log).Register(router)
	alerthandler.New(alertStore, log).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", healthz(db, redisClient))

	srv := httpserver.New(cfg.Server.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("processor workers starting", "workers", cfg.Processor.Workers)
		return proc.Run(ctx, cfg.Processor.Workers)
	})
	g.Go(func() error {
		log.Info("vigil listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("vigil stopped")
	return nil
}

// healthz reports liveness of the durable dependencies.
func healthz(db *sql.DB, redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
			return
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
