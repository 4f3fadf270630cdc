// Command worker consumes originality-check jobs and writes results back.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/corpuscache"
	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/notifier"
	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/observability"
	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/queue/redpanda"
	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/queue/shared"
	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/repo/postgres"
	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/textextract"
	"github.com/Patrickjoshanedez/capstone-docs/internal/config"
	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
	"github.com/Patrickjoshanedez/capstone-docs/pkg/similarity"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	// Worker metrics are scraped from a dedicated port.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	subRepo := postgres.NewSubmissionRepo(pool)
	blobRepo := postgres.NewBlobRepo(pool)

	var corpus shared.CorpusSource = subRepo
	if cfg.RedisURL != "" {
		if opt, err := redis.ParseURL(cfg.RedisURL); err != nil {
			slog.Warn("invalid redis url, corpus cache disabled", slog.Any("error", err))
		} else {
			rdb := redis.NewClient(opt)
			defer func() { _ = rdb.Close() }()
			corpus = corpuscache.New(rdb, subRepo, cfg.CorpusCacheTTL)
			slog.Info("corpus cache enabled", slog.Duration("ttl", cfg.CorpusCacheTTL))
		}
	}

	var notif domain.Notifier = notifier.Noop{}
	if cfg.NATSURL != "" {
		nc, err := notifier.NewNATS(cfg.NATSURL)
		if err != nil {
			slog.Warn("nats connect failed, notifications disabled", slog.Any("error", err))
		} else {
			notif = nc
			defer nc.Close()
		}
	}

	handler := shared.NewHandler(
		subRepo,
		blobRepo,
		textextract.New(),
		corpus,
		notif,
		similarity.Options{
			StringWeight:  cfg.StringWeight,
			KeywordWeight: cfg.KeywordWeight,
			Threshold:     cfg.MatchThreshold,
		},
		cfg.CorpusLimit,
	)

	consumer, err := redpanda.NewConsumer(redpanda.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		GroupID:    cfg.WorkerGroupID,
		MinWorkers: cfg.WorkerMinWorkers,
		MaxWorkers: cfg.WorkerMaxWorkers,
		SlowJob:    cfg.SlowJobThreshold,
	}, handler)
	if err != nil {
		slog.Error("consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("worker starting",
		slog.String("group_id", cfg.WorkerGroupID),
		slog.String("env", cfg.AppEnv))
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
