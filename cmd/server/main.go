// Command server starts the capstone document submission HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/httpserver"
	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/notifier"
	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/observability"
	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/queue/redpanda"
	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/repo/postgres"
	"github.com/Patrickjoshanedez/capstone-docs/internal/app"
	"github.com/Patrickjoshanedez/capstone-docs/internal/config"
	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
	"github.com/Patrickjoshanedez/capstone-docs/internal/usecase"
	"github.com/Patrickjoshanedez/capstone-docs/pkg/similarity"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	subRepo := postgres.NewSubmissionRepo(pool)
	blobRepo := postgres.NewBlobRepo(pool)
	titleRepo := postgres.NewTitleRepo(pool)

	producer, err := redpanda.NewProducer(redpanda.ProducerConfig{
		Brokers:       cfg.KafkaBrokers,
		ProbeInterval: cfg.QueueProbeInterval,
		ProbeTimeout:  cfg.QueueProbeTimeout,
		ProbeAttempts: cfg.QueueProbeAttempts,
		ProbeBase:     cfg.QueueProbeBaseDelay,
		ProbeMax:      cfg.QueueProbeMaxDelay,
		DrainTimeout:  cfg.QueueDrainTimeout,
	})
	if err != nil {
		slog.Error("queue producer init failed", slog.Any("error", err))
		os.Exit(1)
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

	deadlines, err := config.LoadDeadlines(cfg.DeadlinesPath)
	if err != nil {
		slog.Error("deadline calendar load failed", slog.Any("error", err))
		os.Exit(1)
	}

	opts := similarity.Options{
		StringWeight:  cfg.StringWeight,
		KeywordWeight: cfg.KeywordWeight,
		Threshold:     cfg.MatchThreshold,
	}
	subSvc := usecase.NewSubmissionService(subRepo, blobRepo, producer, notif, deadlines, cfg.MaxUploadBytes())
	resSvc := usecase.NewResultService(subRepo)
	titleSvc := usecase.NewTitleCheckService(titleRepo, opts)

	srv := httpserver.NewServer(cfg, subSvc, resSvc, titleSvc)
	handler := app.BuildRouter(cfg, srv, app.ReadyzHandler(pool, producer))

	// The sweeper runs in the API process so stuck checks surface even when
	// no worker is alive.
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go app.NewStuckCheckSweeper(subRepo, cfg.StuckCheckAge, cfg.StuckCheckSweep).Run(sweepCtx)

	// Optional Redis presence check so misconfiguration fails loud at boot.
	if cfg.RedisURL != "" {
		if opt, err := redis.ParseURL(cfg.RedisURL); err != nil {
			slog.Warn("invalid redis url", slog.Any("error", err))
		} else {
			rdb := redis.NewClient(opt)
			if err := rdb.Ping(ctx).Err(); err != nil {
				slog.Warn("redis unreachable at boot", slog.Any("error", err))
			}
			_ = rdb.Close()
		}
	}

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		slog.Info("http server listening", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	slog.Info("shutting down")

	cancelSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", slog.Any("error", err))
	}
	if err := producer.Drain(shutdownCtx); err != nil {
		slog.Error("queue drain failed", slog.Any("error", err))
	}
	slog.Info("bye")
}
