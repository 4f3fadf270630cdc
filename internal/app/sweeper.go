package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// CheckSweeperRepo is the slice of the submission repo the sweeper needs.
type CheckSweeperRepo interface {
	SweepStuckChecks(ctx context.Context, maxAge time.Duration) (int64, error)
}

// StuckCheckSweeper periodically fails originality checks that sat in
// queued/processing past maxAge, so they surface as failed instead of
// spinning forever after a worker crash or a broker outage.
type StuckCheckSweeper struct {
	repo     CheckSweeperRepo
	maxAge   time.Duration
	interval time.Duration
}

// NewStuckCheckSweeper constructs a sweeper. A nil repo yields a nil sweeper
// whose Run is a no-op.
func NewStuckCheckSweeper(repo CheckSweeperRepo, maxAge, interval time.Duration) *StuckCheckSweeper {
	if repo == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StuckCheckSweeper{repo: repo, maxAge: maxAge, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (s *StuckCheckSweeper) Run(ctx context.Context) {
	if s == nil || s.repo == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck check sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckCheckSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("checks.sweeper")
	ctx, span := tracer.Start(ctx, "StuckCheckSweeper.sweepOnce")
	defer span.End()
	span.SetAttributes(attribute.Float64("checks.max_age_seconds", s.maxAge.Seconds()))

	n, err := s.repo.SweepStuckChecks(ctx, s.maxAge)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck check sweep failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		slog.Warn("failed stuck originality checks", slog.Int64("count", n))
	}
}
