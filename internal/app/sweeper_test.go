package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSweepRepo struct{ calls atomic.Int64 }

func (r *countingSweepRepo) SweepStuckChecks(context.Context, time.Duration) (int64, error) {
	r.calls.Add(1)
	return 1, nil
}

func TestSweeperNilRepoIsNoop(t *testing.T) {
	t.Parallel()
	s := NewStuckCheckSweeper(nil, time.Minute, time.Minute)
	assert.Nil(t, s)
	s.Run(t.Context()) // must not panic
}

func TestSweeperDefaults(t *testing.T) {
	t.Parallel()
	s := NewStuckCheckSweeper(&countingSweepRepo{}, 0, 0)
	assert.Equal(t, 10*time.Minute, s.maxAge)
	assert.Equal(t, 5*time.Minute, s.interval)
}

func TestSweeperRunsUntilCancelled(t *testing.T) {
	t.Parallel()
	repo := &countingSweepRepo{}
	s := NewStuckCheckSweeper(repo, time.Minute, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return repo.calls.Load() >= 2 },
		2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
