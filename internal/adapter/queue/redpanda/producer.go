// Package redpanda provides Redpanda/Kafka queue integration for the
// originality-check pipeline.
//
// The producer never takes the process down with it: broker connectivity is
// tracked by a periodic probe with capped exponential backoff, and while the
// broker is unreachable enqueues fail fast with domain.ErrQueueUnavailable
// so uploads can proceed in degraded mode.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/observability"
	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

// TopicChecks is the Kafka topic carrying originality-check jobs.
const TopicChecks = "originality-checks"

// ProducerConfig controls broker connectivity probing. These settings govern
// liveness probing only, never job processing retries.
type ProducerConfig struct {
	Brokers       []string
	Topic         string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	ProbeAttempts int
	ProbeBase     time.Duration
	ProbeMax      time.Duration
	DrainTimeout  time.Duration
}

func (c *ProducerConfig) defaults() {
	if c.Topic == "" {
		c.Topic = TopicChecks
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 15 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.ProbeAttempts <= 0 {
		c.ProbeAttempts = 3
	}
	if c.ProbeBase <= 0 {
		c.ProbeBase = 500 * time.Millisecond
	}
	if c.ProbeMax <= 0 {
		c.ProbeMax = 4 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

// Producer wraps a Kafka producer and implements domain.Queue.
type Producer struct {
	client       *kgo.Client
	cfg          ProducerConfig
	available    atomic.Bool
	draining     atomic.Bool
	topicCreated atomic.Bool
	inflight     sync.WaitGroup
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewProducer constructs a Producer and starts the background probe loop.
// Construction succeeds even when the broker is down; the producer simply
// starts in degraded mode.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	cfg.defaults()
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequestRetries(5),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}
	p := &Producer{client: client, cfg: cfg, stop: make(chan struct{})}
	p.setAvailable(p.probeOnce())
	go p.probeLoop()
	return p, nil
}

// IsAvailable answers from the cached probe state; it never blocks on a
// down broker.
func (p *Producer) IsAvailable() bool { return p.available.Load() && !p.draining.Load() }

// EnqueueCheck enqueues an originality-check task. It fails fast with
// domain.ErrQueueUnavailable while the broker is down or the producer is
// draining; callers leave the submission unchecked and move on.
func (p *Producer) EnqueueCheck(ctx domain.Context, payload domain.CheckTaskPayload) (string, error) {
	if p.draining.Load() {
		return "", fmt.Errorf("op=queue.enqueue: %w: draining", domain.ErrQueueUnavailable)
	}
	if !p.available.Load() {
		return "", fmt.Errorf("op=queue.enqueue: %w", domain.ErrQueueUnavailable)
	}
	p.inflight.Add(1)
	defer p.inflight.Done()

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue marshal: %w", err)
	}
	record := &kgo.Record{
		Topic: p.cfg.Topic,
		// Lineage key keeps versions of the same lineage on one partition.
		Key:   []byte(domain.Lineage{ProjectID: payload.ProjectID, Slot: payload.Slot}.Key()),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "submission_id", Value: []byte(payload.SubmissionID)},
			{Key: "slot", Value: []byte(payload.Slot)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.setAvailable(false)
		slog.Warn("produce failed; entering degraded mode",
			slog.String("submission_id", payload.SubmissionID), slog.Any("error", err))
		return "", fmt.Errorf("op=queue.enqueue: %w: %v", domain.ErrQueueUnavailable, err)
	}
	observability.EnqueueCheck(string(payload.Slot))
	slog.Info("check enqueued",
		slog.String("topic", p.cfg.Topic),
		slog.String("submission_id", payload.SubmissionID),
		slog.Int("version", payload.Version))
	return payload.SubmissionID, nil
}

// Drain stops accepting new jobs, waits for in-flight produces up to the
// drain timeout, then closes the underlying connection.
func (p *Producer) Drain(ctx context.Context) error {
	p.draining.Store(true)
	p.stopOnce.Do(func() { close(p.stop) })

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	timer := time.NewTimer(p.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		slog.Warn("drain timeout; closing with in-flight produces")
	case <-ctx.Done():
		slog.Warn("drain cancelled", slog.Any("error", ctx.Err()))
	}
	p.client.Close()
	return nil
}

// probeOnce runs one bounded probe cycle: capped exponential backoff over a
// fixed number of ping attempts, then gives up until the next cycle.
func (p *Producer) probeOnce() bool {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.cfg.ProbeBase
	expo.MaxInterval = p.cfg.ProbeMax
	bo := backoff.WithMaxRetries(expo, uint64(p.cfg.ProbeAttempts-1)) //nolint:gosec // attempts is a small positive config value

	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProbeTimeout)
		defer cancel()
		return p.client.Ping(ctx)
	}
	if err := backoff.Retry(op, bo); err != nil {
		return false
	}
	p.ensureTopic()
	return true
}

func (p *Producer) ensureTopic() {
	if p.topicCreated.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := createTopicIfNotExists(ctx, p.client, p.cfg.Topic, 8, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist",
			slog.String("topic", p.cfg.Topic), slog.Any("error", err))
		return
	}
	p.topicCreated.Store(true)
}

func (p *Producer) probeLoop() {
	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.setAvailable(p.probeOnce())
		}
	}
}

func (p *Producer) setAvailable(up bool) {
	prev := p.available.Swap(up)
	observability.SetQueueAvailable(up)
	if prev != up {
		if up {
			slog.Info("job broker reachable; leaving degraded mode")
		} else {
			slog.Warn("job broker unreachable; running in degraded mode")
		}
	}
}
