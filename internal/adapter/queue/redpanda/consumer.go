package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
)

// CheckHandler processes one decoded originality-check job. The handler owns
// the failure policy: processing errors are recorded on the submission, not
// retried through the broker.
type CheckHandler interface {
	HandleCheck(ctx context.Context, raw []byte) error
}

// ConsumerConfig configures the group consumer and its worker pool.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topic      string
	MinWorkers int
	MaxWorkers int
	// SlowJob marks the threshold above which a completed job is logged as
	// slow for operator attention.
	SlowJob time.Duration
}

func (c *ConsumerConfig) defaults() {
	if c.Topic == "" {
		c.Topic = TopicChecks
	}
	if c.MinWorkers <= 0 {
		c.MinWorkers = 2
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.SlowJob <= 0 {
		c.SlowJob = 30 * time.Second
	}
}

// Consumer is a consumer-group worker that fans records out to a bounded
// worker pool. Offsets are marked after the handler returns, so a crash
// mid-job redelivers it (at-least-once); the stale-guarded result write
// makes redelivery harmless.
type Consumer struct {
	client  *kgo.Client
	cfg     ConsumerConfig
	handler CheckHandler
	jobs    chan *kgo.Record
	wg      sync.WaitGroup
}

// NewConsumer constructs a consumer joined to the configured group.
func NewConsumer(cfg ConsumerConfig, handler CheckHandler) (*Consumer, error) {
	cfg.defaults()
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(
			kotel.TracerProvider(otel.GetTracerProvider()),
		)),
	)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.RebalanceTimeout(10*time.Second),
		kgo.FetchMaxBytes(10*1024*1024),
		kgo.FetchMaxWait(5*time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer client: %w", err)
	}

	// Best effort: make sure the topic exists before the group tries to
	// consume it, so a fresh deployment does not sit on UNKNOWN_TOPIC.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := createTopicIfNotExists(ctx, client, cfg.Topic, 8, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist",
			slog.String("topic", cfg.Topic), slog.Any("error", err))
	}

	return &Consumer{
		client:  client,
		cfg:     cfg,
		handler: handler,
		jobs:    make(chan *kgo.Record, cfg.MaxWorkers*2),
	}, nil
}

// Run consumes until ctx is cancelled, then waits for in-flight workers and
// closes the client.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("starting check consumer",
		slog.String("group_id", c.cfg.GroupID),
		slog.String("topic", c.cfg.Topic),
		slog.Int("workers", c.cfg.MaxWorkers))

	for i := 0; i < c.cfg.MaxWorkers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			time.Sleep(2 * time.Second)
			continue
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			select {
			case c.jobs <- rec:
			case <-ctx.Done():
			}
		})
	}

	close(c.jobs)
	c.wg.Wait()
	c.client.Close()
	slog.Info("check consumer stopped")
	return ctx.Err()
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	for rec := range c.jobs {
		start := time.Now()
		err := c.process(ctx, rec)
		elapsed := time.Since(start)
		if err != nil {
			slog.Error("check job failed",
				slog.Int("worker_id", id),
				slog.Int64("offset", rec.Offset),
				slog.Duration("elapsed", elapsed),
				slog.Any("error", err))
		} else if elapsed > c.cfg.SlowJob {
			slog.Warn("slow check job",
				slog.Int("worker_id", id),
				slog.Int64("offset", rec.Offset),
				slog.Duration("elapsed", elapsed),
				slog.Duration("threshold", c.cfg.SlowJob))
		}
		// Mark even on failure. The handler has already recorded a
		// terminal failed result on the submission; redelivering the
		// same broken document would fail identically.
		c.client.MarkCommitRecords(rec)
	}
}

func (c *Consumer) process(ctx context.Context, rec *kgo.Record) error {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "ProcessCheckJob")
	defer span.End()

	if !json.Valid(rec.Value) {
		return fmt.Errorf("malformed payload at offset %d", rec.Offset)
	}
	return c.handler.HandleCheck(ctx, rec.Value)
}
