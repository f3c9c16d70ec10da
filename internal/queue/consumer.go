package queue

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"

	"github.com/jbellot/iris-art/internal/infra"
)

// interactiveBurst is the fairness weight between the two lanes: after this
// many consecutive interactive messages the consumer offers the bulk lane one
// slot before touching the interactive lane again. Weighted round-robin keeps
// exports and fusions moving under sustained interactive load without making
// interactive jobs wait behind an idle bulk lane.
const interactiveBurst = 4

// Handler processes one decoded task envelope. A non-nil return leaves the
// message uncommitted so the broker redelivers it (at-least-once delivery);
// the worker runtime is idempotent under that redelivery.
type Handler func(ctx context.Context, env Envelope) error

// source abstracts a kafka.Reader lane for testing.
type source interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer pulls from both lanes and feeds envelopes to a single handler, one
// task at a time. Single-flight execution is deliberate: pipeline stages share
// the process-local model cache, which is not safe for two concurrently
// running tasks.
type Consumer struct {
	interactive source
	bulk        source
	handler     Handler
	logger      infra.Logger
}

// NewConsumer wires group readers for both lanes.
func NewConsumer(cfg *infra.Config, handler Handler, logger infra.Logger) *Consumer {
	mk := func(topic string) *kafka.Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   topic,
			GroupID: cfg.WorkerGroup,
		})
	}
	return &Consumer{
		interactive: mk(cfg.InteractiveTopic),
		bulk:        mk(cfg.BulkTopic),
		handler:     handler,
		logger:      logger,
	}
}

// NewConsumerWithSources is the injection seam used by tests.
func NewConsumerWithSources(interactive, bulk source, handler Handler, logger infra.Logger) *Consumer {
	return &Consumer{interactive: interactive, bulk: bulk, handler: handler, logger: logger}
}

type fetched struct {
	src source
	msg kafka.Message
}

// Run consumes until the context is cancelled. Each lane is drained by a
// fetch goroutine into a channel; the scheduling loop applies the weighted
// round-robin policy between the channels.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.interactive.Close()
	defer c.bulk.Close()

	intCh := make(chan fetched)
	bulkCh := make(chan fetched)
	go c.fetchLoop(ctx, c.interactive, intCh)
	go c.fetchLoop(ctx, c.bulk, bulkCh)

	streak := 0
	for {
		if streak >= interactiveBurst {
			streak = 0
			select {
			case f := <-bulkCh:
				c.dispatch(ctx, f)
				continue
			case <-ctx.Done():
				return ctx.Err()
			default:
				// Bulk lane idle; fall through rather than block interactive.
			}
		}
		select {
		case f := <-intCh:
			c.dispatch(ctx, f)
			streak++
		case f := <-bulkCh:
			c.dispatch(ctx, f)
			streak = 0
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Consumer) fetchLoop(ctx context.Context, src source, out chan<- fetched) {
	for {
		msg, err := src.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Error().Err(err).Msg("queue: fetch failed")
			continue
		}
		select {
		case out <- fetched{src: src, msg: msg}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, f fetched) {
	env, err := decodeEnvelope(f.msg.Value)
	if err != nil {
		// A malformed message can never become valid; commit it away.
		c.logger.Error().Err(err).Msg("queue: dropping malformed message")
		if err := f.src.CommitMessages(ctx, f.msg); err != nil {
			c.logger.Error().Err(err).Msg("queue: commit failed")
		}
		return
	}
	if err := c.handler(ctx, env); err != nil {
		c.logger.Error().Err(err).Str("job_id", env.JobID).Msg("queue: handler failed, leaving message for redelivery")
		return
	}
	if err := f.src.CommitMessages(ctx, f.msg); err != nil {
		c.logger.Error().Err(err).Str("job_id", env.JobID).Msg("queue: commit failed")
	}
}
