package queue

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jbellot/iris-art/internal/domain"
	"github.com/jbellot/iris-art/internal/infra"
)

// laneWriter is the slice of kafka.Writer the dispatcher needs; tests swap in
// an in-memory recorder.
type laneWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher enqueues jobs onto the two priority lanes. Enqueue is expected to
// be called at most once per job; because the message key is the job id and
// the runtime treats terminal records as no-ops, an accidental second call
// cannot create a second independent execution.
type Dispatcher struct {
	interactive laneWriter
	bulk        laneWriter
	logger      infra.Logger
}

// NewDispatcher wires Kafka writers for both lanes. Messages are keyed by job
// id (hash balancer), so redeliveries and duplicates for one job land on one
// partition and stay ordered.
func NewDispatcher(cfg *infra.Config, logger infra.Logger) *Dispatcher {
	mk := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return &Dispatcher{
		interactive: mk(cfg.InteractiveTopic),
		bulk:        mk(cfg.BulkTopic),
		logger:      logger,
	}
}

// Close flushes and closes the lane writers.
func (d *Dispatcher) Close() error {
	var firstErr error
	for _, w := range []laneWriter{d.interactive, d.bulk} {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// NewDispatcherWithWriters is the injection seam used by tests.
func NewDispatcherWithWriters(interactive, bulk laneWriter, logger infra.Logger) *Dispatcher {
	return &Dispatcher{interactive: interactive, bulk: bulk, logger: logger}
}

// Enqueue publishes one job onto its lane with the given priority.
func (d *Dispatcher) Enqueue(ctx context.Context, job *domain.Job, priority int) error {
	msg, err := d.message(job, priority)
	if err != nil {
		return err
	}
	if err := d.writerFor(job.Kind).WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	d.logger.Info().Str("job_id", job.ID).Str("kind", string(job.Kind)).Int("priority", priority).Msg("queue: job enqueued")
	return nil
}

// EnqueueBatch publishes several jobs, assigning descending priority so
// earlier items are serviced first. All jobs in one batch must share a lane.
func (d *Dispatcher) EnqueueBatch(ctx context.Context, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	target := laneFor(jobs[0].Kind)
	msgs := make([]kafka.Message, 0, len(jobs))
	for i, job := range jobs {
		if laneFor(job.Kind) != target {
			return fmt.Errorf("enqueue batch: mixed lanes in one batch")
		}
		msg, err := d.message(job, len(jobs)-i)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	w := d.interactive
	if target == laneBulk {
		w = d.bulk
	}
	if err := w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("enqueue batch: %w", err)
	}
	d.logger.Info().Int("jobs", len(jobs)).Msg("queue: batch enqueued")
	return nil
}

func (d *Dispatcher) message(job *domain.Job, priority int) (kafka.Message, error) {
	value, err := Envelope{
		JobID:      job.ID,
		Kind:       job.Kind,
		Priority:   priority,
		EnqueuedAt: time.Now().UTC(),
	}.encode()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode envelope for job %s: %w", job.ID, err)
	}
	return kafka.Message{Key: []byte(job.ID), Value: value}, nil
}

func (d *Dispatcher) writerFor(kind domain.JobKind) laneWriter {
	if laneFor(kind) == laneBulk {
		return d.bulk
	}
	return d.interactive
}
