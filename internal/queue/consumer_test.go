package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jbellot/iris-art/internal/domain"
	"github.com/jbellot/iris-art/internal/infra"
)

// queuedSource hands out preloaded messages, then blocks until the context
// ends.
type queuedSource struct {
	messages  []kafka.Message
	committed []kafka.Message
}

func (s *queuedSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.messages) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := s.messages[0]
	s.messages = s.messages[1:]
	return msg, nil
}

func (s *queuedSource) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	s.committed = append(s.committed, msgs...)
	return nil
}

func (s *queuedSource) Close() error { return nil }

func envelopeMessage(t *testing.T, jobID string) kafka.Message {
	t.Helper()
	env := Envelope{JobID: jobID, Kind: domain.JobKindProcessing, EnqueuedAt: time.Now()}
	value, err := env.encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return kafka.Message{Key: []byte(jobID), Value: value}
}

func TestDispatchCommitsOnSuccess(t *testing.T) {
	src := &queuedSource{}
	handled := 0
	c := NewConsumerWithSources(src, &queuedSource{}, func(context.Context, Envelope) error {
		handled++
		return nil
	}, infra.NewLogger("test"))

	c.dispatch(context.Background(), fetched{src: src, msg: envelopeMessage(t, "job-1")})

	if handled != 1 {
		t.Fatalf("handler invocations = %d, want 1", handled)
	}
	if len(src.committed) != 1 {
		t.Fatalf("committed = %d, want 1", len(src.committed))
	}
}

func TestDispatchLeavesFailedMessageUncommitted(t *testing.T) {
	src := &queuedSource{}
	c := NewConsumerWithSources(src, &queuedSource{}, func(context.Context, Envelope) error {
		return errors.New("db unavailable")
	}, infra.NewLogger("test"))

	c.dispatch(context.Background(), fetched{src: src, msg: envelopeMessage(t, "job-1")})

	if len(src.committed) != 0 {
		t.Fatalf("failed handling must leave the message for redelivery, committed = %d", len(src.committed))
	}
}

func TestDispatchCommitsMalformedMessageAway(t *testing.T) {
	src := &queuedSource{}
	handled := 0
	c := NewConsumerWithSources(src, &queuedSource{}, func(context.Context, Envelope) error {
		handled++
		return nil
	}, infra.NewLogger("test"))

	c.dispatch(context.Background(), fetched{src: src, msg: kafka.Message{Value: []byte("{broken")}})

	if handled != 0 {
		t.Fatalf("malformed message must not reach the handler")
	}
	if len(src.committed) != 1 {
		t.Fatalf("malformed message must be committed away, committed = %d", len(src.committed))
	}
}

func TestRunProcessesBothLanes(t *testing.T) {
	interactive := &queuedSource{messages: []kafka.Message{
		envelopeMessage(t, "int-1"),
		envelopeMessage(t, "int-2"),
	}}
	bulk := &queuedSource{messages: []kafka.Message{
		envelopeMessage(t, "bulk-1"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(map[string]bool)
	c := NewConsumerWithSources(interactive, bulk, func(_ context.Context, env Envelope) error {
		seen[env.JobID] = true
		if len(seen) == 3 {
			cancel()
		}
		return nil
	}, infra.NewLogger("test"))

	err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	for _, id := range []string{"int-1", "int-2", "bulk-1"} {
		if !seen[id] {
			t.Fatalf("message %s was not processed (seen: %v)", id, seen)
		}
	}
}
