package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/jbellot/iris-art/internal/domain"
	"github.com/jbellot/iris-art/internal/infra"
)

type recordingWriter struct {
	messages []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func TestEnqueueRoutesByKind(t *testing.T) {
	tests := []struct {
		kind            domain.JobKind
		wantInteractive bool
	}{
		{kind: domain.JobKindProcessing, wantInteractive: true},
		{kind: domain.JobKindStyle, wantInteractive: true},
		{kind: domain.JobKindExport, wantInteractive: false},
		{kind: domain.JobKindFusion, wantInteractive: false},
		{kind: domain.JobKindComposition, wantInteractive: false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			interactive := &recordingWriter{}
			bulk := &recordingWriter{}
			d := NewDispatcherWithWriters(interactive, bulk, infra.NewLogger("test"))

			job := &domain.Job{ID: "job-1", Kind: tt.kind}
			if err := d.Enqueue(context.Background(), job, 0); err != nil {
				t.Fatalf("Enqueue() unexpected error: %v", err)
			}

			got := len(interactive.messages) == 1
			if got != tt.wantInteractive {
				t.Fatalf("Enqueue(%s) interactive=%t, want %t", tt.kind, got, tt.wantInteractive)
			}
		})
	}
}

func TestEnqueueMessageKeyIsJobID(t *testing.T) {
	interactive := &recordingWriter{}
	d := NewDispatcherWithWriters(interactive, &recordingWriter{}, infra.NewLogger("test"))

	job := &domain.Job{ID: "job-42", Kind: domain.JobKindProcessing}
	if err := d.Enqueue(context.Background(), job, 3); err != nil {
		t.Fatalf("Enqueue() unexpected error: %v", err)
	}

	msg := interactive.messages[0]
	if string(msg.Key) != "job-42" {
		t.Fatalf("message key = %q, want job-42", msg.Key)
	}
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.JobID != "job-42" || env.Kind != domain.JobKindProcessing || env.Priority != 3 {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestEnqueueBatchDescendingPriority(t *testing.T) {
	bulk := &recordingWriter{}
	d := NewDispatcherWithWriters(&recordingWriter{}, bulk, infra.NewLogger("test"))

	jobs := []*domain.Job{
		{ID: "a", Kind: domain.JobKindExport},
		{ID: "b", Kind: domain.JobKindExport},
		{ID: "c", Kind: domain.JobKindExport},
	}
	if err := d.EnqueueBatch(context.Background(), jobs); err != nil {
		t.Fatalf("EnqueueBatch() unexpected error: %v", err)
	}
	if len(bulk.messages) != 3 {
		t.Fatalf("bulk messages = %d, want 3", len(bulk.messages))
	}

	wantPriorities := []int{3, 2, 1}
	for i, msg := range bulk.messages {
		var env Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			t.Fatalf("unmarshal envelope %d: %v", i, err)
		}
		if env.Priority != wantPriorities[i] {
			t.Fatalf("message %d priority = %d, want %d", i, env.Priority, wantPriorities[i])
		}
		if env.JobID != jobs[i].ID {
			t.Fatalf("message %d job id = %s, want %s (write order must follow batch order)", i, env.JobID, jobs[i].ID)
		}
	}
}

func TestEnqueueBatchRejectsMixedLanes(t *testing.T) {
	d := NewDispatcherWithWriters(&recordingWriter{}, &recordingWriter{}, infra.NewLogger("test"))
	jobs := []*domain.Job{
		{ID: "a", Kind: domain.JobKindExport},
		{ID: "b", Kind: domain.JobKindProcessing},
	}
	if err := d.EnqueueBatch(context.Background(), jobs); err == nil {
		t.Fatalf("EnqueueBatch() expected error for mixed lanes")
	}
}
