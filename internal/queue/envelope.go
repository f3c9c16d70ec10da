// Package queue carries jobs between the API and worker processes over two
// named Kafka lanes: an interactive lane for single-image jobs and a bulk lane
// for exports, fusions and compositions.
package queue

import (
	"encoding/json"
	"time"

	"github.com/jbellot/iris-art/internal/domain"
)

// Envelope is the broker message payload. The message key equals JobID, so the
// broker-side task identity and the durable record form a one-to-one mapping;
// a duplicate enqueue of the same job id is absorbed by the worker runtime's
// terminal-state no-op re-entry rather than producing a second execution.
type Envelope struct {
	JobID      string         `json:"job_id"`
	Kind       domain.JobKind `json:"kind"`
	Priority   int            `json:"priority"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

func (e Envelope) encode() ([]byte, error) {
	return json.Marshal(e)
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}

// laneFor routes a job kind onto its lane. Interactive single-image work gets
// the high-priority lane; batch-style work shares the bulk lane.
func laneFor(kind domain.JobKind) lane {
	switch kind {
	case domain.JobKindProcessing, domain.JobKindStyle:
		return laneInteractive
	default:
		return laneBulk
	}
}

type lane int

const (
	laneInteractive lane = iota
	laneBulk
)
