// Package progress reconciles the two sources of truth about a running job:
// the broker-adjacent ephemeral task state an active worker reports, and the
// durable job record in the database.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	taskKeyPrefix = "job:task:"
	taskStateTTL  = 10 * time.Minute
)

// TaskState is the ephemeral progress a worker last reported for an in-flight
// task. It is fresher than the durable checkpoint but disappears once the
// task exits or its TTL lapses.
type TaskState struct {
	Step      string    `json:"step"`
	Progress  int       `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker stores ephemeral task state keyed by job id.
type Tracker interface {
	Set(ctx context.Context, jobID string, state TaskState) error
	// Get returns ok=false when no live state exists for the job.
	Get(ctx context.Context, jobID string) (TaskState, bool, error)
	Clear(ctx context.Context, jobID string) error
}

// RedisTracker implements Tracker on Redis with a bounded TTL, so state from
// a crashed worker ages out instead of sticking forever.
type RedisTracker struct {
	client *redis.Client
}

func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client}
}

func (t *RedisTracker) Set(ctx context.Context, jobID string, state TaskState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return t.client.Set(ctx, taskKeyPrefix+jobID, data, taskStateTTL).Err()
}

func (t *RedisTracker) Get(ctx context.Context, jobID string) (TaskState, bool, error) {
	data, err := t.client.Get(ctx, taskKeyPrefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return TaskState{}, false, nil
		}
		return TaskState{}, false, err
	}
	var state TaskState
	if err := json.Unmarshal(data, &state); err != nil {
		return TaskState{}, false, err
	}
	return state, true, nil
}

func (t *RedisTracker) Clear(ctx context.Context, jobID string) error {
	return t.client.Del(ctx, taskKeyPrefix+jobID).Err()
}
