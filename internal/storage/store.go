// Package storage provides the object store contract used for job inputs and
// results, plus a filesystem-backed implementation for development and tests.
package storage

import (
	"context"
	"time"
)

// Store is the blob storage surface the pipeline depends on. Keys follow the
// result-addressing scheme `{category}/{user_id}/{job_id}[suffix].{ext}` so
// that result writes are idempotent per job id.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	Presign(key string, ttl time.Duration) (string, error)
}
