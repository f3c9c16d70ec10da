// Package worker executes job pipelines pulled off the queue: it loads
// inputs, runs the ordered stage table for the job's kind, persists durable
// checkpoints and ephemeral progress after every stage, and applies the retry
// and cleanup policy on failure.
package worker

import "strings"

// ModelCache holds loaded pipeline models keyed by id, so consecutive tasks
// using the same style or generator skip the load cost. The worker executes
// one task at a time, so the cache carries no locking; it must not be shared
// across concurrently running tasks.
type ModelCache struct {
	entries map[string]any
}

func NewModelCache() *ModelCache {
	return &ModelCache{entries: make(map[string]any)}
}

// Get returns the cached model for id, invoking load on a miss and caching
// the result. A load error is returned as-is and nothing is cached.
func (c *ModelCache) Get(id string, load func() (any, error)) (any, error) {
	if m, ok := c.entries[id]; ok {
		return m, nil
	}
	m, err := load()
	if err != nil {
		return nil, err
	}
	c.entries[id] = m
	return m, nil
}

// Evict drops a single model.
func (c *ModelCache) Evict(id string) {
	delete(c.entries, id)
}

// EvictFamily drops every model whose id starts with prefix. The export
// pipeline evicts the style and generator families before upscaling to keep
// memory headroom for the 2048px working set.
func (c *ModelCache) EvictFamily(prefix string) {
	for id := range c.entries {
		if strings.HasPrefix(id, prefix) {
			delete(c.entries, id)
		}
	}
}

// Clear drops everything.
func (c *ModelCache) Clear() {
	c.entries = make(map[string]any)
}

// Len reports how many models are resident.
func (c *ModelCache) Len() int { return len(c.entries) }
