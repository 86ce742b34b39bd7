package utils

import (
	"sort"
	"sync"

	"hgu-gateway/internal/model"
)

// LastValueCache keeps the most recent accepted sample per sensor id.
// It is thread-safe and sits on the pipeline hot path.
type LastValueCache struct {
	mu   sync.RWMutex
	data map[string]model.SensorSample
}

// NewLastValueCache creates an empty cache. Entries never expire: the key
// set is the fixed catalog.
func NewLastValueCache() *LastValueCache {
	return &LastValueCache{data: make(map[string]model.SensorSample, 64)}
}

// Get returns the cached sample for id.
func (c *LastValueCache) Get(id string) (model.SensorSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.data[id]
	return s, ok
}

// Set stores s as the latest value for s.ID.
func (c *LastValueCache) Set(s model.SensorSample) {
	c.mu.Lock()
	c.data[s.ID] = s
	c.mu.Unlock()
}

// Len returns the number of cached ids.
func (c *LastValueCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Snapshot returns every cached sample ordered by id.
func (c *LastValueCache) Snapshot() []model.SensorSample {
	c.mu.RLock()
	out := make([]model.SensorSample, 0, len(c.data))
	for _, s := range c.data {
		out = append(out, s)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
