package pipeline

import (
	"context"
	"sync"

	"hgu-gateway/internal/model"
)

// BatchSink is anything that can deliver a batch of samples.
type BatchSink interface {
	WriteBatch(ctx context.Context, samples []model.SensorSample) error
}

// MemorySink records every batch it receives. Err, when set, is returned
// from each write after recording.
type MemorySink struct {
	mu      sync.Mutex
	batches [][]model.SensorSample
	Err     error
}

func (m *MemorySink) WriteBatch(_ context.Context, samples []model.SensorSample) error {
	cp := make([]model.SensorSample, len(samples))
	copy(cp, samples)
	m.mu.Lock()
	m.batches = append(m.batches, cp)
	err := m.Err
	m.mu.Unlock()
	return err
}

// Batches returns copies of the recorded batches in arrival order.
func (m *MemorySink) Batches() [][]model.SensorSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]model.SensorSample, len(m.batches))
	copy(out, m.batches)
	return out
}

// Sizes returns the length of every recorded batch.
func (m *MemorySink) Sizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.batches))
	for i, b := range m.batches {
		out[i] = len(b)
	}
	return out
}
