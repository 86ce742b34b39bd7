package metrics

import (
	"encoding/json"
	"math"
	"sync/atomic"
	"time"
)

// Performance holds the gateway's lock-free counters.
type Performance struct {
	totalSamples     atomic.Uint64
	successfulWrites atomic.Uint64
	failedWrites     atomic.Uint64
	reconnects       atomic.Uint64
	avgLatencyBits   atomic.Uint64 // float64 bits, milliseconds
	lastUpdate       atomic.Int64  // epoch ms
}

// Snapshot is a point-in-time copy of Performance.
type Snapshot struct {
	TotalSamples     uint64  `json:"total_samples"`
	SuccessfulWrites uint64  `json:"successful_writes"`
	FailedWrites     uint64  `json:"failed_writes"`
	Reconnects       uint64  `json:"reconnects"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	LastUpdate       int64   `json:"last_update"`
}

func (p *Performance) AddSample()        { p.totalSamples.Add(1) }
func (p *Performance) AddSuccess()       { p.successfulWrites.Add(1) }
func (p *Performance) AddFailure()       { p.failedWrites.Add(1) }
func (p *Performance) AddReconnect()     { p.reconnects.Add(1) }
func (p *Performance) Touch(t time.Time) { p.lastUpdate.Store(t.UnixMilli()) }

// ObserveLatency folds ms into the smoothed average: avg = avg*0.9 + ms*0.1.
func (p *Performance) ObserveLatency(ms float64) {
	for {
		old := p.avgLatencyBits.Load()
		next := math.Float64frombits(old)*0.9 + ms*0.1
		if p.avgLatencyBits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// AvgLatency returns the smoothed processing latency in milliseconds.
func (p *Performance) AvgLatency() float64 {
	return math.Float64frombits(p.avgLatencyBits.Load())
}

// LastUpdate returns the time of the last Touch, zero if never touched.
func (p *Performance) LastUpdate() time.Time {
	ms := p.lastUpdate.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (p *Performance) Snapshot() Snapshot {
	return Snapshot{
		TotalSamples:     p.totalSamples.Load(),
		SuccessfulWrites: p.successfulWrites.Load(),
		FailedWrites:     p.failedWrites.Load(),
		Reconnects:       p.reconnects.Load(),
		AvgLatencyMs:     p.AvgLatency(),
		LastUpdate:       p.lastUpdate.Load(),
	}
}

// SuccessRate is the percentage of successful writes, 0 when nothing was written.
func (s Snapshot) SuccessRate() float64 {
	total := s.SuccessfulWrites + s.FailedWrites
	if total == 0 {
		return 0
	}
	return float64(s.SuccessfulWrites) / float64(total) * 100
}

func (p *Performance) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Snapshot())
}
