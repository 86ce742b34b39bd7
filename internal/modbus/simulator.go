package modbus

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"hgu-gateway/internal/catalog"
	"hgu-gateway/internal/model"
)

type point struct {
	def   model.SensorDefinition
	coil  bool
	addr  uint16
	value float64
}

// Simulator drives the server's registers from a catalog that uses the
// Modbus layout (see catalog.ModbusLayout). Values either random-walk
// inside each sensor's range or replay recorded rows.
type Simulator struct {
	srv *Server

	mu     sync.Mutex
	points []point
	byID   map[string]int
	rng    *rand.Rand
	rows   []map[string]float64
	row    int
}

func NewSimulator(srv *Server, c *catalog.Catalog, seed uint64) (*Simulator, error) {
	sim := &Simulator{
		srv:  srv,
		byID: make(map[string]int, c.Len()),
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for _, d := range c.All() {
		var ns, off int
		if _, err := fmt.Sscanf(d.Address, "ns=%d;i=%d", &ns, &off); err != nil {
			return nil, fmt.Errorf("sensor %s: %q is not a modbus address", d.ID, d.Address)
		}
		if off < 0 || off > math.MaxUint16-1 {
			return nil, fmt.Errorf("sensor %s: offset %d out of range", d.ID, off)
		}
		p := point{def: d, addr: uint16(off)}
		switch ns {
		case 0:
			p.coil = true
		case 4:
			p.value = d.Min + (d.Max-d.Min)/2
		default:
			return nil, fmt.Errorf("sensor %s: table %d not simulated", d.ID, ns)
		}
		sim.byID[d.ID] = len(sim.points)
		sim.points = append(sim.points, p)
	}
	sim.mu.Lock()
	defer sim.mu.Unlock()
	for i := range sim.points {
		if err := sim.writeLocked(&sim.points[i]); err != nil {
			return nil, err
		}
	}
	return sim, nil
}

// Replay makes Step cycle through rows instead of random-walking. Row keys
// are sensor ids; missing ids keep their value.
func (s *Simulator) Replay(rows []map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
	s.row = 0
}

// Set forces one sensor to v.
func (s *Simulator) Set(id string, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("unknown sensor %s", id)
	}
	s.points[i].value = v
	return s.writeLocked(&s.points[i])
}

// Step advances every point once.
func (s *Simulator) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rows) > 0 {
		row := s.rows[s.row]
		s.row = (s.row + 1) % len(s.rows)
		for id, v := range row {
			if i, ok := s.byID[id]; ok {
				s.points[i].value = v
			}
		}
	} else {
		for i := range s.points {
			s.walkLocked(&s.points[i])
		}
	}

	for i := range s.points {
		if err := s.writeLocked(&s.points[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) walkLocked(p *point) {
	if p.coil {
		if s.rng.Float64() < 0.02 {
			p.value = 1 - p.value
		}
		return
	}
	span := p.def.Max - p.def.Min
	p.value += (s.rng.Float64() - 0.5) * span * 0.02
	p.value = math.Max(p.def.Min, math.Min(p.def.Max, p.value))
}

func (s *Simulator) writeLocked(p *point) error {
	if p.coil {
		return s.srv.SetCoil(p.addr, p.value > 0)
	}
	return s.srv.SetFloat32(p.addr, float32(p.value))
}

// Run calls Step every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Step(); err != nil {
				s.srv.log.Warnw("simulation step failed", "error", err)
			}
		}
	}
}
