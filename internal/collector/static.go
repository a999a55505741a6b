package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NikhilSetiya/servermon/pkg/types"
)

// Reading is the fixed answer a StaticSource gives for a target.
type Reading struct {
	CPU     float64
	Memory  float64
	Disk    float64
	Network Throughput
	// Err, when set, fails every gauge read.
	Err error
	// Panic, when set, makes every gauge read panic with this value.
	Panic string
	// Delay is waited, honouring ctx, before answering.
	Delay time.Duration
}

// StaticSource is a deterministic SystemMetricsSource. It is used by
// tests and by the "static" collector source.
type StaticSource struct {
	mu       sync.RWMutex
	fallback Reading
	byTarget map[int64]Reading
	calls    atomic.Int64
}

// NewStaticSource answers every target with fallback until Set overrides it
func NewStaticSource(fallback Reading) *StaticSource {
	return &StaticSource{fallback: fallback, byTarget: make(map[int64]Reading)}
}

// Set replaces the reading for one target
func (s *StaticSource) Set(targetID int64, r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTarget[targetID] = r
}

// Calls returns the number of gauge reads served
func (s *StaticSource) Calls() int64 { return s.calls.Load() }

func (s *StaticSource) read(ctx context.Context, target types.Target) (Reading, error) {
	s.calls.Add(1)

	s.mu.RLock()
	r, ok := s.byTarget[target.ID]
	if !ok {
		r = s.fallback
	}
	s.mu.RUnlock()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return Reading{}, ctx.Err()
		}
	}
	if r.Panic != "" {
		panic(r.Panic)
	}
	if r.Err != nil {
		return Reading{}, r.Err
	}
	return r, nil
}

func (s *StaticSource) CPUUsage(ctx context.Context, target types.Target) (float64, error) {
	r, err := s.read(ctx, target)
	return r.CPU, err
}

func (s *StaticSource) MemoryUsage(ctx context.Context, target types.Target) (float64, error) {
	r, err := s.read(ctx, target)
	return r.Memory, err
}

func (s *StaticSource) DiskUsage(ctx context.Context, target types.Target) (float64, error) {
	r, err := s.read(ctx, target)
	return r.Disk, err
}

func (s *StaticSource) NetworkThroughput(ctx context.Context, target types.Target) (Throughput, error) {
	r, err := s.read(ctx, target)
	return r.Network, err
}

// StaticProbe answers every ping with a fixed result.
type StaticProbe struct {
	RoundTrip time.Duration
	Down      bool
	Err       error
}

func (p *StaticProbe) Ping(ctx context.Context, address string, timeout time.Duration) (ProbeResult, error) {
	if err := ctx.Err(); err != nil {
		return ProbeResult{}, err
	}
	if p.Err != nil {
		return ProbeResult{}, p.Err
	}
	return ProbeResult{Success: !p.Down, RoundTrip: p.RoundTrip}, nil
}
