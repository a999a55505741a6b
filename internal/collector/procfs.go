package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/NikhilSetiya/servermon/pkg/types"
)

// defaultSampleWindow is how long the first CPU or network read waits to
// build a baseline.
const defaultSampleWindow = 100 * time.Millisecond

type cpuTimes struct {
	busy  float64
	total float64
}

type netCounters struct {
	rx, tx uint64
	at     time.Time
}

// ProcfsSource reads gauges of the host it runs on from /proc and statfs.
// The target argument is ignored.
type ProcfsSource struct {
	fs           procfs.FS
	diskPath     string
	sampleWindow time.Duration
	now          func() time.Time

	mu      sync.Mutex
	prevCPU *cpuTimes
	prevNet *netCounters
}

// NewProcfsSource opens the proc filesystem mounted at procRoot
func NewProcfsSource(procRoot, diskPath string) (*ProcfsSource, error) {
	if procRoot == "" {
		procRoot = procfs.DefaultMountPoint
	}
	if diskPath == "" {
		diskPath = "/"
	}
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", procRoot, err)
	}
	return &ProcfsSource{
		fs:           fs,
		diskPath:     diskPath,
		sampleWindow: defaultSampleWindow,
		now:          time.Now,
	}, nil
}

func (s *ProcfsSource) readCPU() (cpuTimes, error) {
	stat, err := s.fs.Stat()
	if err != nil {
		return cpuTimes{}, fmt.Errorf("read cpu stat: %w", err)
	}
	c := stat.CPUTotal
	idle := c.Idle + c.Iowait
	total := c.User + c.Nice + c.System + idle + c.IRQ + c.SoftIRQ + c.Steal
	return cpuTimes{busy: total - idle, total: total}, nil
}

// CPUUsage returns busy time as a percentage of the interval since the
// previous call. The first call samples over a short window.
func (s *ProcfsSource) CPUUsage(ctx context.Context, _ types.Target) (float64, error) {
	s.mu.Lock()
	prev := s.prevCPU
	s.mu.Unlock()

	if prev == nil {
		first, err := s.readCPU()
		if err != nil {
			return 0, err
		}
		if err := sleepCtx(ctx, s.sampleWindow); err != nil {
			return 0, err
		}
		prev = &first
	}

	cur, err := s.readCPU()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.prevCPU = &cur
	s.mu.Unlock()

	deltaTotal := cur.total - prev.total
	if deltaTotal <= 0 {
		// No ticks elapsed; report the average since boot.
		return percent(cur.busy, cur.total), nil
	}
	return percent(cur.busy-prev.busy, deltaTotal), nil
}

// MemoryUsage returns the share of memory not available to new processes
func (s *ProcfsSource) MemoryUsage(_ context.Context, _ types.Target) (float64, error) {
	mem, err := s.fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	if mem.MemTotal == nil || *mem.MemTotal == 0 {
		return 0, fmt.Errorf("meminfo has no MemTotal")
	}

	total := float64(*mem.MemTotal)
	var available float64
	switch {
	case mem.MemAvailable != nil:
		available = float64(*mem.MemAvailable)
	case mem.MemFree != nil:
		available = float64(*mem.MemFree)
		if mem.Buffers != nil {
			available += float64(*mem.Buffers)
		}
		if mem.Cached != nil {
			available += float64(*mem.Cached)
		}
	default:
		return 0, fmt.Errorf("meminfo has no MemAvailable or MemFree")
	}
	return percent(total-available, total), nil
}

// DiskUsage returns the used share of the filesystem holding diskPath
func (s *ProcfsSource) DiskUsage(_ context.Context, _ types.Target) (float64, error) {
	total, avail, err := statfs(s.diskPath)
	if err != nil {
		return 0, fmt.Errorf("statfs %s: %w", s.diskPath, err)
	}
	return percent(float64(total-avail), float64(total)), nil
}

func (s *ProcfsSource) readNet() (netCounters, error) {
	dev, err := s.fs.NetDev()
	if err != nil {
		return netCounters{}, fmt.Errorf("read net/dev: %w", err)
	}
	c := netCounters{at: s.now()}
	for name, line := range dev {
		if name == "lo" {
			continue
		}
		c.rx += line.RxBytes
		c.tx += line.TxBytes
	}
	return c, nil
}

// NetworkThroughput returns bytes per second across non-loopback
// interfaces since the previous call.
func (s *ProcfsSource) NetworkThroughput(ctx context.Context, _ types.Target) (Throughput, error) {
	s.mu.Lock()
	prev := s.prevNet
	s.mu.Unlock()

	if prev == nil {
		first, err := s.readNet()
		if err != nil {
			return Throughput{}, err
		}
		if err := sleepCtx(ctx, s.sampleWindow); err != nil {
			return Throughput{}, err
		}
		prev = &first
	}

	cur, err := s.readNet()
	if err != nil {
		return Throughput{}, err
	}

	s.mu.Lock()
	s.prevNet = &cur
	s.mu.Unlock()

	return rate(prev.rx, prev.tx, prev.at, cur.rx, cur.tx, cur.at), nil
}

// rate turns two counter readings into bytes per second. Counter resets
// yield zero.
func rate(prevRx, prevTx uint64, prevAt time.Time, rx, tx uint64, at time.Time) Throughput {
	elapsed := at.Sub(prevAt).Seconds()
	if elapsed <= 0 {
		return Throughput{}
	}
	var t Throughput
	if rx >= prevRx {
		t.InboundBps = float64(rx-prevRx) / elapsed
	}
	if tx >= prevTx {
		t.OutboundBps = float64(tx-prevTx) / elapsed
	}
	return t
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
