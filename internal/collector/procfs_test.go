package collector

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/servermon/pkg/types"
)

const procStat = `cpu  200 0 50 700 50 0 0 0 0 0
cpu0 200 0 50 700 50 0 0 0 0 0
intr 100 0 0
ctxt 1000
btime 1700000000
processes 500
procs_running 1
procs_blocked 0
softirq 10 0 1 2 3 4 0 0 0 0 0
`

const procMeminfo = `MemTotal:        1000 kB
MemFree:          100 kB
MemAvailable:     400 kB
Buffers:           50 kB
Cached:           200 kB
`

const procNetDev = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:    5000      10    0    0    0     0          0         0     5000      10    0    0    0     0       0          0
  eth0:    1000      10    0    0    0     0          0         0     2000      20    0    0    0     0       0          0
`

func writeProcFixture(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stat"), []byte(procStat), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "meminfo"), []byte(procMeminfo), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "net", "dev"), []byte(procNetDev), 0o644))
	return root
}

func TestProcfsSource_ReadsFixture(t *testing.T) {
	root := writeProcFixture(t)
	src, err := NewProcfsSource(root, t.TempDir())
	require.NoError(t, err)
	src.sampleWindow = time.Millisecond
	ctx := context.Background()

	// Identical readings report the average since boot.
	cpu, err := src.CPUUsage(ctx, types.Target{})
	require.NoError(t, err)
	assert.InDelta(t, 25.0, cpu, 0.001)

	mem, err := src.MemoryUsage(ctx, types.Target{})
	require.NoError(t, err)
	assert.InDelta(t, 60.0, mem, 0.001)

	network, err := src.NetworkThroughput(ctx, types.Target{})
	require.NoError(t, err)
	assert.Equal(t, Throughput{}, network, "counters did not move")

	if runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		disk, err := src.DiskUsage(ctx, types.Target{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, disk, 0.0)
		assert.LessOrEqual(t, disk, 100.0)
	}
}

func TestProcfsSource_MissingRoot(t *testing.T) {
	_, err := NewProcfsSource(filepath.Join(t.TempDir(), "missing"), "/")
	assert.Error(t, err)
}

func TestRate(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := rate(100, 200, at, 1100, 2200, at.Add(2*time.Second))
	assert.Equal(t, Throughput{InboundBps: 500, OutboundBps: 1000}, got)

	// Counter reset.
	got = rate(1000, 1000, at, 10, 2000, at.Add(time.Second))
	assert.Equal(t, Throughput{InboundBps: 0, OutboundBps: 1000}, got)

	assert.Equal(t, Throughput{}, rate(1, 1, at, 2, 2, at))
}
