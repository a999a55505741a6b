package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/servermon/pkg/types"
)

const firstExposition = `# TYPE node_cpu_seconds_total counter
node_cpu_seconds_total{cpu="0",mode="idle"} 700
node_cpu_seconds_total{cpu="0",mode="iowait"} 50
node_cpu_seconds_total{cpu="0",mode="user"} 200
node_cpu_seconds_total{cpu="0",mode="system"} 50
# TYPE node_memory_MemTotal_bytes gauge
node_memory_MemTotal_bytes 1000
# TYPE node_memory_MemAvailable_bytes gauge
node_memory_MemAvailable_bytes 250
# TYPE node_filesystem_size_bytes gauge
node_filesystem_size_bytes{device="/dev/sdb1",mountpoint="/data"} 9999
node_filesystem_size_bytes{device="/dev/sda1",mountpoint="/"} 2000
# TYPE node_filesystem_avail_bytes gauge
node_filesystem_avail_bytes{device="/dev/sdb1",mountpoint="/data"} 1
node_filesystem_avail_bytes{device="/dev/sda1",mountpoint="/"} 500
# TYPE node_network_receive_bytes_total counter
node_network_receive_bytes_total{device="eth0"} 1000
node_network_receive_bytes_total{device="lo"} 5000
# TYPE node_network_transmit_bytes_total counter
node_network_transmit_bytes_total{device="eth0"} 2000
node_network_transmit_bytes_total{device="lo"} 5000
`

const secondExposition = `# TYPE node_cpu_seconds_total counter
node_cpu_seconds_total{cpu="0",mode="idle"} 800
node_cpu_seconds_total{cpu="0",mode="iowait"} 50
node_cpu_seconds_total{cpu="0",mode="user"} 300
node_cpu_seconds_total{cpu="0",mode="system"} 50
# TYPE node_memory_MemTotal_bytes gauge
node_memory_MemTotal_bytes 1000
# TYPE node_memory_MemAvailable_bytes gauge
node_memory_MemAvailable_bytes 500
# TYPE node_filesystem_size_bytes gauge
node_filesystem_size_bytes{device="/dev/sda1",mountpoint="/"} 2000
# TYPE node_filesystem_avail_bytes gauge
node_filesystem_avail_bytes{device="/dev/sda1",mountpoint="/"} 500
# TYPE node_network_receive_bytes_total counter
node_network_receive_bytes_total{device="eth0"} 3000
node_network_receive_bytes_total{device="lo"} 9000
# TYPE node_network_transmit_bytes_total counter
node_network_transmit_bytes_total{device="eth0"} 6000
node_network_transmit_bytes_total{device="lo"} 9000
`

func exporterTarget(t *testing.T, srv *httptest.Server) types.Target {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return types.Target{ID: 7, Name: "node", Address: u.Hostname(), Port: port}
}

func TestExporterSource_ReadsGaugesFromOneScrape(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metrics", r.URL.Path)
		if requests.Add(1) == 1 {
			w.Write([]byte(firstExposition))
			return
		}
		w.Write([]byte(secondExposition))
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	src := NewExporterSource(0, "/metrics", time.Second)
	src.now = func() time.Time { return now }
	target := exporterTarget(t, srv)
	ctx := context.Background()

	cpu, err := src.CPUUsage(ctx, target)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, cpu, 0.001)

	mem, err := src.MemoryUsage(ctx, target)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, mem, 0.001)

	disk, err := src.DiskUsage(ctx, target)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, disk, 0.001)

	network, err := src.NetworkThroughput(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, Throughput{}, network, "no baseline yet")

	assert.Equal(t, int32(1), requests.Load())

	// Past the cache TTL the next read scrapes again and uses deltas.
	now = now.Add(10 * time.Second)

	cpu, err = src.CPUUsage(ctx, target)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, cpu, 0.001)

	mem, err = src.MemoryUsage(ctx, target)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, mem, 0.001)

	network, err = src.NetworkThroughput(ctx, target)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, network.InboundBps, 0.001)
	assert.InDelta(t, 400.0, network.OutboundBps, 0.001)

	assert.Equal(t, int32(2), requests.Load())
}

func TestExporterSource_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			w.Write([]byte("# TYPE up gauge\nup 1\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	target := exporterTarget(t, srv)

	_, err := NewExporterSource(0, "/metrics", time.Second).CPUUsage(context.Background(), target)
	assert.ErrorContains(t, err, "unexpected status 503")

	_, err = NewExporterSource(0, "/empty", time.Second).MemoryUsage(context.Background(), target)
	assert.ErrorContains(t, err, "not exported")
}

func TestExporterSource_CanceledContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewExporterSource(0, "/metrics", time.Second).DiskUsage(ctx, exporterTarget(t, srv))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
