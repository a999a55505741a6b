package collector

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/sync/singleflight"

	"github.com/NikhilSetiya/servermon/pkg/types"
)

const defaultScrapeTimeout = 10 * time.Second

type scrape struct {
	families map[string]*dto.MetricFamily
	at       time.Time
}

// ExporterSource reads gauges from a node_exporter running on the target.
// One scrape is shared by every gauge read within the cache TTL, so the
// gauges of one sample come from the same exposition.
type ExporterSource struct {
	client *http.Client
	port   int
	path   string
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	scrapes map[string]scrape
	prevCPU map[string]cpuTimes
	prevNet map[string]netCounters
}

// NewExporterSource creates a source scraping http://<address>:<port><path>.
// A zero port means the target's own port.
func NewExporterSource(port int, path string, ttl time.Duration) *ExporterSource {
	if path == "" {
		path = "/metrics"
	}
	return &ExporterSource{
		client:  &http.Client{Timeout: defaultScrapeTimeout},
		port:    port,
		path:    path,
		ttl:     ttl,
		now:     time.Now,
		scrapes: make(map[string]scrape),
		prevCPU: make(map[string]cpuTimes),
		prevNet: make(map[string]netCounters),
	}
}

func (s *ExporterSource) url(target types.Target) string {
	port := s.port
	if port == 0 {
		port = target.Port
	}
	return "http://" + net.JoinHostPort(target.Address, strconv.Itoa(port)) + s.path
}

// families returns a cached scrape of the target or fetches a new one.
// Concurrent callers for the same target share one request.
func (s *ExporterSource) families(ctx context.Context, target types.Target) (scrape, error) {
	url := s.url(target)

	s.mu.Lock()
	cached, ok := s.scrapes[url]
	s.mu.Unlock()
	if ok && s.now().Sub(cached.at) < s.ttl {
		return cached, nil
	}

	ch := s.group.DoChan(url, func() (interface{}, error) {
		// Not tied to the first caller's cancellation; the client timeout bounds it.
		mfs, err := fetchMetrics(context.WithoutCancel(ctx), s.client, url)
		if err != nil {
			return nil, err
		}
		sc := scrape{families: mfs, at: s.now()}
		s.mu.Lock()
		s.scrapes[url] = sc
		s.mu.Unlock()
		return sc, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return scrape{}, fmt.Errorf("scrape %s: %w", url, res.Err)
		}
		return res.Val.(scrape), nil
	case <-ctx.Done():
		return scrape{}, ctx.Err()
	}
}

func (s *ExporterSource) CPUUsage(ctx context.Context, target types.Target) (float64, error) {
	sc, err := s.families(ctx, target)
	if err != nil {
		return 0, err
	}
	mf := sc.families["node_cpu_seconds_total"]
	if mf == nil {
		return 0, fmt.Errorf("node_cpu_seconds_total not exported")
	}

	var cur cpuTimes
	for _, m := range mf.GetMetric() {
		v := metricValue(m)
		cur.total += v
		switch labelValue(m, "mode") {
		case "idle", "iowait":
		default:
			cur.busy += v
		}
	}

	key := s.url(target)
	s.mu.Lock()
	prev, hasPrev := s.prevCPU[key]
	s.prevCPU[key] = cur
	s.mu.Unlock()

	if !hasPrev || cur.total-prev.total <= 0 {
		return percent(cur.busy, cur.total), nil
	}
	return percent(cur.busy-prev.busy, cur.total-prev.total), nil
}

func (s *ExporterSource) MemoryUsage(ctx context.Context, target types.Target) (float64, error) {
	sc, err := s.families(ctx, target)
	if err != nil {
		return 0, err
	}
	total, okTotal := firstValue(sc.families["node_memory_MemTotal_bytes"], nil)
	avail, okAvail := firstValue(sc.families["node_memory_MemAvailable_bytes"], nil)
	if !okTotal || !okAvail || total <= 0 {
		return 0, fmt.Errorf("node_memory gauges not exported")
	}
	return percent(total-avail, total), nil
}

func (s *ExporterSource) DiskUsage(ctx context.Context, target types.Target) (float64, error) {
	sc, err := s.families(ctx, target)
	if err != nil {
		return 0, err
	}
	root := map[string]string{"mountpoint": "/"}
	size, okSize := firstValue(sc.families["node_filesystem_size_bytes"], root)
	avail, okAvail := firstValue(sc.families["node_filesystem_avail_bytes"], root)
	if !okSize || !okAvail || size <= 0 {
		return 0, fmt.Errorf("node_filesystem gauges for / not exported")
	}
	return percent(size-avail, size), nil
}

func (s *ExporterSource) NetworkThroughput(ctx context.Context, target types.Target) (Throughput, error) {
	sc, err := s.families(ctx, target)
	if err != nil {
		return Throughput{}, err
	}
	rxFamily := sc.families["node_network_receive_bytes_total"]
	txFamily := sc.families["node_network_transmit_bytes_total"]
	if rxFamily == nil || txFamily == nil {
		return Throughput{}, fmt.Errorf("node_network counters not exported")
	}

	cur := netCounters{
		rx: uint64(sumExcludingLoopback(rxFamily)),
		tx: uint64(sumExcludingLoopback(txFamily)),
		at: sc.at,
	}

	key := s.url(target)
	s.mu.Lock()
	prev, hasPrev := s.prevNet[key]
	s.prevNet[key] = cur
	s.mu.Unlock()

	if !hasPrev {
		return Throughput{}, nil
	}
	return rate(prev.rx, prev.tx, prev.at, cur.rx, cur.tx, cur.at), nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a text exposition. A partial parse that produced
// families is still a success.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// firstValue returns the value of the first series matching every label.
func firstValue(mf *dto.MetricFamily, labels map[string]string) (float64, bool) {
	if mf == nil {
		return 0, false
	}
next:
	for _, m := range mf.GetMetric() {
		for k, v := range labels {
			if labelValue(m, k) != v {
				continue next
			}
		}
		return metricValue(m), true
	}
	return 0, false
}

func sumExcludingLoopback(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		if labelValue(m, "device") == "lo" {
			continue
		}
		total += metricValue(m)
	}
	return total
}
