package collector

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/NikhilSetiya/servermon/pkg/config"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

// Throughput is network traffic in bytes per second
type Throughput struct {
	InboundBps  float64
	OutboundBps float64
}

// SystemMetricsSource reads host gauges for a target. Each method is one
// sub-collection and may fail independently of the others.
type SystemMetricsSource interface {
	CPUUsage(ctx context.Context, target types.Target) (float64, error)
	MemoryUsage(ctx context.Context, target types.Target) (float64, error)
	DiskUsage(ctx context.Context, target types.Target) (float64, error)
	NetworkThroughput(ctx context.Context, target types.Target) (Throughput, error)
}

// NewSource builds the metrics source selected by cfg.Source
func NewSource(cfg *config.CollectorConfig) (SystemMetricsSource, error) {
	switch cfg.Source {
	case "procfs":
		return NewProcfsSource(cfg.ProcRoot, cfg.DiskPath)
	case "exporter":
		return NewExporterSource(cfg.ExporterPort, cfg.ExporterPath, cfg.ScrapeCacheTTL), nil
	case "static":
		return NewStaticSource(Reading{CPU: 10, Memory: 20, Disk: 30}), nil
	case "auto", "":
		local, err := NewProcfsSource(cfg.ProcRoot, cfg.DiskPath)
		if err != nil {
			// No procfs on this host; every target is scraped remotely.
			return NewExporterSource(cfg.ExporterPort, cfg.ExporterPath, cfg.ScrapeCacheTTL), nil
		}
		return NewRoutedSource(local, NewExporterSource(cfg.ExporterPort, cfg.ExporterPath, cfg.ScrapeCacheTTL)), nil
	default:
		return nil, fmt.Errorf("unsupported collector source: %s", cfg.Source)
	}
}

// RoutedSource reads local targets from the host it runs on and every other
// target from its remote source.
type RoutedSource struct {
	local  SystemMetricsSource
	remote SystemMetricsSource
	names  map[string]struct{}
}

// NewRoutedSource creates a source that routes by target address
func NewRoutedSource(local, remote SystemMetricsSource) *RoutedSource {
	names := map[string]struct{}{"localhost": {}}
	if hostname, err := os.Hostname(); err == nil {
		names[strings.ToLower(hostname)] = struct{}{}
	}
	return &RoutedSource{local: local, remote: remote, names: names}
}

// IsLocal reports whether target refers to this host
func (s *RoutedSource) IsLocal(target types.Target) bool {
	for _, host := range []string{target.Address, target.Hostname} {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		if _, ok := s.names[host]; ok {
			return true
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			return true
		}
	}
	return false
}

func (s *RoutedSource) route(target types.Target) SystemMetricsSource {
	if s.IsLocal(target) {
		return s.local
	}
	return s.remote
}

func (s *RoutedSource) CPUUsage(ctx context.Context, target types.Target) (float64, error) {
	return s.route(target).CPUUsage(ctx, target)
}

func (s *RoutedSource) MemoryUsage(ctx context.Context, target types.Target) (float64, error) {
	return s.route(target).MemoryUsage(ctx, target)
}

func (s *RoutedSource) DiskUsage(ctx context.Context, target types.Target) (float64, error) {
	return s.route(target).DiskUsage(ctx, target)
}

func (s *RoutedSource) NetworkThroughput(ctx context.Context, target types.Target) (Throughput, error) {
	return s.route(target).NetworkThroughput(ctx, target)
}

func percent(used, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return clampPercent(used / total * 100)
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
