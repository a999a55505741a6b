// Package collector samples target health under per-gauge resilience
// policies and never fails its caller.
package collector

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/NikhilSetiya/servermon/pkg/config"
	"github.com/NikhilSetiya/servermon/pkg/errors"
	"github.com/NikhilSetiya/servermon/pkg/logging"
	"github.com/NikhilSetiya/servermon/pkg/metrics"
	"github.com/NikhilSetiya/servermon/pkg/resilience"
	"github.com/NikhilSetiya/servermon/pkg/tracing"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

// Gauge names one sub-collection
type Gauge string

const (
	GaugeCPU      Gauge = "cpu"
	GaugeMemory   Gauge = "memory"
	GaugeDisk     Gauge = "disk"
	GaugeNetwork  Gauge = "network"
	GaugeResponse Gauge = "response_time"
)

var allGauges = []Gauge{GaugeCPU, GaugeMemory, GaugeDisk, GaugeNetwork, GaugeResponse}

// Status thresholds; the first match wins.
const (
	criticalPercent    = 90.0
	criticalResponseMs = 3000.0
	warningPercent     = 75.0
	warningResponseMs  = 1500.0
)

// Fallbacks are used when a sub-collection fails and no good value has
// been seen for the target yet.
type Fallbacks struct {
	CPU        float64
	Memory     float64
	Disk       float64
	ResponseMs float64
}

// Config configures a Collector
type Config struct {
	// Gauge is the policy template applied to each sub-collection.
	Gauge resilience.PolicyConfig
	// Outer wraps one whole collection attempt.
	Outer        resilience.PolicyConfig
	Fallbacks    Fallbacks
	ProbeTimeout time.Duration
}

// DefaultConfig returns two retries, a five second timeout and a 5/30s
// breaker for every sub-collection and for the attempt as a whole.
func DefaultConfig() Config {
	return Config{
		Gauge:        resilience.DefaultPolicyConfig("gauge"),
		Outer:        resilience.DefaultPolicyConfig("collect"),
		Fallbacks:    Fallbacks{ResponseMs: 1000},
		ProbeTimeout: 5 * time.Second,
	}
}

// ConfigFromSettings maps collector settings onto a Config
func ConfigFromSettings(cfg *config.CollectorConfig) Config {
	return Config{
		Gauge: PolicyFromSettings("gauge", cfg.Gauge),
		Outer: PolicyFromSettings("collect", cfg.Outer),
		Fallbacks: Fallbacks{
			CPU:        cfg.FallbackCPU,
			Memory:     cfg.FallbackMemory,
			Disk:       cfg.FallbackDisk,
			ResponseMs: cfg.FallbackResponseMs,
		},
		ProbeTimeout: cfg.ProbeTimeout,
	}
}

// PolicyFromSettings builds a composed policy config from its settings
func PolicyFromSettings(name string, pc config.PolicyConfig) resilience.PolicyConfig {
	policy := resilience.DefaultPolicyConfig(name)
	policy.Timeout = pc.Timeout
	policy.Retry.MaxRetries = pc.Retries
	if pc.RetryBaseDelay > 0 {
		policy.Retry.BaseDelay = pc.RetryBaseDelay
	}
	if pc.BreakerThreshold > 0 {
		policy.Breaker.FailureThreshold = uint32(pc.BreakerThreshold)
	}
	if pc.BreakerCooldown > 0 {
		policy.Breaker.Cooldown = pc.BreakerCooldown
	}
	return policy
}

// targetPolicies is the breaker state of one target: a composite per
// gauge and one around the whole attempt.
type targetPolicies struct {
	gauges map[Gauge]*resilience.Composite
	outer  *resilience.Composite
}

// Collector produces one Sample per target per call
type Collector struct {
	source   SystemMetricsSource
	probe    Probe
	config   Config
	lastGood *lastGoodValues

	mu       sync.Mutex
	policies map[int64]*targetPolicies

	metrics *metrics.Metrics
	tracer  *tracing.TracingService
	logger  *logging.Logger
	now     func() time.Time
}

// Option customizes a Collector
type Option func(*Collector)

// WithMetrics records fallbacks, samples and breaker transitions
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithTracer wraps each collection in a span
func WithTracer(t *tracing.TracingService) Option {
	return func(c *Collector) { c.tracer = t }
}

// WithClock overrides the sample timestamp clock
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// New creates a collector. Policies are built lazily per target and kept,
// so one target's failures never open another target's breakers.
func New(source SystemMetricsSource, probe Probe, config Config, opts ...Option) *Collector {
	c := &Collector{
		source:   source,
		probe:    probe,
		config:   config,
		policies: make(map[int64]*targetPolicies),
		lastGood: newLastGoodValues(),
		tracer:   tracing.Noop(),
		logger:   logging.GetLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.config.ProbeTimeout <= 0 {
		c.config.ProbeTimeout = 5 * time.Second
	}
	return c
}

func (c *Collector) policiesFor(targetID int64) *targetPolicies {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.policies[targetID]; ok {
		return p
	}
	p := &targetPolicies{gauges: make(map[Gauge]*resilience.Composite, len(allGauges))}
	for _, g := range allGauges {
		p.gauges[g] = resilience.NewComposite(c.withHooks(c.config.Gauge, breakerName(targetID, string(g))))
	}
	p.outer = resilience.NewComposite(c.withHooks(c.config.Outer, breakerName(targetID, "attempt")))
	c.policies[targetID] = p
	return p
}

func breakerName(targetID int64, class string) string {
	return fmt.Sprintf("collector.%d.%s", targetID, class)
}

func (c *Collector) withHooks(policy resilience.PolicyConfig, name string) resilience.PolicyConfig {
	policy.Name = name
	policy.Retry.Name = name
	policy.Breaker.Name = name
	userHook := policy.Breaker.OnStateChange
	policy.Breaker.OnStateChange = func(name string, from, to resilience.CircuitState) {
		c.metrics.RecordBreakerTransition(name, from.String(), to.String(), int(to))
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	return policy
}

// Breaker returns the circuit breaker guarding one sub-collection of a target
func (c *Collector) Breaker(targetID int64, g Gauge) *resilience.CircuitBreaker {
	if p, ok := c.policiesFor(targetID).gauges[g]; ok {
		return p.Breaker()
	}
	return nil
}

// AttemptBreaker returns the breaker around whole collection attempts of a target
func (c *Collector) AttemptBreaker(targetID int64) *resilience.CircuitBreaker {
	return c.policiesFor(targetID).outer.Breaker()
}

// Collect samples target. It never returns an error and never panics:
// when every attempt is exhausted it returns a degraded sample.
func (c *Collector) Collect(ctx context.Context, target types.Target) (sample types.Sample) {
	ctx = logging.WithTargetID(ctx, target.ID)
	ctx, span := c.tracer.StartTargetSpan(ctx, "collector.collect", target.ID, target.Endpoint())
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			c.logger.WithContext(ctx).WithField("panic", fmt.Sprint(r)).Error("Collection panicked, recording degraded sample")
			sample = c.degraded(target)
		}
	}()

	policies := c.policiesFor(target.ID)
	s, err := resilience.Do(ctx, policies.outer, func(ctx context.Context) (types.Sample, error) {
		return c.attempt(ctx, policies, target)
	})
	if err != nil {
		c.logger.WithContext(ctx).WithFields(logrus.Fields{
			"reason": resilience.ReasonOf(err),
			"error":  err.Error(),
		}).Warn("Collection exhausted, recording degraded sample")
		c.tracer.RecordError(span, err)
		return c.degraded(target)
	}

	c.metrics.RecordSample(string(s.Status), false)
	c.logger.WithContext(ctx).WithFields(logrus.Fields{
		"cpu":              s.CPUUsage,
		"memory":           s.MemoryUsage,
		"disk":             s.DiskUsage,
		"response_time_ms": s.ResponseTimeMs,
		"status":           s.Status,
	}).Debug("Collected sample")
	return s
}

func (c *Collector) degraded(target types.Target) types.Sample {
	c.metrics.RecordSample(string(types.StatusCritical), true)
	return types.NewDegradedSample(target.ID, c.now().UTC())
}

// attempt runs every sub-collection once, concurrently, so one attempt
// takes as long as its slowest gauge. It fails only when all of them fell
// back.
func (c *Collector) attempt(ctx context.Context, policies *targetPolicies, target types.Target) (types.Sample, error) {
	var (
		cpu, memory, disk, response float64
		network                     Throughput
		ok                          = make(map[Gauge]bool, len(allGauges))
		mu                          sync.Mutex
		g                           errgroup.Group
	)
	run := func(gauge Gauge, fn func() bool) {
		g.Go(func() error {
			good := false
			defer func() {
				if r := recover(); r != nil {
					c.logger.WithContext(ctx).WithField("panic", fmt.Sprint(r)).Error("Sub-collection panicked")
				}
				mu.Lock()
				ok[gauge] = good
				mu.Unlock()
			}()
			good = fn()
			return nil
		})
	}
	readGauge := func(gauge Gauge, read func(context.Context, types.Target) (float64, error), into *float64) {
		run(gauge, func() bool {
			v, good := c.gauge(ctx, policies.gauges[gauge], gauge, target, func(ctx context.Context) (float64, error) {
				v, err := read(ctx, target)
				if err != nil {
					return 0, err
				}
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return 0, errors.NewTransientError(fmt.Sprintf("%s reading is not a number", gauge))
				}
				return round2(clampPercent(v)), nil
			})
			*into = v
			return good
		})
	}

	readGauge(GaugeCPU, c.source.CPUUsage, &cpu)
	readGauge(GaugeMemory, c.source.MemoryUsage, &memory)
	readGauge(GaugeDisk, c.source.DiskUsage, &disk)
	run(GaugeNetwork, func() bool {
		var good bool
		network, good = c.network(ctx, policies.gauges[GaugeNetwork], target)
		return good
	})
	run(GaugeResponse, func() bool {
		var good bool
		response, good = c.responseTime(ctx, policies.gauges[GaugeResponse], target)
		return good
	})
	_ = g.Wait()

	fellBack := 0
	for _, gauge := range allGauges {
		if !ok[gauge] {
			fellBack++
		}
	}
	if fellBack == len(allGauges) {
		return types.Sample{}, errors.NewTransientError("every sub-collection fell back")
	}

	sample := types.Sample{
		TargetID:        target.ID,
		CPUUsage:        cpu,
		MemoryUsage:     memory,
		DiskUsage:       disk,
		NetworkInbound:  round2(network.InboundBps),
		NetworkOutbound: round2(network.OutboundBps),
		ResponseTimeMs:  round2(response),
		Timestamp:       c.now().UTC(),
	}
	sample.Status = DeriveStatus(sample)
	return sample, nil
}

// gauge runs one scalar sub-collection under its policy. ok is false when
// the returned value is a fallback.
func (c *Collector) gauge(ctx context.Context, policy *resilience.Composite, g Gauge, target types.Target, read func(context.Context) (float64, error)) (float64, bool) {
	v, err := resilience.Do(ctx, policy, read)
	if err == nil {
		c.lastGood.set(target.ID, g, v)
		return v, true
	}
	return c.fallback(ctx, g, target, err), false
}

func (c *Collector) fallback(ctx context.Context, g Gauge, target types.Target, err error) float64 {
	c.metrics.RecordFallback(string(g))

	v, ok := c.lastGood.get(target.ID, g)
	if !ok {
		v = c.defaultFor(g)
	}
	c.logger.WithContext(ctx).WithFields(logrus.Fields{
		"gauge":    g,
		"reason":   resilience.ReasonOf(err),
		"error":    err.Error(),
		"fallback": v,
	}).Warn("Sub-collection failed, using fallback")
	return v
}

func (c *Collector) defaultFor(g Gauge) float64 {
	switch g {
	case GaugeCPU:
		return c.config.Fallbacks.CPU
	case GaugeMemory:
		return c.config.Fallbacks.Memory
	case GaugeDisk:
		return c.config.Fallbacks.Disk
	case GaugeResponse:
		return c.config.Fallbacks.ResponseMs
	default:
		return 0
	}
}

func (c *Collector) network(ctx context.Context, policy *resilience.Composite, target types.Target) (Throughput, bool) {
	t, err := resilience.Do(ctx, policy, func(ctx context.Context) (Throughput, error) {
		t, err := c.source.NetworkThroughput(ctx, target)
		if err != nil {
			return Throughput{}, err
		}
		if t.InboundBps < 0 || t.OutboundBps < 0 {
			return Throughput{}, errors.NewTransientError("negative network throughput")
		}
		return t, nil
	})
	if err == nil {
		c.lastGood.setThroughput(target.ID, t)
		return t, true
	}

	c.metrics.RecordFallback(string(GaugeNetwork))
	last, _ := c.lastGood.throughput(target.ID)
	c.logger.WithContext(ctx).WithFields(logrus.Fields{
		"gauge":  GaugeNetwork,
		"reason": resilience.ReasonOf(err),
		"error":  err.Error(),
	}).Warn("Sub-collection failed, using fallback")
	return last, false
}

func (c *Collector) responseTime(ctx context.Context, policy *resilience.Composite, target types.Target) (float64, bool) {
	address := target.Address
	if target.Port > 0 {
		address = target.Endpoint()
	}
	return c.gauge(ctx, policy, GaugeResponse, target, func(ctx context.Context) (float64, error) {
		res, err := c.probe.Ping(ctx, address, c.config.ProbeTimeout)
		if err != nil {
			return 0, errors.NewTransientError("probe failed").WithCause(err)
		}
		if !res.Success {
			return 0, errors.NewTransientError(fmt.Sprintf("%s is unreachable", address))
		}
		return float64(res.RoundTrip) / float64(time.Millisecond), nil
	})
}

// DeriveStatus maps gauges to a qualitative status. Degraded samples are
// always critical.
func DeriveStatus(s types.Sample) types.Status {
	if s.Degraded() {
		return types.StatusCritical
	}
	if s.CPUUsage >= criticalPercent || s.MemoryUsage >= criticalPercent || s.DiskUsage >= criticalPercent ||
		s.ResponseTimeMs >= criticalResponseMs {
		return types.StatusCritical
	}
	if s.CPUUsage >= warningPercent || s.MemoryUsage >= warningPercent || s.DiskUsage >= warningPercent ||
		s.ResponseTimeMs >= warningResponseMs {
		return types.StatusWarning
	}
	return types.StatusNormal
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// lastGoodValues remembers the most recent successful reading per target
// and gauge.
type lastGoodValues struct {
	mu      sync.Mutex
	scalars map[int64]map[Gauge]float64
	network map[int64]Throughput
}

func newLastGoodValues() *lastGoodValues {
	return &lastGoodValues{
		scalars: make(map[int64]map[Gauge]float64),
		network: make(map[int64]Throughput),
	}
}

func (l *lastGoodValues) set(targetID int64, g Gauge, v float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.scalars[targetID]
	if !ok {
		m = make(map[Gauge]float64)
		l.scalars[targetID] = m
	}
	m[g] = v
}

func (l *lastGoodValues) get(targetID int64, g Gauge) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.scalars[targetID][g]
	return v, ok
}

func (l *lastGoodValues) setThroughput(targetID int64, t Throughput) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.network[targetID] = t
}

func (l *lastGoodValues) throughput(targetID int64) (Throughput, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.network[targetID]
	return t, ok
}
