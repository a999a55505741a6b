// Package jobs runs the periodic collection cycle and schedules it
// alongside alert evaluation.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/NikhilSetiya/servermon/internal/notify"
	"github.com/NikhilSetiya/servermon/pkg/logging"
	"github.com/NikhilSetiya/servermon/pkg/metrics"
	"github.com/NikhilSetiya/servermon/pkg/resilience"
	"github.com/NikhilSetiya/servermon/pkg/tracing"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

// TargetRegistry lists the targets to collect
type TargetRegistry interface {
	ListActive(ctx context.Context) ([]types.Target, error)
}

// SampleStore persists samples
type SampleStore interface {
	Append(ctx context.Context, sample *types.Sample) error
}

// Collector produces a sample for a target and never fails
type Collector interface {
	Collect(ctx context.Context, target types.Target) types.Sample
}

// CollectionConfig configures a CollectionJob
type CollectionConfig struct {
	// Concurrency bounds targets collected at once.
	Concurrency int
	// MaxQueued bounds targets waiting for a slot when the bulkhead is
	// shared with on-demand collections.
	MaxQueued int
	// Bulkhead is shared with other callers of the collector. When nil a
	// private one sized by Concurrency and MaxQueued is created.
	Bulkhead *resilience.Bulkhead
}

// CycleReport summarizes one collection cycle
type CycleReport struct {
	CorrelationID string        `json:"correlation_id"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Targets       int           `json:"targets"`
	Collected     int           `json:"collected"`
	Degraded      int           `json:"degraded"`
	Failed        int           `json:"failed"`
	// Deferred targets were rejected by the bulkhead and go first next cycle.
	Deferred []int64 `json:"deferred,omitempty"`
}

// Status labels the cycle for metrics
func (r CycleReport) Status() string {
	switch {
	case r.Failed == 0 && len(r.Deferred) == 0:
		return "success"
	case r.Collected > 0:
		return "partial"
	default:
		return "failed"
	}
}

type outcome int

const (
	outcomeCollected outcome = iota
	outcomeDegraded
	outcomeFailed
	outcomeDeferred
)

// CollectionJob runs collection cycles over the active fleet
type CollectionJob struct {
	targets   TargetRegistry
	samples   SampleStore
	collector Collector
	sink      notify.Sink
	config    CollectionConfig
	bulkhead  *resilience.Bulkhead

	metrics *metrics.Metrics
	tracer  *tracing.TracingService
	logger  *logging.Logger

	mu       sync.Mutex
	deferred map[int64]struct{}
}

// NewCollectionJob creates a collection job. A nil sink discards events.
func NewCollectionJob(targets TargetRegistry, samples SampleStore, collector Collector, sink notify.Sink,
	config CollectionConfig, m *metrics.Metrics, tracer *tracing.TracingService) *CollectionJob {
	if config.Concurrency <= 0 {
		config.Concurrency = 10
	}
	if sink == nil {
		sink = notify.NopSink{}
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}
	bulkhead := config.Bulkhead
	if bulkhead == nil {
		bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          "jobs.collection",
			MaxConcurrent: config.Concurrency,
			MaxQueued:     config.MaxQueued,
			OnReject:      m.RecordBulkheadRejection,
		})
	}
	return &CollectionJob{
		targets:   targets,
		samples:   samples,
		collector: collector,
		sink:      sink,
		config:    config,
		bulkhead:  bulkhead,
		metrics:   m,
		tracer:    tracer,
		logger:    logging.GetLogger(),
		deferred:  make(map[int64]struct{}),
	}
}

// Bulkhead returns the bulkhead guarding collections
func (j *CollectionJob) Bulkhead() *resilience.Bulkhead {
	return j.bulkhead
}

// Name identifies the job in schedules and logs
func (j *CollectionJob) Name() string {
	return "collection"
}

// Run adapts RunCollectionCycle to the scheduler
func (j *CollectionJob) Run(ctx context.Context) error {
	_, err := j.RunCollectionCycle(ctx)
	return err
}

// RunCollectionCycle collects every active target once. Per-target failures
// are logged and counted; only a failure to list targets or cancellation of
// ctx is returned, and the report is always filled in.
func (j *CollectionJob) RunCollectionCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{
		CorrelationID: logging.NewCorrelationID(),
		StartedAt:     time.Now(),
	}
	ctx = logging.WithCorrelationID(ctx, report.CorrelationID)
	ctx, span := j.tracer.StartCycleSpan(ctx, j.Name(), report.CorrelationID)
	defer span.End()

	targets, err := j.targets.ListActive(ctx)
	if err != nil {
		j.tracer.RecordError(span, err)
		j.metrics.RecordCollectionCycle("failed", time.Since(report.StartedAt))
		j.logger.WithContext(ctx).WithError(err).Error("Failed to list active targets")
		return report, fmt.Errorf("list active targets: %w", err)
	}
	targets = j.prioritize(targets)
	report.Targets = len(targets)

	outcomes := make([]outcome, len(targets))
	var g errgroup.Group
	g.SetLimit(j.config.Concurrency + j.config.MaxQueued)
	for i, target := range targets {
		if ctx.Err() != nil {
			outcomes[i] = outcomeDeferred
			continue
		}
		g.Go(func() error {
			outcomes[i] = j.collectTarget(ctx, target)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	var deferred []int64
	for i, o := range outcomes {
		switch o {
		case outcomeCollected:
			report.Collected++
		case outcomeDegraded:
			report.Collected++
			report.Degraded++
		case outcomeFailed:
			report.Failed++
		case outcomeDeferred:
			deferred = append(deferred, targets[i].ID)
		}
	}
	report.Deferred = deferred
	j.setDeferred(deferred)
	report.Duration = time.Since(report.StartedAt)

	j.metrics.RecordCollectionCycle(report.Status(), report.Duration)
	j.logger.LogCycleEvent(ctx, j.Name(), report.Duration, logrus.Fields{
		"targets":   report.Targets,
		"collected": report.Collected,
		"degraded":  report.Degraded,
		"failed":    report.Failed,
		"deferred":  len(report.Deferred),
		"status":    report.Status(),
	})

	if err := ctx.Err(); err != nil {
		j.tracer.RecordError(span, err)
		return report, err
	}
	return report, nil
}

// CollectNow collects and stores one target outside the schedule, sharing
// the cycle's bulkhead.
func (j *CollectionJob) CollectNow(ctx context.Context, target types.Target) (types.Sample, error) {
	var sample types.Sample
	err := j.bulkhead.Execute(ctx, func(ctx context.Context) error {
		sample = j.collector.Collect(ctx, target)
		return j.store(ctx, target, &sample)
	})
	return sample, err
}

func (j *CollectionJob) collectTarget(ctx context.Context, target types.Target) (result outcome) {
	ctx = logging.WithTargetID(ctx, target.ID)
	defer func() {
		if r := recover(); r != nil {
			j.logger.WithContext(ctx).WithField("panic", fmt.Sprint(r)).Error("Target collection panicked")
			result = outcomeFailed
		}
	}()

	sample, err := j.CollectNow(ctx, target)
	switch {
	case resilience.IsBulkheadRejected(err):
		j.logger.WithContext(ctx).Warn("Collection slots exhausted, deferring target to next cycle")
		return outcomeDeferred
	case err != nil:
		j.logger.WithContext(ctx).WithError(err).Error("Failed to store sample")
		return outcomeFailed
	case sample.Degraded():
		return outcomeDegraded
	default:
		return outcomeCollected
	}
}

func (j *CollectionJob) store(ctx context.Context, target types.Target, sample *types.Sample) error {
	if err := j.samples.Append(ctx, sample); err != nil {
		return err
	}
	j.metrics.RecordSample(string(sample.Status), sample.Degraded())
	j.sink.Publish(ctx, notify.SampleCollected(target, *sample))
	return nil
}

// prioritize moves targets deferred by the previous cycle to the front.
func (j *CollectionJob) prioritize(targets []types.Target) []types.Target {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.deferred) == 0 {
		return targets
	}

	ordered := make([]types.Target, 0, len(targets))
	var rest []types.Target
	for _, t := range targets {
		if _, ok := j.deferred[t.ID]; ok {
			ordered = append(ordered, t)
		} else {
			rest = append(rest, t)
		}
	}
	return append(ordered, rest...)
}

func (j *CollectionJob) setDeferred(ids []int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.deferred = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		j.deferred[id] = struct{}{}
	}
}
