package alerting

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/servermon/internal/notify"
	"github.com/NikhilSetiya/servermon/pkg/logging"
	"github.com/NikhilSetiya/servermon/pkg/metrics"
	"github.com/NikhilSetiya/servermon/pkg/tracing"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

// TargetRegistry lists the targets to evaluate
type TargetRegistry interface {
	ListActive(ctx context.Context) ([]types.Target, error)
}

// SampleReader returns the newest sample of a target. found is false when
// the target has none.
type SampleReader interface {
	LatestByTarget(ctx context.Context, targetID int64) (sample types.Sample, found bool, err error)
}

// AlertStore persists alerts
type AlertStore interface {
	UnresolvedByTargetAndKind(ctx context.Context, targetID int64, kind types.AlertKind) (types.Alert, bool, error)
	AppendBatch(ctx context.Context, alerts []*types.Alert) error
}

// EvaluationReport summarizes one evaluation cycle
type EvaluationReport struct {
	CorrelationID string        `json:"correlation_id"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Targets       int           `json:"targets"`
	Evaluated     int           `json:"evaluated"`
	// Skipped targets had no sample or only a degraded one.
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Created []types.Alert `json:"created"`
}

// Evaluator applies the threshold table to the fleet
type Evaluator struct {
	targets    TargetRegistry
	samples    SampleReader
	alerts     AlertStore
	sink       notify.Sink
	thresholds atomic.Pointer[Thresholds]

	metrics *metrics.Metrics
	tracer  *tracing.TracingService
	logger  *logging.Logger
}

// NewEvaluator creates an evaluator using thresholds, or the defaults when
// thresholds is nil.
func NewEvaluator(targets TargetRegistry, samples SampleReader, alerts AlertStore, sink notify.Sink,
	thresholds *Thresholds, m *metrics.Metrics, tracer *tracing.TracingService) *Evaluator {
	if sink == nil {
		sink = notify.NopSink{}
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}
	e := &Evaluator{
		targets: targets,
		samples: samples,
		alerts:  alerts,
		sink:    sink,
		metrics: m,
		tracer:  tracer,
		logger:  logging.GetLogger(),
	}
	e.SetThresholds(thresholds)
	return e
}

// SetThresholds swaps the rule table; cycles already running keep the old one.
func (e *Evaluator) SetThresholds(t *Thresholds) {
	if t == nil {
		t = DefaultThresholds()
	}
	e.thresholds.Store(t)
}

// Thresholds returns the active rule table
func (e *Evaluator) Thresholds() *Thresholds {
	return e.thresholds.Load()
}

// Name identifies the job in schedules and logs
func (e *Evaluator) Name() string {
	return "alert_evaluation"
}

// Run adapts RunAlertEvaluationCycle to the scheduler
func (e *Evaluator) Run(ctx context.Context) error {
	_, err := e.RunAlertEvaluationCycle(ctx)
	return err
}

// RunAlertEvaluationCycle evaluates the latest sample of each active target
// and persists every new alert in one batch. Per-target failures are logged
// and skipped; a failed batch fails the cycle and nothing is published.
func (e *Evaluator) RunAlertEvaluationCycle(ctx context.Context) (EvaluationReport, error) {
	report := EvaluationReport{
		CorrelationID: logging.NewCorrelationID(),
		StartedAt:     time.Now(),
	}
	ctx = logging.WithCorrelationID(ctx, report.CorrelationID)
	ctx, span := e.tracer.StartCycleSpan(ctx, e.Name(), report.CorrelationID)
	defer span.End()

	fail := func(err error) (EvaluationReport, error) {
		e.tracer.RecordError(span, err)
		e.metrics.RecordAlertCycle("failed")
		e.logger.WithContext(ctx).WithError(err).Error("Alert evaluation cycle failed")
		report.Duration = time.Since(report.StartedAt)
		return report, err
	}

	targets, err := e.targets.ListActive(ctx)
	if err != nil {
		return fail(fmt.Errorf("list active targets: %w", err))
	}
	report.Targets = len(targets)
	thresholds := e.Thresholds()

	var pending []*types.Alert
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		created, evaluated, err := e.evaluateTarget(ctx, thresholds, target)
		switch {
		case err != nil:
			report.Failed++
			e.logger.WithContext(logging.WithTargetID(ctx, target.ID)).WithError(err).
				Warn("Skipping target in alert evaluation")
		case !evaluated:
			report.Skipped++
		default:
			report.Evaluated++
			pending = append(pending, created...)
		}
	}

	if len(pending) > 0 {
		if err := e.alerts.AppendBatch(ctx, pending); err != nil {
			return fail(fmt.Errorf("persist %d alerts: %w", len(pending), err))
		}
	}

	report.Created = make([]types.Alert, 0, len(pending))
	for _, a := range pending {
		report.Created = append(report.Created, *a)
		e.metrics.RecordAlertCreated(a.Kind.String(), a.Severity.String())
		e.logger.WithContext(logging.WithTargetID(ctx, a.TargetID)).WithFields(logrus.Fields{
			"alert_id": a.ID,
			"kind":     a.Kind.String(),
			"severity": a.Severity.String(),
			"actual":   a.ActualValue,
		}).Warn("Alert created: " + a.Message)
		e.sink.Publish(ctx, notify.AlertEvent(notify.EventAlertRaised, *a))
	}

	report.Duration = time.Since(report.StartedAt)
	e.metrics.RecordAlertCycle("success")
	e.logger.LogCycleEvent(ctx, e.Name(), report.Duration, logrus.Fields{
		"targets":   report.Targets,
		"evaluated": report.Evaluated,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
		"created":   len(report.Created),
	})
	return report, nil
}

// evaluateTarget returns the alerts to create for target. evaluated is
// false when there is nothing to evaluate.
func (e *Evaluator) evaluateTarget(ctx context.Context, thresholds *Thresholds, target types.Target) (created []*types.Alert, evaluated bool, err error) {
	sample, found, err := e.samples.LatestByTarget(ctx, target.ID)
	if err != nil {
		return nil, false, fmt.Errorf("latest sample: %w", err)
	}
	if !found || sample.Degraded() {
		return nil, false, nil
	}

	for _, rule := range thresholds.Rules {
		value, severity, breached := rule.Check(sample)
		if !breached {
			continue
		}
		_, open, err := e.alerts.UnresolvedByTargetAndKind(ctx, target.ID, rule.Kind)
		if err != nil {
			return nil, false, fmt.Errorf("unresolved %s alert: %w", rule.Kind, err)
		}
		if open {
			continue
		}
		created = append(created, rule.Build(target, value, severity))
	}
	return created, true, nil
}
