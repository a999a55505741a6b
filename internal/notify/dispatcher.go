package notify

import (
	"context"
	"sync"
	"time"

	"github.com/NikhilSetiya/servermon/pkg/logging"
	"github.com/NikhilSetiya/servermon/pkg/metrics"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	// BufferSize bounds queued events; publishes beyond it are dropped.
	BufferSize int
	// HandlerTimeout bounds a single delivery.
	HandlerTimeout time.Duration
}

// DefaultDispatcherConfig returns a 256 event buffer and 5s deliveries
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{BufferSize: 256, HandlerTimeout: 5 * time.Second}
}

// Dispatcher is a Sink that queues events and delivers them to every
// registered handler from a single background loop.
type Dispatcher struct {
	config  DispatcherConfig
	events  chan queued
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu       sync.RWMutex
	handlers []Handler

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type queued struct {
	ctx   context.Context
	event Event
}

// NewDispatcher creates a dispatcher; call Run to start delivery.
func NewDispatcher(config DispatcherConfig, m *metrics.Metrics) *Dispatcher {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultDispatcherConfig().BufferSize
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = DefaultDispatcherConfig().HandlerTimeout
	}
	return &Dispatcher{
		config:  config,
		events:  make(chan queued, config.BufferSize),
		metrics: m,
		logger:  logging.GetLogger(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// AddHandler registers a destination
func (d *Dispatcher) AddHandler(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers = append(d.handlers, handler)
	d.logger.Info("Notification handler added", "handler", handler.Name())
}

// Publish queues event, dropping it when the buffer is full
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	// Deliveries outlive the publisher's request or cycle.
	q := queued{ctx: context.WithoutCancel(ctx), event: event}
	select {
	case d.events <- q:
	default:
		d.metrics.RecordNotificationDropped()
		d.logger.Warn("Notification buffer full, dropping event",
			"event_id", event.ID,
			"type", event.Type,
			"target_id", event.TargetID,
		)
	}
}

// Run delivers queued events until ctx is cancelled or Stop is called,
// then drains what is already queued.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.doneCh)
	for {
		select {
		case q := <-d.events:
			d.deliver(q)
		case <-ctx.Done():
			d.drain()
			return
		case <-d.stopCh:
			d.drain()
			return
		}
	}
}

// Stop ends Run and waits for queued events to be delivered
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

func (d *Dispatcher) drain() {
	for {
		select {
		case q := <-d.events:
			d.deliver(q)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(q queued) {
	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for _, handler := range handlers {
		d.deliverOne(q, handler)
	}
}

func (d *Dispatcher) deliverOne(q queued, handler Handler) {
	ctx, cancel := context.WithTimeout(q.ctx, d.config.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordNotificationFailure(handler.Name())
			d.logger.Error("Notification handler panicked",
				"handler", handler.Name(),
				"event_id", q.event.ID,
				"panic", r,
			)
		}
	}()

	if err := handler.Handle(ctx, q.event); err != nil {
		d.metrics.RecordNotificationFailure(handler.Name())
		d.logger.WithContext(ctx).WithError(err).WithField("handler", handler.Name()).
			WithField("event_id", q.event.ID).Error("Notification handler failed")
	}
}

// LoggingHandler writes events to the application log
type LoggingHandler struct {
	logger *logging.Logger
}

// NewLoggingHandler creates a new logging handler
func NewLoggingHandler() *LoggingHandler {
	return &LoggingHandler{logger: logging.GetLogger()}
}

func (h *LoggingHandler) Handle(ctx context.Context, event Event) error {
	if event.Alert == nil {
		if event.Sample == nil {
			return nil
		}
		h.logger.Debug("Sample collected",
			"target_id", event.TargetID,
			"status", event.Sample.Status,
		)
		return nil
	}

	a := event.Alert
	fields := []interface{}{
		"event", event.Type,
		"alert_id", a.ID,
		"target_id", a.TargetID,
		"kind", a.Kind.String(),
		"severity", a.Severity.String(),
		"threshold", a.ThresholdValue,
		"actual", a.ActualValue,
	}
	if event.Type != EventAlertRaised {
		h.logger.Info("Alert updated: "+a.Title, fields...)
		return nil
	}
	switch a.Severity {
	case types.SeverityInfo:
		h.logger.Info("ALERT: "+a.Title, fields...)
	case types.SeverityWarning:
		h.logger.Warn("ALERT: "+a.Title, fields...)
	case types.SeverityError:
		h.logger.Error("ALERT: "+a.Title, fields...)
	default:
		h.logger.Error("CRITICAL ALERT: "+a.Title, fields...)
	}
	return nil
}

func (h *LoggingHandler) Name() string {
	return "logging"
}
