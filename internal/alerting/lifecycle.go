package alerting

import (
	"context"
	"time"

	"github.com/NikhilSetiya/servermon/internal/notify"
	"github.com/NikhilSetiya/servermon/pkg/logging"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

// TransitionStore moves alerts through Open → Acknowledged → Resolved
type TransitionStore interface {
	Acknowledge(ctx context.Context, id int64, by string, at time.Time) (*types.Alert, error)
	Resolve(ctx context.Context, id int64, at time.Time) (*types.Alert, error)
}

// Lifecycle applies operator transitions and announces them
type Lifecycle struct {
	store  TransitionStore
	sink   notify.Sink
	now    func() time.Time
	logger *logging.Logger
}

// NewLifecycle creates a lifecycle. A nil sink discards events.
func NewLifecycle(store TransitionStore, sink notify.Sink) *Lifecycle {
	if sink == nil {
		sink = notify.NopSink{}
	}
	return &Lifecycle{store: store, sink: sink, now: time.Now, logger: logging.GetLogger()}
}

// Acknowledge marks an open alert as seen by an operator
func (l *Lifecycle) Acknowledge(ctx context.Context, id int64, by string) (*types.Alert, error) {
	alert, err := l.store.Acknowledge(ctx, id, by, l.now())
	if err != nil {
		return nil, err
	}
	l.logger.WithContext(logging.WithTargetID(ctx, alert.TargetID)).
		WithField("alert_id", id).WithField("by", by).Info("Alert acknowledged")
	l.sink.Publish(ctx, notify.AlertEvent(notify.EventAlertAcknowledged, *alert))
	return alert, nil
}

// Resolve closes an alert so the next breach of its kind opens a new one
func (l *Lifecycle) Resolve(ctx context.Context, id int64) (*types.Alert, error) {
	alert, err := l.store.Resolve(ctx, id, l.now())
	if err != nil {
		return nil, err
	}
	l.logger.WithContext(logging.WithTargetID(ctx, alert.TargetID)).
		WithField("alert_id", id).Info("Alert resolved")
	l.sink.Publish(ctx, notify.AlertEvent(notify.EventAlertResolved, *alert))
	return alert, nil
}
