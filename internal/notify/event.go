// Package notify fans pipeline events out to websocket clients, Redis
// pub/sub and Kafka without ever failing the publisher.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/servermon/pkg/types"
)

// EventType identifies what happened
type EventType string

const (
	EventSampleCollected   EventType = "sample.collected"
	EventAlertRaised       EventType = "alert.raised"
	EventAlertAcknowledged EventType = "alert.acknowledged"
	EventAlertResolved     EventType = "alert.resolved"
)

// GroupAlerts receives every alert event.
const GroupAlerts = "alerts"

// Event is one notification. Exactly one of Sample and Alert is set.
type Event struct {
	ID         string        `json:"id"`
	Type       EventType     `json:"type"`
	TargetID   int64         `json:"target_id"`
	TargetName string        `json:"target_name,omitempty"`
	Sample     *types.Sample `json:"sample,omitempty"`
	Alert      *types.Alert  `json:"alert,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// TargetGroup is the group that receives every event of one target.
func TargetGroup(targetID int64) string {
	return fmt.Sprintf("server_%d", targetID)
}

// Groups returns the subscription groups the event is delivered to.
func (e Event) Groups() []string {
	groups := []string{TargetGroup(e.TargetID)}
	if e.Alert != nil {
		groups = append(groups, GroupAlerts)
	}
	return groups
}

func newEvent(t EventType, targetID int64) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		TargetID:  targetID,
		Timestamp: time.Now().UTC(),
	}
}

// SampleCollected builds the event for a stored sample
func SampleCollected(target types.Target, sample types.Sample) Event {
	e := newEvent(EventSampleCollected, target.ID)
	e.TargetName = target.Name
	e.Sample = &sample
	return e
}

// AlertEvent builds an alert lifecycle event
func AlertEvent(t EventType, alert types.Alert) Event {
	e := newEvent(t, alert.TargetID)
	e.Alert = &alert
	return e
}

// Sink accepts events. Publish never blocks on delivery and never fails
// the caller.
type Sink interface {
	Publish(ctx context.Context, event Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}

// Handler delivers events to one destination.
type Handler interface {
	Handle(ctx context.Context, event Event) error
	Name() string
}
