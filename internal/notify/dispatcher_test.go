package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/servermon/pkg/metrics"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

type recordingHandler struct {
	name string
	err  error
	boom bool

	mu     sync.Mutex
	events []Event
}

func (h *recordingHandler) Handle(_ context.Context, e Event) error {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
	if h.boom {
		panic("handler exploded")
	}
	return h.err
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) received() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

func testAlert() types.Alert {
	return types.Alert{
		ID:             7,
		TargetID:       3,
		Kind:           types.AlertKindCPUUsage,
		Severity:       types.SeverityCritical,
		Title:          "High CPU Usage on web-1",
		Message:        "CPU usage is at 92.00%, exceeding threshold of 80%",
		ThresholdValue: 80,
		ActualValue:    92,
	}
}

func TestDispatcher_FansOutToEveryHandler(t *testing.T) {
	m := metrics.NewMetrics(metrics.DefaultConfig())
	d := NewDispatcher(DispatcherConfig{BufferSize: 8, HandlerTimeout: time.Second}, m)

	failing := &recordingHandler{name: "failing", err: errors.New("sink down")}
	panicking := &recordingHandler{name: "panicking", boom: true}
	ok := &recordingHandler{name: "ok"}
	d.AddHandler(failing)
	d.AddHandler(panicking)
	d.AddHandler(ok)

	go d.Run(context.Background())

	d.Publish(context.Background(), AlertEvent(EventAlertRaised, testAlert()))
	d.Publish(context.Background(), SampleCollected(types.Target{ID: 3, Name: "web-1"}, types.Sample{TargetID: 3}))
	d.Stop()

	assert.Len(t, failing.received(), 2)
	assert.Len(t, panicking.received(), 2)
	require.Len(t, ok.received(), 2)
	assert.Equal(t, EventAlertRaised, ok.received()[0].Type)
	assert.Equal(t, EventSampleCollected, ok.received()[1].Type)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("failing")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("panicking")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("ok")))
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	m := metrics.NewMetrics(metrics.DefaultConfig())
	d := NewDispatcher(DispatcherConfig{BufferSize: 1}, m)
	h := &recordingHandler{name: "ok"}
	d.AddHandler(h)

	d.Publish(context.Background(), AlertEvent(EventAlertRaised, testAlert()))
	d.Publish(context.Background(), AlertEvent(EventAlertRaised, testAlert()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDropped))

	go d.Run(context.Background())
	d.Stop()
	assert.Len(t, h.received(), 1)
}

func TestDispatcher_CanceledPublisherStillDelivers(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig(), nil)
	h := &recordingHandler{name: "ok"}
	d.AddHandler(h)

	ctx, cancel := context.WithCancel(context.Background())
	d.Publish(ctx, AlertEvent(EventAlertRaised, testAlert()))
	cancel()

	go d.Run(context.Background())
	d.Stop()
	assert.Len(t, h.received(), 1)
}

func TestEvent_Groups(t *testing.T) {
	sample := SampleCollected(types.Target{ID: 4}, types.Sample{TargetID: 4})
	assert.Equal(t, []string{"server_4"}, sample.Groups())

	alert := AlertEvent(EventAlertResolved, testAlert())
	assert.Equal(t, []string{"server_3", "alerts"}, alert.Groups())
	assert.NotEmpty(t, alert.ID)
	assert.NotEqual(t, alert.ID, sample.ID)
}

func TestLoggingHandler(t *testing.T) {
	h := NewLoggingHandler()
	assert.NoError(t, h.Handle(context.Background(), AlertEvent(EventAlertRaised, testAlert())))
	assert.NoError(t, h.Handle(context.Background(), SampleCollected(types.Target{ID: 1}, types.Sample{})))
	assert.NoError(t, h.Handle(context.Background(), Event{Type: EventSampleCollected}))
}
