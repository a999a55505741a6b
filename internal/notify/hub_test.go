package notify

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/servermon/pkg/types"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func subscribe(t *testing.T, conn *websocket.Conn, group string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Command{Action: "subscribe", Group: group}))
	var r Reply
	readJSON(t, conn, &r)
	require.Equal(t, Reply{Event: "subscribed", Group: group}, r)
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Count() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DeliversToSubscribedGroups(t *testing.T) {
	hub, url := startHub(t)

	alerts := dial(t, url)
	server3 := dial(t, url)
	server9 := dial(t, url)
	waitForClients(t, hub, 3)

	subscribe(t, alerts, GroupAlerts)
	subscribe(t, server3, TargetGroup(3))
	subscribe(t, server9, TargetGroup(9))

	require.NoError(t, hub.Handle(context.Background(), AlertEvent(EventAlertRaised, testAlert())))
	require.NoError(t, hub.Handle(context.Background(),
		SampleCollected(types.Target{ID: 9, Name: "db-1"}, types.Sample{TargetID: 9, CPUUsage: 12})))

	var e Event
	readJSON(t, alerts, &e)
	assert.Equal(t, EventAlertRaised, e.Type)

	readJSON(t, server3, &e)
	assert.Equal(t, EventAlertRaised, e.Type)
	assert.Equal(t, int64(3), e.TargetID)

	readJSON(t, server9, &e)
	assert.Equal(t, EventSampleCollected, e.Type)
	require.NotNil(t, e.Sample)
	assert.Equal(t, 12.0, e.Sample.CPUUsage)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	subscribe(t, conn, GroupAlerts)
	require.NoError(t, conn.WriteJSON(Command{Action: "unsubscribe", Group: GroupAlerts}))
	var r Reply
	readJSON(t, conn, &r)
	assert.Equal(t, "unsubscribed", r.Event)

	require.NoError(t, hub.Handle(context.Background(), AlertEvent(EventAlertRaised, testAlert())))

	// A fresh subscription proves nothing else was queued ahead of its reply.
	subscribe(t, conn, TargetGroup(42))
}

func TestHub_InvalidCommands(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var r Reply
	readJSON(t, conn, &r)
	assert.Equal(t, Reply{Event: "error", Error: "invalid command"}, r)

	require.NoError(t, conn.WriteJSON(Command{Action: "subscribe"}))
	readJSON(t, conn, &r)
	assert.Equal(t, "group is required", r.Error)

	require.NoError(t, conn.WriteJSON(Command{Action: "join", Group: "alerts"}))
	readJSON(t, conn, &r)
	assert.Equal(t, "error", r.Event)
	assert.Contains(t, r.Error, "join")
}

func TestHub_DisconnectAndClose(t *testing.T) {
	hub, url := startHub(t)

	c1 := dial(t, url)
	dial(t, url)
	waitForClients(t, hub, 2)

	c1.Close()
	waitForClients(t, hub, 1)

	hub.Close()
	assert.Equal(t, 0, hub.Count())

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = conn.ReadMessage()
		conn.Close()
	}
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Count())
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://ops.example.com"})

	r := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://ops.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))

	assert.True(t, originChecker([]string{"*"})(r))
}
