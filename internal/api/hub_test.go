package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/activity.report/internal/classifier"
	"github.com/banshee-data/activity.report/internal/dispatch"
	"github.com/banshee-data/activity.report/internal/location"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(LoggingMiddleware(nil, NewServer(ServerConfig{Hub: hub}).ServeMux()))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestHub_BroadcastsActivityAndFalls(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub)
	ctx := context.Background()

	ev := dispatch.Event{ID: uuid.New(), Activity: classifier.Walking, Time: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	require.NoError(t, hub.ActivityDetected(ctx, ev))

	fix := location.Fix{Latitude: 52.52, Longitude: 13.405, Source: "static"}
	alert := dispatch.FallAlert{ID: uuid.New(), Time: ev.Time, Location: &fix}
	require.NoError(t, hub.NotifyFall(ctx, alert))

	m := readMessage(t, conn)
	assert.Equal(t, TypeActivity, m.Type)
	require.NotNil(t, m.Event)
	assert.Equal(t, ev.ID, m.Event.ID)
	assert.Equal(t, classifier.Walking, m.Event.Activity)
	assert.Nil(t, m.Alert)

	m = readMessage(t, conn)
	assert.Equal(t, TypeFall, m.Type)
	require.NotNil(t, m.Alert)
	assert.Equal(t, alert.ID, m.Alert.ID)
	require.NotNil(t, m.Alert.Location)
	assert.Equal(t, 52.52, m.Alert.Location.Latitude)
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, hub.ActivityDetected(context.Background(), dispatch.Event{Activity: classifier.Sitting}))
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub)

	hub.Close()
	assert.Zero(t, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub := NewHub(nil)
	c := &client{send: make(chan []byte, 1)}
	hub.clients[c] = struct{}{}

	// The first message fills the queue; the second finds it full.
	require.NoError(t, hub.ActivityDetected(context.Background(), dispatch.Event{}))
	assert.Equal(t, 1, hub.Clients())
	require.NoError(t, hub.ActivityDetected(context.Background(), dispatch.Event{}))
	assert.Zero(t, hub.Clients())
}
