package server

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeforge/framework"
)

func dialHub(t *testing.T, hub *EventHub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventHubStreamsEvents(t *testing.T) {
	hub := NewEventHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	conn := dialHub(t, hub, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	framework.Emit(hub, framework.Event{Type: framework.EventStepStart, RunID: "r1", Agent: "coder", Message: "step started"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got framework.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, framework.EventStepStart, got.Type)
	assert.Equal(t, "coder", got.Agent)
	assert.False(t, got.Timestamp.IsZero())
}

func TestEventHubFiltersByRun(t *testing.T) {
	hub := NewEventHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	conn := dialHub(t, hub, "?run=wanted")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Emit(framework.Event{Type: framework.EventRunStart, RunID: "other"})
	hub.Emit(framework.Event{Type: framework.EventRunFinish, RunID: "wanted"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got framework.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "wanted", got.RunID)
	assert.Equal(t, framework.EventRunFinish, got.Type)
}

func TestEventHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewEventHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	sub := hub.register("")
	for i := 0; i < clientQueueLen*2; i++ {
		hub.Emit(framework.Event{Type: framework.EventParse})
	}
	assert.Len(t, sub.send, clientQueueLen)
	hub.unregister(sub)
	assert.Zero(t, hub.Clients())
}

func TestEventHubUnregistersOnClose(t *testing.T) {
	hub := NewEventHub(nil)
	conn := dialHub(t, hub, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}
