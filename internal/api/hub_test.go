package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lampwatch/lampwatch/internal/pipeline"
)

func dialFeed(t *testing.T, h *harness) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(h.srv)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, func() {
		_ = conn.Close()
		h.srv.Hub().Close()
		ts.Close()
	}
}

func TestHubBroadcastsResults(t *testing.T) {
	h := newHarness(t)
	conn, done := dialFeed(t, h)
	defer done()

	hub := h.srv.Hub()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(positiveResult())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, true, got["human_detected"])
	assert.Equal(t, "Human detected. Total 1 person(s) found.", got["message"])
	assert.NotContains(t, got, "Steps")
}

func TestHubForgetsDisconnectedClients(t *testing.T) {
	h := newHarness(t)
	conn, done := dialFeed(t, h)
	defer done()

	hub := h.srv.Hub()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// no clients left, must not block
	hub.Broadcast(positiveResult())
}

func TestHubDropsForSlowClients(t *testing.T) {
	hub := NewHub(nil)
	client := &wsClient{id: "slow", send: make(chan []byte, 1)}
	require.True(t, hub.register(client))

	res := &pipeline.Result{Status: pipeline.StatusSuccess}
	hub.Broadcast(res)
	hub.Broadcast(res) // buffer full, dropped

	assert.Len(t, client.send, 1)

	hub.unregister(client)
	_, open := <-client.send
	assert.True(t, open, "buffered message is still delivered before close")
	_, open = <-client.send
	assert.False(t, open)
}

func TestHubRefusesClientsAfterClose(t *testing.T) {
	hub := NewHub(nil)
	hub.Close()
	assert.False(t, hub.register(&wsClient{id: "late", send: make(chan []byte, 1)}))
	assert.Equal(t, 0, hub.ClientCount())
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"http://dash.local"}, "", true},
		{"same host", nil, "http://detector:5000", true},
		{"listed", []string{"http://dash.local"}, "http://dash.local", true},
		{"listed with trailing slash", []string{"http://dash.local/"}, "http://dash.local", true},
		{"wildcard", []string{"*"}, "http://anywhere.example", true},
		{"foreign", []string{"http://dash.local"}, "http://evil.example", false},
		{"foreign without list", nil, "http://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://detector:5000/ws/events", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkOrigin(tt.allowed)(req))
		})
	}
}

func TestFeedRejectsForeignOrigins(t *testing.T) {
	hub := NewHub(nil)
	hub.AllowOrigins([]string{"http://dash.local"})
	e := echo.New()
	e.GET("/ws/events", hub.ServeWS)
	ts := httptest.NewServer(e)
	defer ts.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
	assert.Equal(t, 0, hub.ClientCount())

	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://dash.local"}})
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	_ = conn.Close()
}
