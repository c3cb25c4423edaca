package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/debateflow/config"
	"github.com/BaSui01/debateflow/types"
)

func newTestServer(t *testing.T) (*Server, *Broadcaster, *httptest.Server) {
	t.Helper()
	hub := NewBroadcaster(zap.NewNop())
	t.Cleanup(hub.Close)

	reg := prometheus.NewRegistry()
	srv := New(config.DefaultServerConfig(), hub, reg, zap.NewNop())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, hub, ts
}

func TestServer_Healthz(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Metrics(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
}

func TestServer_WebSocketStreamsEvents(t *testing.T) {
	_, hub, ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Give the handler a moment to subscribe before publishing.
	deadline := time.Now().Add(time.Second)
	for {
		hub.Publish(types.Event{
			Type:  types.EventAgentMessageComplete,
			Agent: "sato",
			Text:  "hello",
			Turn:  1,
		})

		readCtx, readCancel := context.WithTimeout(ctx, 200*time.Millisecond)
		_, data, err := conn.Read(readCtx)
		readCancel()
		if err == nil {
			var ev types.Event
			require.NoError(t, json.Unmarshal(data, &ev))
			assert.Equal(t, types.EventAgentMessageComplete, ev.Type)
			assert.Equal(t, types.AgentID("sato"), ev.Agent)
			assert.Equal(t, "hello", ev.Text)
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("never received an event: %v", err)
		}
	}
}

func TestServer_WebSocketClosesWhenRunEnds(t *testing.T) {
	_, hub, ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Let the handler register its subscription, then end the stream.
	time.Sleep(100 * time.Millisecond)
	hub.Close()

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}
