package telemetry

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

	"yield-engine/internal/store"
	"yield-engine/model"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 10*time.Millisecond)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(msg, &f))
	return f
}

func TestHubBroadcastsEvents(t *testing.T) {
	h := NewHub(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	conn := dial(t, h)

	require.NoError(t, h.WriteEvent(store.Event{RunID: "r1", Tick: 3, Kind: store.EventTick}))
	f := read(t, conn)
	assert.Equal(t, "event", f.Type)
	data := f.Data.(map[string]interface{})
	assert.Equal(t, "r1", data["run_id"])
	assert.Equal(t, float64(3), data["tick"])

	require.NoError(t, h.WriteResult("r1", []byte(`{"ticks":10}`)))
	f = read(t, conn)
	assert.Equal(t, "result", f.Type)
	assert.Equal(t, float64(10), f.Data.(map[string]interface{})["ticks"])
}

func TestHubFollowsStates(t *testing.T) {
	h := NewHub(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	conn := dial(t, h)

	states := make(chan model.ProtocolState, 1)
	go h.Follow(ctx, states)
	st := model.NewProtocolState(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "USDT")
	st.Prices["ETH"] = 2000
	states <- st

	f := read(t, conn)
	assert.Equal(t, "state", f.Type)
	prices := f.Data.(map[string]interface{})["prices"].(map[string]interface{})
	assert.Equal(t, float64(2000), prices["ETH"])
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub(1, nil)
	assert.True(t, h.Broadcast([]byte("a")))
	assert.False(t, h.Broadcast([]byte("b")))
	assert.Equal(t, 1, h.Dropped())

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.False(t, h.Broadcast([]byte("c")), "closed hub accepts nothing")
}
