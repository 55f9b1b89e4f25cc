package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HYyydu/AiTelephone-sub000/pkg/bridge"
	"github.com/HYyydu/AiTelephone-sub000/pkg/store"
)

func newTestServer(t *testing.T) (*BridgeServer, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	s := NewBridgeServer(ServerConfig{
		StreamURL:    "wss://bridge.example.com/media",
		StartTimeout: 2 * time.Second,
	}, ms, ms)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	t.Cleanup(s.cancel)
	return s, ms
}

func TestTwiMLResponse(t *testing.T) {
	s, _ := newTestServer(t)

	form := url.Values{"CallSid": {"CA123"}, "From": {"+15550001111"}, "To": {"+15550002222"}}
	req := httptest.NewRequest(http.MethodPost, "/twiml", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	s.handleTwiML(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `<Stream url="wss://bridge.example.com/media?callSid=CA123">`)
	assert.Contains(t, body, `<Parameter name="callSid" value="CA123" />`)
	assert.NotContains(t, body, "ZgotmplZ", "the wss scheme must survive templating")
}

func TestTwiMLWithoutCallSid(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/twiml", nil)
	rec := httptest.NewRecorder()

	s.handleTwiML(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<Stream url="wss://bridge.example.com/media">`)
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, rec.Body.String())
}

func TestAwaitStartKeepsBacklogInOrder(t *testing.T) {
	s, _ := newTestServer(t)

	events := make(chan bridge.Event, 8)
	events <- bridge.TelephonyAudioEvent{PCM: make([]int16, 160), At: time.Now()}
	events <- bridge.TelephonyStartEvent{StreamSID: "MZ1", CallSID: "CA1"}

	callSID, backlog, err := s.awaitStart(events)
	require.NoError(t, err)
	assert.Equal(t, "CA1", callSID)
	require.Len(t, backlog, 2)
	_, ok := backlog[0].(bridge.TelephonyAudioEvent)
	assert.True(t, ok, "early media must stay ahead of the start event")
}

func TestAwaitStartStreamEnded(t *testing.T) {
	s, _ := newTestServer(t)

	events := make(chan bridge.Event, 1)
	events <- bridge.TelephonyClosedEvent{}

	_, _, err := s.awaitStart(events)
	assert.Error(t, err)
}

func TestAwaitStartMissingCallSid(t *testing.T) {
	s, _ := newTestServer(t)

	events := make(chan bridge.Event, 1)
	events <- bridge.TelephonyStartEvent{StreamSID: "MZ1"}

	_, _, err := s.awaitStart(events)
	assert.Error(t, err)
}

func TestMediaRejectsUnknownCall(t *testing.T) {
	s, _ := newTestServer(t)

	srv := httptest.NewServer(http.HandlerFunc(s.handleMedia))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	start := map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ404", "callSid": "CA-unknown"},
	}
	require.NoError(t, conn.WriteJSON(start))

	// No call record exists, so the server drops the stream.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
