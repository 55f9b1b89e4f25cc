package connection

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HYyydu/AiTelephone-sub000/pkg/bridge"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dialTelephony stands up a fake media-stream peer and returns the adapter
// under test, a handle to the peer side, and the delivered-events channel.
func dialTelephony(t *testing.T, queryCallSID string) (*TelephonyConn, *websocket.Conn, chan bridge.Event) {
	t.Helper()

	peerCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		peerCh <- ws
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	events := make(chan bridge.Event, 64)
	tc := NewTelephonyConn(conn, queryCallSID, func(ev bridge.Event) { events <- ev })
	tc.Start()
	t.Cleanup(func() { tc.Close() })

	peer := <-peerCh
	t.Cleanup(func() { peer.Close() })
	return tc, peer, events
}

func waitEvent(t *testing.T, events chan bridge.Event) bridge.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestTelephonyStartEvent(t *testing.T) {
	tc, peer, events := dialTelephony(t, "")

	start := telephonyMessage{
		Event: "start",
		Start: &startPayload{
			AccountSid:  "AC123",
			StreamSid:   "MZ456",
			CallSid:     "CA789",
			Tracks:      []string{"inbound"},
			MediaFormat: mediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
		},
	}
	require.NoError(t, peer.WriteJSON(start))

	ev := waitEvent(t, events)
	se, ok := ev.(bridge.TelephonyStartEvent)
	require.True(t, ok, "expected start event, got %T", ev)
	assert.Equal(t, "MZ456", se.StreamSID)
	assert.Equal(t, "CA789", se.CallSID)
	assert.Equal(t, "CA789", tc.CallSID())
}

func TestTelephonyCallSIDFromQuery(t *testing.T) {
	tc, peer, events := dialTelephony(t, "CA-from-url")

	// Start payload without a callSid: the URL parameter stands in.
	start := telephonyMessage{
		Event: "start",
		Start: &startPayload{StreamSid: "MZ1"},
	}
	require.NoError(t, peer.WriteJSON(start))

	ev := waitEvent(t, events)
	se, ok := ev.(bridge.TelephonyStartEvent)
	require.True(t, ok)
	assert.Equal(t, "CA-from-url", se.CallSID)
	assert.Equal(t, "CA-from-url", tc.CallSID())
}

func TestTelephonyMediaDecoded(t *testing.T) {
	_, peer, events := dialTelephony(t, "")

	// 0xFF is μ-law digital zero.
	mulaw := make([]byte, 160)
	for i := range mulaw {
		mulaw[i] = 0xFF
	}
	msg := telephonyMessage{
		Event: "media",
		Media: &mediaPayload{Track: "inbound", Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
	require.NoError(t, peer.WriteJSON(msg))

	ev := waitEvent(t, events)
	ae, ok := ev.(bridge.TelephonyAudioEvent)
	require.True(t, ok, "expected audio event, got %T", ev)
	require.Len(t, ae.PCM, 160)
	assert.EqualValues(t, 0, ae.PCM[0])
	assert.False(t, ae.At.IsZero())
}

func TestTelephonyOutboundTrackIgnored(t *testing.T) {
	_, peer, events := dialTelephony(t, "")

	msg := telephonyMessage{
		Event: "media",
		Media: &mediaPayload{Track: "outbound", Payload: base64.StdEncoding.EncodeToString([]byte{0xFF})},
	}
	require.NoError(t, peer.WriteJSON(msg))
	require.NoError(t, peer.WriteJSON(telephonyMessage{Event: "stop"}))

	// Only the stop arrives; the outbound-track media was dropped.
	ev := waitEvent(t, events)
	_, ok := ev.(bridge.TelephonyStopEvent)
	assert.True(t, ok, "expected stop event, got %T", ev)
}

func TestTelephonyOutboundAudioPacedAndCleared(t *testing.T) {
	tc, peer, events := dialTelephony(t, "")

	// Collect everything the peer receives.
	var mu sync.Mutex
	var received []telephonyMessage
	go func() {
		for {
			_, raw, err := peer.ReadMessage()
			if err != nil {
				return
			}
			var m telephonyMessage
			if json.Unmarshal(raw, &m) == nil {
				mu.Lock()
				received = append(received, m)
				mu.Unlock()
			}
		}
	}()

	require.NoError(t, peer.WriteJSON(telephonyMessage{
		Event: "start",
		Start: &startPayload{StreamSid: "MZ9", CallSid: "CA9"},
	}))
	waitEvent(t, events)

	// 400ms of audio: enough to pass the pacer's accumulation threshold.
	require.NoError(t, tc.SendAudio(make([]int16, 3200)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range received {
			if m.Event == "media" && m.Media != nil && m.Media.Payload != "" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond, "no media frame reached the peer")

	mu.Lock()
	var first telephonyMessage
	for _, m := range received {
		if m.Event == "media" {
			first = m
			break
		}
	}
	mu.Unlock()
	raw, err := base64.StdEncoding.DecodeString(first.Media.Payload)
	require.NoError(t, err)
	// One 20ms frame at 8kHz is 160 μ-law bytes.
	assert.Len(t, raw, 160)
	assert.Equal(t, "MZ9", first.StreamSid)

	require.NoError(t, tc.ClearAudio())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range received {
			if m.Event == "clear" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond, "no clear frame reached the peer")
}

func TestTelephonyPeerDropDeliversClosed(t *testing.T) {
	_, peer, events := dialTelephony(t, "")

	peer.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if _, ok := ev.(bridge.TelephonyClosedEvent); ok {
				return
			}
		case <-deadline:
			t.Fatal("no closed event after peer drop")
		}
	}
}

func TestTelephonyCloseIdempotent(t *testing.T) {
	tc, _, _ := dialTelephony(t, "")
	require.NoError(t, tc.Close())
	require.NoError(t, tc.Close())
}
