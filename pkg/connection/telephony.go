// Package connection holds the two protocol adapters the bridge sits
// between: the telephony media-stream WebSocket and the realtime speech
// session. Adapters translate wire traffic into bridge events and implement
// the bridge's outbound ports.
//
// TelephonyConn speaks the media-stream WebSocket protocol:
//   - JSON envelope events: connected, start, media, stop, mark (inbound);
//     media, mark, clear (outbound)
//   - Audio: base64 μ-law, 8kHz, mono
//
// Reference: https://www.twilio.com/docs/voice/media-streams
package connection

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HYyydu/AiTelephone-sub000/pkg/audio"
	"github.com/HYyydu/AiTelephone-sub000/pkg/bridge"
)

// Telephony media-stream constants.
const (
	TelephonySampleRate = 8000 // μ-law at 8kHz, both directions
	TelephonyChannels   = 1    // mono only

	// outBufferMs is how much outbound audio the pacer accumulates before it
	// starts releasing frames, smoothing over bursty response audio.
	outBufferMs = 100

	// clearFadeMs fades the head of cleared audio so an interruption does not
	// click in the caller's ear.
	clearFadeMs = 40
)

// TelephonyConn adapts one media-stream WebSocket to the bridge. It
// implements bridge.TelephonyPort for the outbound direction and delivers
// inbound traffic as bridge events.
type TelephonyConn struct {
	conn    *websocket.Conn
	deliver func(bridge.Event)

	// Stream metadata, set from the start event.
	streamSID  string
	callSID    string
	accountSID string

	// Outbound audio is paced into 20ms frames so a whole response burst
	// does not land on the caller at once.
	pacer *audio.Pacer

	closed  atomic.Bool
	closeMu sync.Mutex
	closeWg sync.WaitGroup

	// gorilla/websocket requires synchronized writes.
	writeMu sync.Mutex
}

// telephonyMessage is the JSON envelope for every media-stream frame.
type telephonyMessage struct {
	Event          string         `json:"event"`
	SequenceNumber string         `json:"sequenceNumber,omitempty"`
	StreamSid      string         `json:"streamSid,omitempty"`
	Protocol       string         `json:"protocol,omitempty"`
	Version        string         `json:"version,omitempty"`
	Start          *startPayload  `json:"start,omitempty"`
	Media          *mediaPayload  `json:"media,omitempty"`
	Stop           *stopPayload   `json:"stop,omitempty"`
	Mark           *markPayload   `json:"mark,omitempty"`
}

type startPayload struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      mediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`   // "audio/x-mulaw"
	SampleRate int    `json:"sampleRate"` // 8000
	Channels   int    `json:"channels"`   // 1
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64 μ-law
}

type stopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type markPayload struct {
	Name string `json:"name"`
}

// NewTelephonyConn wraps an upgraded WebSocket. queryCallSID carries the
// call SID from the upgrade URL when the stream's start payload omits it.
func NewTelephonyConn(conn *websocket.Conn, queryCallSID string, deliver func(bridge.Event)) *TelephonyConn {
	return &TelephonyConn{
		conn:    conn,
		deliver: deliver,
		callSID: queryCallSID,
		pacer:   audio.NewPacer(TelephonySampleRate, outBufferMs),
	}
}

// CallSID returns the call identifier, from the start payload or upgrade URL.
func (tc *TelephonyConn) CallSID() string {
	return tc.callSID
}

// StreamSID returns the media-stream identifier.
func (tc *TelephonyConn) StreamSID() string {
	return tc.streamSID
}

// Start launches the read and pacing goroutines.
func (tc *TelephonyConn) Start() {
	tc.closeWg.Add(2)
	go tc.readPump()
	go tc.pacePump()
}

// Close shuts the WebSocket and waits for the pumps to exit. Idempotent.
func (tc *TelephonyConn) Close() error {
	tc.closeMu.Lock()
	defer tc.closeMu.Unlock()

	if tc.closed.Load() {
		return nil
	}
	tc.closed.Store(true)

	log.Printf("[Telephony] closing stream %s", tc.streamSID)
	err := tc.conn.Close()
	tc.closeWg.Wait()
	return err
}

// readPump reads envelopes until the socket drops.
func (tc *TelephonyConn) readPump() {
	defer tc.closeWg.Done()

	for {
		_, raw, err := tc.conn.ReadMessage()
		if err != nil {
			if tc.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				tc.deliver(bridge.TelephonyClosedEvent{})
			} else {
				log.Printf("[Telephony] read error: %v", err)
				tc.deliver(bridge.TelephonyClosedEvent{Err: err})
			}
			return
		}

		var msg telephonyMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[Telephony] malformed envelope: %v", err)
			continue
		}
		tc.handleMessage(&msg)
	}
}

// pacePump releases one 20ms frame per tick toward the caller.
func (tc *TelephonyConn) pacePump() {
	defer tc.closeWg.Done()

	ticker := time.NewTicker(audio.FrameDurationMs * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if tc.closed.Load() {
			return
		}
		frame, ok := tc.pacer.ReadFrame()
		if !ok {
			continue
		}
		tc.writeMedia(frame)
	}
}

func (tc *TelephonyConn) handleMessage(msg *telephonyMessage) {
	switch msg.Event {
	case "connected":
		log.Printf("[Telephony] connected (protocol: %s, version: %s)", msg.Protocol, msg.Version)
	case "start":
		tc.handleStart(msg)
	case "media":
		tc.handleMedia(msg)
	case "stop":
		log.Printf("[Telephony] stream stopped, call %s", tc.callSID)
		tc.deliver(bridge.TelephonyStopEvent{})
	case "mark":
		if msg.Mark != nil {
			log.Printf("[Telephony] mark returned: %s", msg.Mark.Name)
		}
	default:
		log.Printf("[Telephony] unknown event: %s", msg.Event)
	}
}

func (tc *TelephonyConn) handleStart(msg *telephonyMessage) {
	if msg.Start == nil {
		log.Printf("[Telephony] start event missing payload")
		return
	}
	tc.streamSID = msg.Start.StreamSid
	tc.accountSID = msg.Start.AccountSid
	if msg.Start.CallSid != "" {
		tc.callSID = msg.Start.CallSid
	}

	log.Printf("[Telephony] stream started - StreamSid: %s, CallSid: %s, format: %s %dHz",
		tc.streamSID, tc.callSID, msg.Start.MediaFormat.Encoding, msg.Start.MediaFormat.SampleRate)

	tc.deliver(bridge.TelephonyStartEvent{StreamSID: tc.streamSID, CallSID: tc.callSID})
}

func (tc *TelephonyConn) handleMedia(msg *telephonyMessage) {
	if msg.Media == nil || msg.Media.Payload == "" {
		return
	}
	if msg.Media.Track != "" && msg.Media.Track != "inbound" {
		return
	}

	mulaw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		log.Printf("[Telephony] bad media payload: %v", err)
		return
	}

	pcm := audio.DecodeMuLaw(mulaw)
	tc.deliver(bridge.TelephonyAudioEvent{PCM: pcm, At: time.Now()})
}

// SendAudio implements bridge.TelephonyPort. The audio must already be at
// the telephony rate; it is paced out in 20ms μ-law frames.
func (tc *TelephonyConn) SendAudio(pcm []int16) error {
	if tc.closed.Load() {
		return nil
	}
	tc.pacer.Write(pcm)
	return nil
}

// ClearAudio implements bridge.TelephonyPort. It fades out locally queued
// audio and tells the remote end to drop whatever it has buffered.
func (tc *TelephonyConn) ClearAudio() error {
	if tc.closed.Load() {
		return nil
	}
	tc.pacer.Clear(clearFadeMs)

	if tc.streamSID == "" {
		return nil
	}
	msg := telephonyMessage{Event: "clear", StreamSid: tc.streamSID}
	log.Printf("[Telephony] clearing remote audio buffer")
	tc.writeMu.Lock()
	err := tc.conn.WriteJSON(msg)
	tc.writeMu.Unlock()
	if err != nil {
		return err
	}
	// The mark's echo tells us when the flush has taken effect remotely.
	return tc.SendMark("clear-" + uuid.NewString())
}

// SendMark sends a mark for audio synchronization; the remote echoes it back
// once everything queued before it has played.
func (tc *TelephonyConn) SendMark(name string) error {
	if tc.streamSID == "" || tc.closed.Load() {
		return nil
	}
	msg := telephonyMessage{
		Event:     "mark",
		StreamSid: tc.streamSID,
		Mark:      &markPayload{Name: name},
	}
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	return tc.conn.WriteJSON(msg)
}

func (tc *TelephonyConn) writeMedia(frame []int16) {
	if tc.streamSID == "" || tc.closed.Load() {
		return
	}
	payload := base64.StdEncoding.EncodeToString(audio.EncodeMuLaw(frame))
	msg := telephonyMessage{
		Event:     "media",
		StreamSid: tc.streamSID,
		Media:     &mediaPayload{Payload: payload},
	}

	tc.writeMu.Lock()
	err := tc.conn.WriteJSON(msg)
	tc.writeMu.Unlock()
	if err != nil {
		log.Printf("[Telephony] write error: %v", err)
	}
}

var _ bridge.TelephonyPort = (*TelephonyConn)(nil)
