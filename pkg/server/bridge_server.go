// Package server exposes the telephony-facing HTTP surface: the media-stream
// WebSocket endpoint, the TwiML webhook that points calls at it, and a health
// check. Each accepted stream gets its own bridge session wired to a fresh
// speech session.
//
// Usage:
//  1. Point the telephony provider's webhook at the TwiML endpoint
//  2. The returned TwiML connects the call's media stream to /media
//  3. The server looks up the call record, dials the speech session, and
//     runs the bridge until either side hangs up
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HYyydu/AiTelephone-sub000/pkg/bridge"
	"github.com/HYyydu/AiTelephone-sub000/pkg/connection"
	"github.com/HYyydu/AiTelephone-sub000/pkg/store"
	"github.com/HYyydu/AiTelephone-sub000/pkg/vad"
)

// ServerConfig holds configuration for BridgeServer.
type ServerConfig struct {
	// Address is the listen address (e.g., ":8080").
	Address string

	// MediaPath is the WebSocket path for media streams (default: "/media").
	MediaPath string

	// TwiMLPath is the webhook path (default: "/twiml").
	TwiMLPath string

	// StreamURL is the public URL for the media endpoint, used in the TwiML
	// response. Example: "wss://your-domain.com/media".
	StreamURL string

	// ReadBufferSize for WebSocket upgrades (default: 1024).
	ReadBufferSize int

	// WriteBufferSize for WebSocket upgrades (default: 1024).
	WriteBufferSize int

	// StartTimeout bounds the wait for a stream's start event.
	StartTimeout time.Duration

	// Speech configures the per-call speech sessions.
	Speech connection.SpeechConfig

	// Bridge tunes the per-call turn state machine.
	Bridge bridge.Config
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.MediaPath == "" {
		c.MediaPath = "/media"
	}
	if c.TwiMLPath == "" {
		c.TwiMLPath = "/twiml"
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = 1024
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = 1024
	}
	if c.StartTimeout == 0 {
		c.StartTimeout = 10 * time.Second
	}
	return c
}

// BridgeServer accepts telephony media streams and runs one bridge session
// per call.
type BridgeServer struct {
	config ServerConfig

	calls store.CallStore
	sink  store.TranscriptSink

	upgrader websocket.Upgrader
	server   *http.Server

	sessions   map[string]*callSession
	sessionsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// callSession tracks one active call.
type callSession struct {
	CallSID   string
	StreamSID string
	StartTime time.Time

	telephony *connection.TelephonyConn
	session   *bridge.Session
	cancel    context.CancelFunc
}

// NewBridgeServer creates a server backed by the given call store and
// transcript sink.
func NewBridgeServer(config ServerConfig, calls store.CallStore, sink store.TranscriptSink) *BridgeServer {
	config = config.withDefaults()
	return &BridgeServer{
		config: config,
		calls:  calls,
		sink:   sink,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*callSession),
	}
}

// Start begins serving. Non-blocking.
func (s *BridgeServer) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.MediaPath, s.handleMedia)
	mux.HandleFunc(s.config.TwiMLPath, s.handleTwiML)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:    s.config.Address,
		Handler: mux,
	}

	log.Printf("[BridgeServer] starting on %s", s.config.Address)
	log.Printf("[BridgeServer] media endpoint: %s", s.config.MediaPath)
	log.Printf("[BridgeServer] webhook endpoint: %s", s.config.TwiMLPath)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[BridgeServer] server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully, ending every active call.
func (s *BridgeServer) Stop() error {
	log.Printf("[BridgeServer] stopping...")

	if s.cancel != nil {
		s.cancel()
	}

	s.sessionsMu.Lock()
	for _, cs := range s.sessions {
		cs.cancel()
	}
	s.sessions = make(map[string]*callSession)
	s.sessionsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}

	s.wg.Wait()
	log.Printf("[BridgeServer] stopped")
	return nil
}

// handleMedia upgrades a media-stream connection and runs the call.
func (s *BridgeServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	log.Printf("[BridgeServer] media stream from %s", r.RemoteAddr)

	queryCallSID := r.URL.Query().Get("callSid")

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[BridgeServer] upgrade failed: %v", err)
		return
	}

	// The adapter delivers into a staging queue until the start event names
	// the call and the bridge session exists to receive them.
	events := make(chan bridge.Event, 256)
	tc := connection.NewTelephonyConn(wsConn, queryCallSID, func(ev bridge.Event) {
		select {
		case events <- ev:
		default:
			log.Printf("[BridgeServer] staging queue full, dropping %T", ev)
		}
	})
	tc.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCall(tc, events)
	}()
}

// runCall waits for the stream start, builds the bridge, and pumps events
// into it until the call ends.
func (s *BridgeServer) runCall(tc *connection.TelephonyConn, events chan bridge.Event) {
	callSID, backlog, err := s.awaitStart(events)
	if err != nil {
		log.Printf("[BridgeServer] %v", err)
		tc.Close()
		return
	}

	rec, err := s.calls.GetCall(s.ctx, callSID)
	if err != nil {
		if errors.Is(err, store.ErrCallNotFound) {
			log.Printf("[BridgeServer] no call record for %s, rejecting stream", callSID)
		} else {
			log.Printf("[BridgeServer] call lookup for %s: %v", callSID, err)
		}
		tc.Close()
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// Speech events go through the same staging queue so nothing can race
	// the session's construction.
	speech, err := connection.NewSpeechSession(ctx, s.config.Speech, *rec, func(ev bridge.Event) {
		select {
		case events <- ev:
		default:
			log.Printf("[BridgeServer] staging queue full, dropping %T", ev)
		}
	})
	if err != nil {
		log.Printf("[BridgeServer] speech session for %s: %v", callSID, err)
		tc.Close()
		return
	}

	session := bridge.NewSession(callSID, tc, speech, vad.NewEnergyDetector(vad.DefaultConfig()), s.sink, s.config.Bridge)

	cs := &callSession{
		CallSID:   callSID,
		StreamSID: tc.StreamSID(),
		StartTime: time.Now(),
		telephony: tc,
		session:   session,
		cancel:    cancel,
	}
	s.addSession(cs)
	defer s.removeSession(callSID)

	log.Printf("[BridgeServer] bridge up for call %s (stream %s)", callSID, cs.StreamSID)

	for _, ev := range backlog {
		session.Deliver(ev)
	}

	// Pump staged telephony events into the session for the rest of the call.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				session.Deliver(ev)
			}
		}
	}()

	session.Start(ctx)
}

// awaitStart drains staged events until the start event arrives, keeping
// early media in order.
func (s *BridgeServer) awaitStart(events chan bridge.Event) (string, []bridge.Event, error) {
	timeout := time.After(s.config.StartTimeout)
	var backlog []bridge.Event

	for {
		select {
		case <-timeout:
			return "", nil, fmt.Errorf("timeout waiting for stream start")
		case <-s.ctx.Done():
			return "", nil, s.ctx.Err()
		case ev := <-events:
			backlog = append(backlog, ev)
			switch e := ev.(type) {
			case bridge.TelephonyStartEvent:
				if e.CallSID == "" {
					return "", nil, fmt.Errorf("stream start carries no call SID")
				}
				return e.CallSID, backlog, nil
			case bridge.TelephonyStopEvent, bridge.TelephonyClosedEvent:
				return "", nil, fmt.Errorf("stream ended before start event")
			}
		}
	}
}

// handleTwiML serves the stream-connect TwiML for incoming webhooks.
func (s *BridgeServer) handleTwiML(w http.ResponseWriter, r *http.Request) {
	log.Printf("[BridgeServer] webhook request from %s", r.RemoteAddr)

	var callSID string
	if err := r.ParseForm(); err == nil {
		callSID = r.FormValue("CallSid")
		log.Printf("[BridgeServer] incoming call: CallSid=%s, From=%s, To=%s",
			callSID, r.FormValue("From"), r.FormValue("To"))
	}

	twimlTemplate := `<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="{{.StreamURL}}">
            {{if .CallSID}}<Parameter name="callSid" value="{{.CallSID}}" />{{end}}
        </Stream>
    </Connect>
</Response>`

	tmpl, err := template.New("twiml").Parse(twimlTemplate)
	if err != nil {
		log.Printf("[BridgeServer] twiml template: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	// The stream URL is operator config, not request input; template.URL
	// keeps the wss:// scheme from being rewritten as unsafe.
	data := struct {
		StreamURL template.URL
		CallSID   string
	}{
		StreamURL: template.URL(s.streamURL(callSID)),
		CallSID:   callSID,
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := tmpl.Execute(w, data); err != nil {
		log.Printf("[BridgeServer] twiml render: %v", err)
	}
}

// streamURL appends the call SID to the configured media URL so the stream
// can be paired even when the start payload omits it.
func (s *BridgeServer) streamURL(callSID string) string {
	if callSID == "" {
		return s.config.StreamURL
	}
	return s.config.StreamURL + "?callSid=" + callSID
}

// handleHealth reports liveness and the active call count.
func (s *BridgeServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sessionsMu.RLock()
	sessionCount := len(s.sessions)
	s.sessionsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, sessionCount)
}

func (s *BridgeServer) addSession(cs *callSession) {
	s.sessionsMu.Lock()
	s.sessions[cs.CallSID] = cs
	s.sessionsMu.Unlock()
}

func (s *BridgeServer) removeSession(callSID string) {
	s.sessionsMu.Lock()
	if cs, ok := s.sessions[callSID]; ok {
		delete(s.sessions, callSID)
		log.Printf("[BridgeServer] call %s ended (duration: %v)", callSID, time.Since(cs.StartTime))
	}
	s.sessionsMu.Unlock()
}

// ActiveCalls returns the call SIDs currently bridged.
func (s *BridgeServer) ActiveCalls() []string {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
