// session.go implements the per-call turn state machine. A Session owns one
// telephony stream and one speech session, consumes both adapters' events on
// a single goroutine, and decides when caller speech becomes a reply request,
// when an in-flight reply is interrupted, and what never reaches the remote
// session at all (echo, noise, duplicates).

package bridge

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/HYyydu/AiTelephone-sub000/pkg/audio"
	"github.com/HYyydu/AiTelephone-sub000/pkg/store"
	"github.com/HYyydu/AiTelephone-sub000/pkg/transcript"
	"github.com/HYyydu/AiTelephone-sub000/pkg/vad"
)

// Config tunes one Session. Zero values fall back to defaults.
type Config struct {
	// TelephonyRate is the caller-side sample rate in Hz.
	TelephonyRate int
	// SessionRate is the speech-session sample rate in Hz.
	SessionRate int

	// PreResponseEchoWindow guards the start of a response: transcripts
	// arriving within it that resemble the in-flight reply are self-echo.
	PreResponseEchoWindow time.Duration
	// PostResponseEchoWindow delays replies to transcripts that arrive while
	// a response is still likely audible at the caller's end.
	PostResponseEchoWindow time.Duration
	// SpeechConfirmWindow bounds how long a deferred transcript stays
	// eligible for a reply.
	SpeechConfirmWindow time.Duration

	// EchoSimilarity is the threshold above which a transcript is treated as
	// an echo of the last reply.
	EchoSimilarity float64

	// QueueSize is the event queue depth.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.TelephonyRate == 0 {
		c.TelephonyRate = 8000
	}
	if c.SessionRate == 0 {
		c.SessionRate = 24000
	}
	if c.PreResponseEchoWindow == 0 {
		c.PreResponseEchoWindow = 1200 * time.Millisecond
	}
	if c.PostResponseEchoWindow == 0 {
		c.PostResponseEchoWindow = 2500 * time.Millisecond
	}
	if c.SpeechConfirmWindow == 0 {
		c.SpeechConfirmWindow = 2 * time.Second
	}
	if c.EchoSimilarity == 0 {
		c.EchoSimilarity = 0.6
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
	return c
}

// Session is the turn state machine for one call.
type Session struct {
	cfg    Config
	callID string

	telephony TelephonyPort
	speech    SpeechPort

	detector  vad.Detector
	validator *transcript.Validator
	sink      store.TranscriptSink

	events chan Event
	done   chan struct{}

	// Everything below is owned by the run goroutine.
	state         ResponseState
	sessionReady  bool
	preroll       *audio.RingBuffer
	suppressAudio bool

	currentResponseID string
	currentUserText   string
	responseStartAt   time.Time
	replyText         strings.Builder
	dupIntroCandidate bool

	awaitInterruptReply bool
	pending             *PendingTranscript
	pendingTimer        *time.Timer

	lastResponseEnd time.Time
	latestSpeechAt  time.Time
	responded       map[string]struct{}
	introSent       bool
	closing         bool

	now func() time.Time
}

// NewSession wires a Session. Start must be called before Deliver.
func NewSession(callID string, tel TelephonyPort, speech SpeechPort, det vad.Detector, sink store.TranscriptSink, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:       cfg,
		callID:    callID,
		telephony: tel,
		speech:    speech,
		detector:  det,
		validator: transcript.NewValidator(),
		sink:      sink,
		events:    make(chan Event, cfg.QueueSize),
		done:      make(chan struct{}),
		state:     StateIdle,
		preroll:   audio.NewRingBuffer(cfg.TelephonyRate, 3000),
		responded: make(map[string]struct{}),
		now:       time.Now,
	}
}

// Deliver enqueues an event for the session loop. Safe from any goroutine.
// Events delivered after the session stopped are dropped.
func (s *Session) Deliver(ev Event) {
	select {
	case <-s.done:
	case s.events <- ev:
	default:
		log.Printf("[Session %s] event queue full, dropping %T", s.callID, ev)
	}
}

// Start runs the event loop until the context is cancelled or either side
// closes. It blocks; run it on its own goroutine.
func (s *Session) Start(ctx context.Context) {
	defer s.teardown()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			if s.handle(ev) {
				return
			}
		}
	}
}

// handle dispatches one event. Returning true ends the loop.
func (s *Session) handle(ev Event) bool {
	switch e := ev.(type) {
	case TelephonyStartEvent:
		log.Printf("[Session %s] stream %s started", s.callID, e.StreamSID)
		s.detector.Reset()
	case TelephonyAudioEvent:
		s.onCallerAudio(e)
	case TelephonyStopEvent:
		log.Printf("[Session %s] caller hung up", s.callID)
		return true
	case TelephonyClosedEvent:
		if e.Err != nil {
			log.Printf("[Session %s] telephony transport closed: %v", s.callID, e.Err)
		}
		return true
	case SessionReadyEvent:
		s.onSessionReady()
	case ResponseCreatedEvent:
		s.onResponseCreated(e)
	case ResponseAudioEvent:
		s.onResponseAudio(e)
	case ResponseAudioDoneEvent:
		// Audio finished streaming; the turn ends on ResponseDone.
	case ResponseTextDeltaEvent:
		s.onReplyTextDelta(e)
	case ResponseDoneEvent:
		s.onResponseDone(e)
	case UserTranscriptEvent:
		s.onUserTranscript(e)
	case TranscriptFailedEvent:
		s.onTranscriptFailed(e)
	case SessionErrorEvent:
		s.onSessionError(e)
	case SessionClosedEvent:
		if e.Err != nil {
			log.Printf("[Session %s] speech session closed: %v", s.callID, e.Err)
		}
		return true
	case deferredReplyEvent:
		s.onDeferredReply(e)
	}
	return false
}

func (s *Session) onSessionReady() {
	s.sessionReady = true
	if buffered := s.preroll.ReadAll(); len(buffered) > 0 {
		log.Printf("[Session %s] session ready, flushing %d buffered samples", s.callID, len(buffered))
		s.appendCallerAudio(buffered)
	}
	if !s.introSent && s.state == StateIdle {
		// The assistant opens the call.
		s.requestReply("")
	}
}

func (s *Session) onCallerAudio(e TelephonyAudioEvent) {
	if !s.sessionReady {
		s.preroll.Write(e.PCM)
		return
	}
	aiSpeaking := s.state == StateResponding && !s.suppressAudio
	if s.detector.ProcessFrame(e.PCM, aiSpeaking) {
		// Energy alone is only a suspicion; a transcript has to confirm it.
		// Raw VAD never cancels a reply, but fresh suspicion holds a
		// deferred reply back so we do not talk over the caller.
		s.latestSpeechAt = e.At
	}
	s.appendCallerAudio(e.PCM)
}

func (s *Session) appendCallerAudio(pcm []int16) {
	up := audio.Resample(pcm, s.cfg.TelephonyRate, s.cfg.SessionRate)
	if err := s.speech.AppendAudio(up); err != nil {
		log.Printf("[Session %s] append audio: %v", s.callID, err)
	}
}

func (s *Session) onResponseCreated(e ResponseCreatedEvent) {
	s.currentResponseID = e.ResponseID
	s.replyText.Reset()
	if s.state == StateInterrupted {
		// A cancel raced the create; keep blocking audio until the done ack.
		return
	}
	s.state = StateResponding
	s.responseStartAt = s.now()
	// An unprompted response after the opener may be the session restarting
	// its introduction; the text deltas decide.
	s.dupIntroCandidate = s.introSent && s.currentUserText == ""
	s.introSent = true
}

// onReplyTextDelta accumulates the reply and watches unprompted responses
// for a repeated introduction. The repeat only becomes recognizable once
// enough of its text has streamed.
func (s *Session) onReplyTextDelta(e ResponseTextDeltaEvent) {
	s.replyText.WriteString(e.Delta)
	if !s.dupIntroCandidate || s.suppressAudio || s.state != StateResponding {
		return
	}
	if s.validator.IsDuplicateReply(s.replyText.String()) {
		log.Printf("[Session %s] duplicate introduction, suppressing audio", s.callID)
		s.dupIntroCandidate = false
		s.suppressAudio = true
		if err := s.speech.CancelResponse(); err != nil {
			log.Printf("[Session %s] cancel duplicate introduction: %v", s.callID, err)
		}
		if err := s.telephony.ClearAudio(); err != nil {
			log.Printf("[Session %s] clear duplicate audio: %v", s.callID, err)
		}
	}
}

func (s *Session) onResponseAudio(e ResponseAudioEvent) {
	if s.state != StateResponding || s.suppressAudio {
		return
	}
	down := audio.Resample(e.PCM, s.cfg.SessionRate, s.cfg.TelephonyRate)
	down = audio.Normalize(down)
	if err := s.telephony.SendAudio(down); err != nil {
		log.Printf("[Session %s] send audio: %v", s.callID, err)
	}
}

func (s *Session) onResponseDone(e ResponseDoneEvent) {
	if e.ResponseID != "" && s.currentResponseID != "" && e.ResponseID != s.currentResponseID {
		log.Printf("[Session %s] done for stale response %s", s.callID, e.ResponseID)
		return
	}
	reply := s.replyText.String()
	wasInterrupted := s.state == StateInterrupted
	suppressed := s.suppressAudio
	interruptText := s.currentUserText

	s.state = StateIdle
	s.suppressAudio = false
	s.dupIntroCandidate = false
	s.currentResponseID = ""
	s.lastResponseEnd = s.now()

	if reply != "" && !suppressed {
		// An interrupted reply pairs with nothing; the interrupting
		// utterance belongs to the next turn.
		userText := s.currentUserText
		if wasInterrupted {
			userText = ""
		}
		if s.validator.IsDuplicateReply(reply) {
			log.Printf("[Session %s] near-duplicate reply spoken: %q", s.callID, reply)
		}
		pair := s.validator.ResolveReply(userText, reply)
		if pair.Flagged {
			log.Printf("[Session %s] transcript cross-check: %s (user=%q reply=%q)", s.callID, pair.Reason, pair.UserText, pair.ReplyText)
		}
		s.appendTranscript(store.RoleAssistant, reply)
		if transcript.IsClosingPhrase(reply) && !s.closing {
			s.closing = true
			log.Printf("[Session %s] closing phrase spoken, call winding down", s.callID)
		}
	}
	s.currentUserText = ""

	if wasInterrupted && s.awaitInterruptReply {
		s.awaitInterruptReply = false
		// The caller already spoke over us; answer them without waiting out
		// the echo windows.
		s.requestReply(interruptText)
		return
	}
	if s.pending != nil {
		s.armDeferredReply()
	}
}

func (s *Session) onUserTranscript(e UserTranscriptEvent) {
	text := strings.TrimSpace(e.Text)
	if text == "" {
		return
	}
	key := respondedKey(e.At, text)
	if _, dup := s.responded[key]; dup {
		return
	}

	switch s.state {
	case StateResponding:
		s.onTranscriptDuringResponse(e, text, key)
	case StateInterrupted:
		// The cancel is in flight; remember what they said for after the ack.
		s.responded[key] = struct{}{}
		s.appendTranscript(store.RoleUser, text)
		s.currentUserText = text
		s.awaitInterruptReply = true
	case StateIdle:
		s.onTranscriptIdle(e, text, key)
	}
}

func (s *Session) onTranscriptDuringResponse(e UserTranscriptEvent, text, key string) {
	if transcript.IsInterruptionPhrase(text) {
		s.responded[key] = struct{}{}
		s.appendTranscript(store.RoleUser, text)
		s.currentUserText = text
		s.interrupt("interruption phrase")
		s.awaitInterruptReply = true
		return
	}
	// Machines usually answer while we are speaking our opener. Record the
	// prompt, but never queue a reply to it.
	if transcript.IsVoicemailPrompt(text) {
		log.Printf("[Session %s] voicemail prompt detected: %q", s.callID, text)
		s.responded[key] = struct{}{}
		s.appendTranscript(store.RoleUser, text)
		return
	}
	// Early in a response the line often carries our own opening back.
	// Greetings are exempt: a human answering the phone is time-critical.
	if s.now().Sub(s.responseStartAt) < s.cfg.PreResponseEchoWindow && !transcript.IsGreetingPhrase(text) {
		if transcript.Similarity(text, s.replyText.String()) > s.cfg.EchoSimilarity {
			log.Printf("[Session %s] discarding echo of in-flight reply: %q", s.callID, text)
			return
		}
	}
	if s.validator.RejectDuringResponse(text) {
		log.Printf("[Session %s] ignoring short transcript during response: %q", s.callID, text)
		return
	}
	// Substantial speech while we talk never cuts the reply off; it waits
	// its turn. Newer speech supersedes whatever was already queued.
	s.responded[key] = struct{}{}
	s.appendTranscript(store.RoleUser, text)
	s.pending = &PendingTranscript{Text: text, At: e.At}
}

func (s *Session) onTranscriptIdle(e UserTranscriptEvent, text, key string) {
	if transcript.IsVoicemailPrompt(text) {
		// A machine answered. Record it, but a system prompt gets no reply.
		log.Printf("[Session %s] voicemail prompt detected: %q", s.callID, text)
		s.responded[key] = struct{}{}
		s.appendTranscript(store.RoleUser, text)
		return
	}
	sinceResponse := s.now().Sub(s.lastResponseEnd)
	bypass := transcript.IsGreetingPhrase(text) || transcript.IsInterruptionPhrase(text)

	if !s.lastResponseEnd.IsZero() && !bypass {
		if sinceResponse < s.cfg.PostResponseEchoWindow {
			if transcript.Similarity(text, s.validator.LastReply()) > s.cfg.EchoSimilarity || transcript.IsPolitePhrase(text) {
				log.Printf("[Session %s] discarding post-response echo %q", s.callID, text)
				return
			}
			// Real speech, but the line may still carry our tail. Defer.
			s.responded[key] = struct{}{}
			s.appendTranscript(store.RoleUser, text)
			s.pending = &PendingTranscript{Text: text, At: e.At}
			s.armDeferredReply()
			return
		}
	}

	s.responded[key] = struct{}{}
	s.appendTranscript(store.RoleUser, text)
	s.requestReply(text)
}

func (s *Session) armDeferredReply() {
	if s.pending == nil {
		return
	}
	remaining := s.cfg.PostResponseEchoWindow - s.now().Sub(s.lastResponseEnd)
	if remaining < 0 {
		remaining = 0
	}
	at := s.pending.At
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
	}
	s.pendingTimer = time.AfterFunc(remaining, func() {
		s.Deliver(deferredReplyEvent{At: at})
	})
}

func (s *Session) onDeferredReply(e deferredReplyEvent) {
	if s.pending == nil || !s.pending.At.Equal(e.At) {
		return // superseded by newer speech
	}
	if s.state != StateIdle {
		s.pending = nil
		return // a response started meanwhile and owns the turn now
	}
	// The detector heard the caller again after the queued utterance. Hold
	// the reply for the confirmation window: a transcript of that speech
	// supersedes the queued one, and silence means it was echo or noise.
	if s.latestSpeechAt.After(s.pending.At) {
		if wait := s.cfg.SpeechConfirmWindow - s.now().Sub(s.latestSpeechAt); wait > 0 {
			at := s.pending.At
			s.pendingTimer = time.AfterFunc(wait, func() {
				s.Deliver(deferredReplyEvent{At: at})
			})
			return
		}
	}
	p := s.pending
	s.pending = nil
	// The deferral clock runs from the end of the last response: speech
	// queued under a long reply stays valid, but a transcript left pending
	// long after the line cleared is stale.
	if s.now().Sub(s.lastResponseEnd) > s.cfg.PostResponseEchoWindow+s.cfg.SpeechConfirmWindow {
		log.Printf("[Session %s] pending transcript expired: %q", s.callID, p.Text)
		return
	}
	s.requestReply(p.Text)
}

func (s *Session) requestReply(userText string) {
	s.currentUserText = userText
	s.state = StateResponding
	if err := s.speech.CreateResponse(); err != nil {
		log.Printf("[Session %s] create response: %v", s.callID, err)
		s.state = StateIdle
	}
}

// interrupt cancels the in-flight reply and flushes caller-side audio. The
// state moves to Interrupted until the session acks with response.done.
func (s *Session) interrupt(reason string) {
	if s.state != StateResponding {
		return
	}
	log.Printf("[Session %s] interrupting response: %s", s.callID, reason)
	s.state = StateInterrupted
	if err := s.speech.CancelResponse(); err != nil {
		log.Printf("[Session %s] cancel response: %v", s.callID, err)
	}
	if err := s.telephony.ClearAudio(); err != nil {
		log.Printf("[Session %s] clear audio: %v", s.callID, err)
	}
}

func (s *Session) onTranscriptFailed(e TranscriptFailedEvent) {
	log.Printf("[Session %s] transcription failed (%s): %s", s.callID, e.Code, e.Message)
	if s.state == StateResponding && s.currentUserText == "" && s.introSent {
		// Replying to speech we could not transcribe; the reply would be a
		// guess, so cut it.
		s.interrupt("transcription failed for triggering speech")
		s.awaitInterruptReply = false
	}
}

func (s *Session) onSessionError(e SessionErrorEvent) {
	switch e.Code {
	case "response_cancel_not_active", "no_active_response":
		// Cancel raced the natural end of the response. Harmless.
		return
	}
	log.Printf("[Session %s] session error (%s): %s", s.callID, e.Code, e.Message)
}

func (s *Session) appendTranscript(role, text string) {
	if s.sink == nil {
		return
	}
	entry := store.TranscriptEntry{CallID: s.callID, Role: role, Text: text, At: s.now()}
	if err := s.sink.Append(context.Background(), entry); err != nil {
		log.Printf("[Session %s] transcript append: %v", s.callID, err)
	}
}

func (s *Session) teardown() {
	s.state = StateClosing
	close(s.done)
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
	}
	if err := s.speech.Close(); err != nil {
		log.Printf("[Session %s] close speech session: %v", s.callID, err)
	}
	if err := s.telephony.Close(); err != nil {
		log.Printf("[Session %s] close telephony: %v", s.callID, err)
	}
	log.Printf("[Session %s] closed", s.callID)
}

func respondedKey(at time.Time, text string) string {
	return at.UTC().Format(time.RFC3339Nano) + "|" + strings.ToLower(strings.TrimSpace(text))
}
