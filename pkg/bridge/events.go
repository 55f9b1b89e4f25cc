// events.go defines the single event stream the session consumes. Both
// protocol adapters translate their wire traffic into these types and
// deliver them to one queue; the session processes them strictly in order,
// which is what makes the turn state race-free without locks.

package bridge

import "time"

// Event is a message delivered to the session's event loop.
type Event interface {
	isEvent()
}

// ---- telephony side ----

// TelephonyStartEvent signals stream start with the call pairing.
type TelephonyStartEvent struct {
	StreamSID string
	CallSID   string
}

// TelephonyAudioEvent carries one inbound caller frame (PCM16, telephony
// rate, mono).
type TelephonyAudioEvent struct {
	PCM []int16
	At  time.Time
}

// TelephonyStopEvent signals the telephony stream ended normally.
type TelephonyStopEvent struct{}

// TelephonyClosedEvent signals the telephony transport dropped.
type TelephonyClosedEvent struct {
	Err error
}

// ---- speech session side ----

// SessionReadyEvent signals the speech-session handshake completed; buffered
// caller audio can be flushed.
type SessionReadyEvent struct{}

// ResponseCreatedEvent signals a reply started at the session side.
type ResponseCreatedEvent struct {
	ResponseID string
}

// ResponseAudioEvent carries one chunk of synthesized reply audio (PCM16,
// session rate, mono).
type ResponseAudioEvent struct {
	PCM []int16
}

// ResponseAudioDoneEvent signals the reply's audio stream finished.
type ResponseAudioDoneEvent struct{}

// ResponseTextDeltaEvent carries an incremental piece of the reply's spoken
// text.
type ResponseTextDeltaEvent struct {
	Delta string
}

// ResponseDoneEvent signals the reply finished (completed or cancelled).
type ResponseDoneEvent struct {
	ResponseID string
	Status     string
}

// UserTranscriptEvent carries a finalized transcript of caller speech.
type UserTranscriptEvent struct {
	Text string
	At   time.Time
}

// TranscriptFailedEvent signals the session could not transcribe an
// utterance (typically upstream rate limiting).
type TranscriptFailedEvent struct {
	Code    string
	Message string
}

// SessionErrorEvent carries a session-level error.
type SessionErrorEvent struct {
	Code    string
	Message string
}

// SessionClosedEvent signals the speech-session transport dropped.
type SessionClosedEvent struct {
	Err error
}

// ---- internal ----

// deferredReplyEvent fires when the post-response echo window has elapsed
// and a pending transcript may finally get its reply.
type deferredReplyEvent struct {
	At time.Time // timestamp of the pending transcript this timer was armed for
}

func (TelephonyStartEvent) isEvent()  {}
func (TelephonyAudioEvent) isEvent()  {}
func (TelephonyStopEvent) isEvent()   {}
func (TelephonyClosedEvent) isEvent() {}
func (SessionReadyEvent) isEvent()    {}
func (ResponseCreatedEvent) isEvent() {}
func (ResponseAudioEvent) isEvent()   {}
func (ResponseAudioDoneEvent) isEvent() {}
func (ResponseTextDeltaEvent) isEvent() {}
func (ResponseDoneEvent) isEvent()    {}
func (UserTranscriptEvent) isEvent()  {}
func (TranscriptFailedEvent) isEvent() {}
func (SessionErrorEvent) isEvent()    {}
func (SessionClosedEvent) isEvent()   {}
func (deferredReplyEvent) isEvent()   {}

// TelephonyPort sends audio and control back toward the caller. The adapter
// behind it owns companding and framing.
type TelephonyPort interface {
	// SendAudio queues telephony-rate PCM for the caller.
	SendAudio(pcm []int16) error
	// ClearAudio drops any audio buffered toward the caller (interruption).
	ClearAudio() error
	Close() error
}

// SpeechPort sends audio and commands to the remote speech session.
type SpeechPort interface {
	// AppendAudio forwards session-rate PCM of caller speech.
	AppendAudio(pcm []int16) error
	// CreateResponse asks the session to produce a reply.
	CreateResponse() error
	// CancelResponse cancels the in-flight reply, best-effort.
	CancelResponse() error
	Close() error
}
