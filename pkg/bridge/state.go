// state.go defines the turn-taking state for one call. The source of truth
// is a single enum plus a small set of timing fields, all owned by the
// session's event loop; there are no independent boolean flags to fall out
// of sync with each other.

package bridge

import "time"

// ResponseState tracks whose turn it is.
type ResponseState int

const (
	// StateIdle: nobody is speaking; the bridge may request a reply.
	StateIdle ResponseState = iota
	// StateResponding: a reply is in flight and its audio is being relayed.
	StateResponding
	// StateInterrupted: the caller explicitly cut the reply off; outbound
	// audio is suppressed until the cancellation is acknowledged.
	StateInterrupted
	// StateClosing: teardown has begun; no further turns are taken.
	StateClosing
)

// String returns the state name for logs.
func (s ResponseState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateResponding:
		return "Responding"
	case StateInterrupted:
		return "Interrupted"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// PendingTranscript is a validated user utterance waiting for its reply,
// deferred because a reply was already in flight when it arrived.
type PendingTranscript struct {
	Text string
	At   time.Time
}
