// Package store provides the bridge's two external collaborator interfaces:
// call-record lookup by call identifier and the append-only transcript sink.
// The bridge itself only ever sees these interfaces; persistence lives
// behind them.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrCallNotFound is returned when no call record exists for an identifier.
// A miss is fatal for the media session: the connection is terminated.
var ErrCallNotFound = errors.New("call record not found")

// Speaker roles for transcript entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CallRecord is the metadata looked up when a media stream starts.
type CallRecord struct {
	CallID      string
	Destination string
	Goal        string // behavioral instruction payload for the speech session
	Voice       string
	CreatedAt   time.Time
}

// TranscriptEntry is one appended utterance.
type TranscriptEntry struct {
	CallID string
	Role   string
	Text   string
	At     time.Time
}

// CallStore looks up call metadata by call identifier.
type CallStore interface {
	// GetCall returns the record for id, or ErrCallNotFound.
	GetCall(ctx context.Context, id string) (*CallRecord, error)
}

// TranscriptSink accepts transcript entries append-only. Failures are
// logged by callers, never fatal to the audio pipeline.
type TranscriptSink interface {
	Append(ctx context.Context, e TranscriptEntry) error
}
