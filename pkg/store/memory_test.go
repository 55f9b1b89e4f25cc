package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetCall(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetCall(ctx, "CA123")
	assert.ErrorIs(t, err, ErrCallNotFound)

	s.PutCall(CallRecord{CallID: "CA123", Destination: "+15550100", Goal: "confirm appointment", Voice: "alloy"})

	rec, err := s.GetCall(ctx, "CA123")
	require.NoError(t, err)
	assert.Equal(t, "+15550100", rec.Destination)
	assert.Equal(t, "confirm appointment", rec.Goal)
}

func TestMemoryStoreTranscripts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Append(ctx, TranscriptEntry{CallID: "CA1", Role: RoleUser, Text: "hello", At: now}))
	require.NoError(t, s.Append(ctx, TranscriptEntry{CallID: "CA2", Role: RoleUser, Text: "other call", At: now}))
	require.NoError(t, s.Append(ctx, TranscriptEntry{CallID: "CA1", Role: RoleAssistant, Text: "hi there", At: now}))

	got := s.Transcripts("CA1")
	require.Len(t, got, 2)
	assert.Equal(t, RoleUser, got[0].Role)
	assert.Equal(t, "hi there", got[1].Text)
}
