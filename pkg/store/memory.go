// memory.go implements CallStore and TranscriptSink in memory, for tests
// and for running the bridge without a database.

package store

import (
	"context"
	"sync"
)

// MemoryStore is a thread-safe in-memory CallStore and TranscriptSink.
type MemoryStore struct {
	mu          sync.RWMutex
	calls       map[string]CallRecord
	transcripts []TranscriptEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]CallRecord)}
}

// PutCall registers a call record.
func (s *MemoryStore) PutCall(rec CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[rec.CallID] = rec
}

// GetCall implements CallStore.
func (s *MemoryStore) GetCall(_ context.Context, id string) (*CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.calls[id]
	if !ok {
		return nil, ErrCallNotFound
	}
	out := rec
	return &out, nil
}

// Append implements TranscriptSink.
func (s *MemoryStore) Append(_ context.Context, e TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, e)
	return nil
}

// Transcripts returns a copy of all appended entries for a call.
func (s *MemoryStore) Transcripts(callID string) []TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TranscriptEntry
	for _, e := range s.transcripts {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out
}

var (
	_ CallStore      = (*MemoryStore)(nil)
	_ TranscriptSink = (*MemoryStore)(nil)
)
