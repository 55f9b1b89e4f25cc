package vad

import "sync"

// MockDetector is a scriptable Detector for testing the bridge without
// synthesizing audio at particular energy levels.
type MockDetector struct {
	// ProcessFunc is called when ProcessFrame is invoked.
	// If nil, ProcessFrame reports no speech.
	ProcessFunc func(pcm []int16, aiSpeaking bool) bool

	// Calls counts invocations of ProcessFrame.
	Calls int

	// ResetCalled tracks whether Reset was called.
	ResetCalled bool

	mu sync.Mutex
}

// NewMockDetectorWithSequence returns a MockDetector that replays the given
// results in order, cycling when exhausted.
func NewMockDetectorWithSequence(results []bool) *MockDetector {
	idx := 0
	return &MockDetector{
		ProcessFunc: func(pcm []int16, aiSpeaking bool) bool {
			if len(results) == 0 {
				return false
			}
			r := results[idx]
			idx = (idx + 1) % len(results)
			return r
		},
	}
}

// ProcessFrame implements Detector.
func (m *MockDetector) ProcessFrame(pcm []int16, aiSpeaking bool) bool {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()

	if m.ProcessFunc != nil {
		return m.ProcessFunc(pcm, aiSpeaking)
	}
	return false
}

// Reset implements Detector.
func (m *MockDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCalled = true
}

var _ Detector = (*MockDetector)(nil)
