// Package vad provides client-side voice activity detection for the bridge.
//
// The detector never makes the final call on whether the caller is speaking.
// It raises "suspected speech" from frame energy alone; the turn state
// machine must confirm the suspicion against a recognized transcript before
// acting, because energy cannot distinguish the caller's voice from the
// bridge's own audio leaking back down the line.
package vad

// Detector decides, per audio frame, whether the signal looks like speech.
// This interface allows for mock implementations in testing.
type Detector interface {
	// ProcessFrame inspects one frame of 16-bit mono PCM and reports
	// whether it looks like speech. aiSpeaking tells the detector that the
	// bridge is currently producing audio, which raises the threshold to
	// ride above the echo floor.
	ProcessFrame(pcm []int16, aiSpeaking bool) bool

	// Reset clears all adaptive state. Call when a new call starts.
	Reset()
}
