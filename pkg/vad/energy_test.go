package vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// frameWithRMS builds a 20ms 8kHz frame whose RMS is approximately the
// given normalized level.
func frameWithRMS(rms float64) []int16 {
	amplitude := int16(rms * 32768)
	pcm := make([]int16, 160)
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = amplitude
		} else {
			pcm[i] = -amplitude
		}
	}
	return pcm
}

func TestEnergyDetectorSilence(t *testing.T) {
	d := NewEnergyDetector(Config{})
	for i := 0; i < 50; i++ {
		assert.False(t, d.ProcessFrame(frameWithRMS(0.001), false))
	}
}

func TestEnergyDetectorRequiresConfirmingFrames(t *testing.T) {
	d := NewEnergyDetector(Config{})

	assert.False(t, d.ProcessFrame(frameWithRMS(0.05), false), "first frame alone must not confirm")
	assert.True(t, d.ProcessFrame(frameWithRMS(0.05), false), "second consecutive frame confirms")
}

func TestEnergyDetectorConsecutiveReset(t *testing.T) {
	d := NewEnergyDetector(Config{SmoothingWindow: 1})

	assert.False(t, d.ProcessFrame(frameWithRMS(0.05), false))
	assert.False(t, d.ProcessFrame(frameWithRMS(0.001), false), "silence resets the confirm count")
	assert.False(t, d.ProcessFrame(frameWithRMS(0.05), false))
}

func TestEnergyDetectorEchoBaselineRaisesThreshold(t *testing.T) {
	d := NewEnergyDetector(Config{})

	// Teach the detector a noisy ambient level while idle.
	for i := 0; i < 20; i++ {
		d.ProcessFrame(frameWithRMS(0.03), false)
	}
	assert.InDelta(t, 0.03, d.Baseline(), 0.005)

	// Energy just above idle ambient is treated as echo while speaking.
	for i := 0; i < 10; i++ {
		assert.False(t, d.ProcessFrame(frameWithRMS(0.04), true),
			"frame %d: below baseline*2 must not read as speech during playback", i)
	}

	// The same level while idle is plainly speech.
	d2 := NewEnergyDetector(Config{})
	d2.ProcessFrame(frameWithRMS(0.04), false)
	assert.True(t, d2.ProcessFrame(frameWithRMS(0.04), false))
}

func TestEnergyDetectorUnmistakableSpeechSingleFrame(t *testing.T) {
	d := NewEnergyDetector(Config{})

	// Well above the unmistakable threshold: one frame is enough even
	// during echo suppression.
	assert.True(t, d.ProcessFrame(frameWithRMS(0.3), true))
}

func TestEnergyDetectorMinEchoFloor(t *testing.T) {
	d := NewEnergyDetector(Config{})

	// Dead-silent line: baseline is ~0, so the floor applies.
	for i := 0; i < 20; i++ {
		d.ProcessFrame(frameWithRMS(0.0005), false)
	}
	assert.False(t, d.ProcessFrame(frameWithRMS(0.015), true),
		"level below the echo floor must not trigger during playback")
	d.Reset()
	assert.False(t, d.ProcessFrame(frameWithRMS(0.015), false))
	assert.True(t, d.ProcessFrame(frameWithRMS(0.015), false),
		"same level is speech while idle")
}

func TestEnergyDetectorReset(t *testing.T) {
	d := NewEnergyDetector(Config{})
	for i := 0; i < 20; i++ {
		d.ProcessFrame(frameWithRMS(0.05), false)
	}
	d.Reset()
	assert.Zero(t, d.Baseline())
	assert.False(t, d.ProcessFrame(frameWithRMS(0.05), false))
}
