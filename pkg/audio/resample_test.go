package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sineWave generates a mono tone at the given frequency and amplitude.
func sineWave(freq float64, sampleRate, n int, amplitude float64) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return pcm
}

// estimateFrequency counts zero crossings to approximate the dominant tone.
func estimateFrequency(pcm []int16, sampleRate int) float64 {
	crossings := 0
	for i := 1; i < len(pcm); i++ {
		if (pcm[i-1] < 0 && pcm[i] >= 0) || (pcm[i-1] >= 0 && pcm[i] < 0) {
			crossings++
		}
	}
	return float64(crossings) / 2 * float64(sampleRate) / float64(len(pcm))
}

func TestResampleSameRateIsIdentity(t *testing.T) {
	pcm := sineWave(440, 8000, 800, 10000)
	out := Resample(pcm, 8000, 8000)

	require.Equal(t, len(pcm), len(out))
	assert.Equal(t, pcm, out)

	// Must be a fresh buffer, not an alias.
	out[0] = out[0] + 1
	assert.NotEqual(t, pcm[0], out[0])
}

func TestResampleUpsamplePreservesTone(t *testing.T) {
	pcm := sineWave(440, 8000, 8000, 12000)
	out := Resample(pcm, 8000, 24000)

	require.Equal(t, len(pcm)*3, len(out))
	got := estimateFrequency(out, 24000)
	assert.InDelta(t, 440, got, 10, "upsampled tone frequency drifted")
}

func TestResampleDownsamplePreservesLowTone(t *testing.T) {
	pcm := sineWave(400, 24000, 24000, 12000)
	out := Resample(pcm, 24000, 8000)

	require.Equal(t, len(pcm)/3, len(out))
	got := estimateFrequency(out, 8000)
	assert.InDelta(t, 400, got, 10, "downsampled tone frequency drifted")
}

func TestResampleDownsampleRejectsAliasing(t *testing.T) {
	// A 10kHz tone is above the 4kHz Nyquist limit of the 8kHz target; the
	// anti-aliasing filter must remove it rather than mirror it downward.
	pcm := sineWave(10000, 24000, 24000, 12000)
	out := Resample(pcm, 24000, 8000)

	inRMS := RMS(pcm)
	outRMS := RMS(out)
	assert.Less(t, outRMS, inRMS*0.1, "energy above Nyquist leaked through: in=%f out=%f", inRMS, outRMS)
}

func TestResampleDegenerateInput(t *testing.T) {
	assert.Empty(t, Resample(nil, 8000, 24000))
	assert.Empty(t, Resample([]int16{1, 2, 3}, 0, 24000))
	assert.Empty(t, Resample([]int16{1, 2, 3}, 8000, -1))
}

func TestNormalize(t *testing.T) {
	t.Run("healthy frame untouched", func(t *testing.T) {
		pcm := sineWave(440, 8000, 160, 20000)
		out := Normalize(pcm)
		assert.Equal(t, pcm, out)
	})

	t.Run("quiet speech boosted toward target", func(t *testing.T) {
		pcm := sineWave(440, 8000, 1600, 4000)
		out := Normalize(pcm)
		peak := Peak(out)
		// Gain is capped at 2x, so the quiet frame doubles.
		assert.InDelta(t, 8000, int(peak), 200)
	})

	t.Run("hot frame attenuated", func(t *testing.T) {
		pcm := sineWave(440, 8000, 1600, 32500)
		out := Normalize(pcm)
		peak := Peak(out)
		assert.LessOrEqual(t, int(peak), 28500)
		assert.Greater(t, int(peak), 26000)
	})

	t.Run("near-silent frame not amplified", func(t *testing.T) {
		pcm := sineWave(440, 8000, 1600, 60)
		out := Normalize(pcm)
		assert.Equal(t, pcm, out)
	})

	t.Run("empty frame", func(t *testing.T) {
		assert.Empty(t, Normalize(nil))
	})
}
