// normalize.go applies loudness normalization to outbound frames so speech
// synthesized at the session side lands in a healthy level range on the
// phone line without clipping.

package audio

import "math"

const (
	// normalizeTargetPeak is ~85% of full scale, leaving headroom against
	// clipping after μ-law quantization.
	normalizeTargetPeak = 27853

	// normalizeMaxGain caps amplification so near-silent frames are not
	// boosted into audible noise.
	normalizeMaxGain = 2.0

	// healthyPeakLow / healthyPeakHigh bound the band in which a frame is
	// passed through untouched.
	healthyPeakLow  = 8000
	healthyPeakHigh = 29500

	// nearSilentRMS is the normalized energy under which a frame is treated
	// as silence and never amplified.
	nearSilentRMS = 0.004
)

// Normalize returns a fresh buffer with frame gain adjusted toward the
// target peak. Frames already in the healthy band, and near-silent frames,
// are returned as unmodified copies.
func Normalize(pcm []int16) []int16 {
	out := make([]int16, len(pcm))
	copy(out, pcm)
	if len(pcm) == 0 {
		return out
	}

	peak := Peak(pcm)
	if peak == 0 {
		return out
	}
	if peak >= healthyPeakLow && peak <= healthyPeakHigh {
		return out
	}
	if RMS(pcm) < nearSilentRMS {
		return out
	}

	gain := float64(normalizeTargetPeak) / float64(peak)
	if gain > normalizeMaxGain {
		gain = normalizeMaxGain
	}

	for i, s := range pcm {
		v := float64(s) * gain
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}
