// Package audio provides the signal-processing primitives for the telephony
// bridge: G.711 μ-law conversion, sample-rate conversion, loudness
// normalization and frame buffering.
//
// All conversion functions are pure: they allocate fresh output buffers and
// never retain references to their inputs. Malformed input (odd-length byte
// buffers, empty frames) degrades gracefully instead of returning errors —
// a corrupt frame must never take down a live call.
package audio

import "math"

// BytesPerSample is the width of one linear PCM sample (16-bit).
const BytesPerSample = 2

// BytesToPCM16 converts little-endian 16-bit PCM bytes to samples.
// An odd trailing byte is truncated rather than treated as an error.
func BytesToPCM16(data []byte) []int16 {
	n := len(data) / BytesPerSample
	pcm := make([]int16, n)
	for i := 0; i < n; i++ {
		pcm[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return pcm
}

// PCM16ToBytes converts samples to little-endian 16-bit PCM bytes.
func PCM16ToBytes(pcm []int16) []byte {
	data := make([]byte, len(pcm)*BytesPerSample)
	for i, s := range pcm {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// RMS returns the root-mean-square energy of a frame, normalized to [0, 1].
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

// Peak returns the largest absolute sample value in the frame.
func Peak(pcm []int16) int16 {
	var peak int16
	for _, s := range pcm {
		if s == math.MinInt16 {
			return math.MaxInt16
		}
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
