// resample.go implements sample-rate conversion between the telephony rate
// (8kHz) and the speech-session rates (16kHz/24kHz).
//
// Interpolation is 4-point Catmull-Rom cubic for quality. When downsampling,
// a windowed-sinc low-pass filter is applied first, with its cutoff
// proportional to the rate ratio, so energy above the target Nyquist limit
// does not fold back as aliasing. Upsampling skips the filter.

package audio

import "math"

const (
	// lowPassTaps is the FIR kernel length (odd, so the filter is symmetric).
	lowPassTaps = 31

	// lowPassRolloff keeps the cutoff slightly under the target Nyquist to
	// leave room for the filter's transition band.
	lowPassRolloff = 0.9
)

// Resample converts pcm from fromRate to toRate and returns a fresh buffer.
// A matching rate returns an identical copy. Invalid rates or an empty frame
// yield an empty buffer rather than an error.
func Resample(pcm []int16, fromRate, toRate int) []int16 {
	if len(pcm) == 0 || fromRate <= 0 || toRate <= 0 {
		return []int16{}
	}
	if fromRate == toRate {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out
	}

	src := make([]float64, len(pcm))
	for i, s := range pcm {
		src[i] = float64(s)
	}

	if toRate < fromRate {
		cutoff := lowPassRolloff * float64(toRate) / (2 * float64(fromRate))
		src = lowPass(src, cutoff)
	}

	outLen := len(pcm) * toRate / fromRate
	if outLen == 0 {
		outLen = 1
	}
	step := float64(fromRate) / float64(toRate)

	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		y := catmullRom(
			sampleAt(src, idx-1),
			sampleAt(src, idx),
			sampleAt(src, idx+1),
			sampleAt(src, idx+2),
			frac,
		)
		out[i] = clampSample(y)
	}
	return out
}

// lowPass convolves src with a Hamming-windowed sinc kernel. cutoff is the
// normalized frequency (cycles per source sample, 0..0.5).
func lowPass(src []float64, cutoff float64) []float64 {
	half := lowPassTaps / 2
	kernel := make([]float64, lowPassTaps)
	var sum float64
	for k := 0; k < lowPassTaps; k++ {
		n := float64(k - half)
		var v float64
		if n == 0 {
			v = 2 * cutoff
		} else {
			v = math.Sin(2*math.Pi*cutoff*n) / (math.Pi * n)
		}
		// Hamming window
		v *= 0.54 - 0.46*math.Cos(2*math.Pi*float64(k)/float64(lowPassTaps-1))
		kernel[k] = v
		sum += v
	}
	// Normalize for unity DC gain.
	for k := range kernel {
		kernel[k] /= sum
	}

	out := make([]float64, len(src))
	for i := range src {
		var acc float64
		for k := 0; k < lowPassTaps; k++ {
			acc += kernel[k] * sampleAt(src, i+k-half)
		}
		out[i] = acc
	}
	return out
}

// catmullRom evaluates the Catmull-Rom cubic through p0..p3 at t in [0,1),
// interpolating between p1 and p2.
func catmullRom(p0, p1, p2, p3, t float64) float64 {
	return 0.5 * (2*p1 +
		(-p0+p2)*t +
		(2*p0-5*p1+4*p2-p3)*t*t +
		(-p0+3*p1-3*p2+p3)*t*t*t)
}

// sampleAt reads src with edge clamping so interpolation near the frame
// boundaries stays defined.
func sampleAt(src []float64, i int) float64 {
	if i < 0 {
		i = 0
	}
	if i >= len(src) {
		i = len(src) - 1
	}
	return src[i]
}

func clampSample(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(math.Round(v))
}
