// mulaw.go implements μ-law (G.711) conversion between 8-bit companded
// telephone audio and 16-bit linear PCM. μ-law is the standard encoding on
// the telephony media stream side of the bridge (8kHz, mono).
//
// Decoding uses a pre-computed 256-entry lookup table; encoding finds the
// segment (3-bit exponent) and quantized mantissa per ITU-T G.711.

package audio

// μ-law codec constants per ITU-T G.711.
const (
	muLawBias      = 0x84
	muLawClip      = 32635
	muLawSegShift  = 4
	muLawQuantMask = 0x0f
)

// muLawDecodeTable maps each μ-law byte to its 16-bit linear PCM value.
var muLawDecodeTable = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

// muLawSegmentTable holds the segment end values for μ-law encoding.
var muLawSegmentTable = [8]int16{0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF, 0x3FFF, 0x7FFF}

// MuLawDecodeSample converts a single μ-law byte to a 16-bit PCM sample.
func MuLawDecodeSample(b byte) int16 {
	return muLawDecodeTable[b]
}

// MuLawEncodeSample converts a 16-bit PCM sample to a μ-law byte.
func MuLawEncodeSample(pcm int16) byte {
	sign := (pcm >> 8) & 0x80
	if sign != 0 {
		pcm = -pcm
	}
	if pcm > muLawClip {
		pcm = muLawClip
	}
	pcm = pcm + muLawBias

	segment := 7
	for i := 0; i < 8; i++ {
		if pcm <= muLawSegmentTable[i] {
			segment = i
			break
		}
	}

	return byte(^(sign | (int16(segment) << muLawSegShift) | ((pcm >> (segment + 3)) & muLawQuantMask)))
}

// DecodeMuLaw converts companded telephone audio to linear PCM samples.
// Returns a freshly allocated buffer.
func DecodeMuLaw(mulaw []byte) []int16 {
	pcm := make([]int16, len(mulaw))
	for i, b := range mulaw {
		pcm[i] = muLawDecodeTable[b]
	}
	return pcm
}

// EncodeMuLaw converts linear PCM samples to companded telephone audio.
// Returns a freshly allocated buffer.
func EncodeMuLaw(pcm []int16) []byte {
	mulaw := make([]byte, len(pcm))
	for i, s := range pcm {
		mulaw[i] = MuLawEncodeSample(s)
	}
	return mulaw
}
