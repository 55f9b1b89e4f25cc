// energy.go implements the adaptive RMS-energy detector.
//
// A short sliding window smooths per-frame energy; a longer median window,
// fed only while the bridge is idle, tracks the ambient level of the line
// (the echo baseline). While the bridge is speaking, the detection threshold
// is raised to a multiple of that baseline so the bridge's own echoed audio
// does not read as caller speech.

package vad

import (
	"sort"

	"github.com/HYyydu/AiTelephone-sub000/pkg/audio"
)

// Config holds tuning parameters for the energy detector.
type Config struct {
	// BaseThreshold is the fixed RMS threshold used while idle.
	BaseThreshold float64

	// EchoMultiplier scales the idle baseline into the threshold used while
	// the bridge is speaking.
	EchoMultiplier float64

	// MinEchoFloor is the lowest threshold used while the bridge is
	// speaking, for lines with a near-silent baseline.
	MinEchoFloor float64

	// UnmistakableThreshold is the level above which a single frame is
	// enough evidence even during echo suppression.
	UnmistakableThreshold float64

	// ConfirmFrames is the number of consecutive over-threshold frames
	// required before speech is reported.
	ConfirmFrames int

	// SmoothingWindow is the sliding-average length in frames.
	SmoothingWindow int

	// BaselineWindow is the idle-only median window length in frames.
	BaselineWindow int
}

// DefaultConfig returns detector settings tuned for 20ms telephony frames.
func DefaultConfig() Config {
	return Config{
		BaseThreshold:         0.012,
		EchoMultiplier:        2.0,
		MinEchoFloor:          0.025,
		UnmistakableThreshold: 0.09,
		ConfirmFrames:         2,
		SmoothingWindow:       5,
		BaselineWindow:        20,
	}
}

// EnergyDetector is a pure-Go speech detector based on RMS energy with an
// idle-tracked echo baseline. Not safe for concurrent use; the bridge feeds
// it from its single event loop.
type EnergyDetector struct {
	cfg         Config
	recent      []float64
	baselineWin []float64
	consecutive int
}

// NewEnergyDetector creates a detector with the given config. Zero-valued
// fields fall back to defaults.
func NewEnergyDetector(cfg Config) *EnergyDetector {
	def := DefaultConfig()
	if cfg.BaseThreshold <= 0 {
		cfg.BaseThreshold = def.BaseThreshold
	}
	if cfg.EchoMultiplier <= 0 {
		cfg.EchoMultiplier = def.EchoMultiplier
	}
	if cfg.MinEchoFloor <= 0 {
		cfg.MinEchoFloor = def.MinEchoFloor
	}
	if cfg.UnmistakableThreshold <= 0 {
		cfg.UnmistakableThreshold = def.UnmistakableThreshold
	}
	if cfg.ConfirmFrames <= 0 {
		cfg.ConfirmFrames = def.ConfirmFrames
	}
	if cfg.SmoothingWindow <= 0 {
		cfg.SmoothingWindow = def.SmoothingWindow
	}
	if cfg.BaselineWindow <= 0 {
		cfg.BaselineWindow = def.BaselineWindow
	}
	return &EnergyDetector{cfg: cfg}
}

// ProcessFrame implements Detector.
func (d *EnergyDetector) ProcessFrame(pcm []int16, aiSpeaking bool) bool {
	rms := audio.RMS(pcm)

	d.recent = append(d.recent, rms)
	if len(d.recent) > d.cfg.SmoothingWindow {
		d.recent = d.recent[1:]
	}
	var sum float64
	for _, e := range d.recent {
		sum += e
	}
	smoothed := sum / float64(len(d.recent))

	// The baseline tracks ambient energy only while the bridge is silent;
	// feeding it during playback would teach it to ignore the caller.
	if !aiSpeaking {
		d.baselineWin = append(d.baselineWin, rms)
		if len(d.baselineWin) > d.cfg.BaselineWindow {
			d.baselineWin = d.baselineWin[1:]
		}
	}

	threshold := d.cfg.BaseThreshold
	needed := d.cfg.ConfirmFrames
	if aiSpeaking {
		threshold = d.Baseline() * d.cfg.EchoMultiplier
		if threshold < d.cfg.MinEchoFloor {
			threshold = d.cfg.MinEchoFloor
		}
		// Unmistakably loud speech confirms on a single frame so genuine
		// interruptions are not delayed by echo suppression.
		if smoothed >= d.cfg.UnmistakableThreshold {
			needed = 1
		}
	}

	if smoothed >= threshold {
		d.consecutive++
	} else {
		d.consecutive = 0
	}
	return d.consecutive >= needed
}

// Baseline returns the median idle-period energy, or zero when no idle
// frames have been observed yet.
func (d *EnergyDetector) Baseline() float64 {
	if len(d.baselineWin) == 0 {
		return 0
	}
	sorted := make([]float64, len(d.baselineWin))
	copy(sorted, d.baselineWin)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Reset implements Detector.
func (d *EnergyDetector) Reset() {
	d.recent = nil
	d.baselineWin = nil
	d.consecutive = 0
}

var _ Detector = (*EnergyDetector)(nil)
