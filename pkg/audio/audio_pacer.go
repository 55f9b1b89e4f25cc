// audio_pacer.go buffers synthesized speech and slices it into fixed 20ms
// frames for the telephony side, which expects media on a real-time cadence.
//
// A short accumulation threshold avoids stutter at the start of a reply; on
// interruption the remaining buffer is cleared, optionally with a linear
// fade-out so the voice does not cut off with a click.

package audio

import "sync"

// FrameDurationMs is the telephony media frame duration.
const FrameDurationMs = 20

// Pacer buffers mono 16-bit PCM and emits fixed-duration frames.
type Pacer struct {
	mu            sync.Mutex
	buffer        []int16
	accumulating  bool
	sampleRate    int
	frameSamples  int
	minBufFrames  int
}

// NewPacer creates a pacer for mono audio at sampleRate. minBufferMs is the
// amount of audio accumulated before playback starts (0 disables).
func NewPacer(sampleRate, minBufferMs int) *Pacer {
	frameSamples := sampleRate * FrameDurationMs / 1000
	minFrames := 0
	if minBufferMs > 0 {
		minFrames = minBufferMs / FrameDurationMs
	}
	return &Pacer{
		buffer:       make([]int16, 0, frameSamples*64),
		accumulating: minFrames > 0,
		sampleRate:   sampleRate,
		frameSamples: frameSamples,
		minBufFrames: minFrames,
	}
}

// Write appends PCM samples to the outbound buffer.
func (p *Pacer) Write(pcm []int16) {
	if len(pcm) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer = append(p.buffer, pcm...)
}

// ReadFrame pops one 20ms frame. ok is false when no audio is ready, either
// because the buffer is empty or still accumulating; the caller sends
// nothing in that case rather than padding the line with silence.
func (p *Pacer) ReadFrame() (frame []int16, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accumulating {
		if len(p.buffer) < p.frameSamples*p.minBufFrames {
			return nil, false
		}
		p.accumulating = false
	}

	if len(p.buffer) == 0 {
		// Drained; accumulate again before the next burst starts playing.
		p.accumulating = p.minBufFrames > 0
		return nil, false
	}

	frame = make([]int16, p.frameSamples)
	n := copy(frame, p.buffer)
	p.buffer = p.buffer[n:]
	return frame, true
}

// Clear drops all buffered audio. fadeOutMs > 0 keeps that much of the head
// of the buffer with a linear fade applied, so an interrupted reply trails
// off instead of clicking.
func (p *Pacer) Clear(fadeOutMs int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fadeOutMs > 0 && len(p.buffer) > 0 {
		keep := p.sampleRate * fadeOutMs / 1000
		if keep > len(p.buffer) {
			keep = len(p.buffer)
		}
		for i := 0; i < keep; i++ {
			factor := float64(keep-i) / float64(keep)
			p.buffer[i] = int16(float64(p.buffer[i]) * factor)
		}
		p.buffer = p.buffer[:keep]
	} else {
		p.buffer = p.buffer[:0]
	}
	p.accumulating = p.minBufFrames > 0
}

// Available returns the number of buffered samples.
func (p *Pacer) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// FrameSamples returns the samples per 20ms frame.
func (p *Pacer) FrameSamples() int {
	return p.frameSamples
}
