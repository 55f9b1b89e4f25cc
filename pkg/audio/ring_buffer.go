// ring_buffer.go implements a fixed-capacity circular buffer of PCM samples.
//
// The bridge uses it to hold inbound caller audio while the speech-session
// handshake is still in flight: frames arrive on the telephony side on a
// fixed ~20ms cadence from the instant the stream starts, and the caller's
// opening words must survive until the session is ready to accept them.

package audio

import "sync"

// RingBuffer is a thread-safe circular buffer of 16-bit PCM samples.
// When full, the oldest samples are overwritten.
type RingBuffer struct {
	mu       sync.Mutex
	data     []int16
	capacity int
	writePos int
	size     int
}

// NewRingBuffer creates a buffer holding durationMs of mono audio at
// sampleRate.
func NewRingBuffer(sampleRate, durationMs int) *RingBuffer {
	capacity := sampleRate * durationMs / 1000
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		data:     make([]int16, capacity),
		capacity: capacity,
	}
}

// Write appends samples, overwriting the oldest data if the buffer is full.
func (rb *RingBuffer) Write(pcm []int16) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(pcm)
	if n == 0 {
		return
	}
	if n >= rb.capacity {
		copy(rb.data, pcm[n-rb.capacity:])
		rb.writePos = 0
		rb.size = rb.capacity
		return
	}

	spaceToEnd := rb.capacity - rb.writePos
	if n <= spaceToEnd {
		copy(rb.data[rb.writePos:], pcm)
		rb.writePos = (rb.writePos + n) % rb.capacity
	} else {
		copy(rb.data[rb.writePos:], pcm[:spaceToEnd])
		copy(rb.data, pcm[spaceToEnd:])
		rb.writePos = n - spaceToEnd
	}

	rb.size += n
	if rb.size > rb.capacity {
		rb.size = rb.capacity
	}
}

// ReadAll returns the buffered samples in arrival order and empties the
// buffer.
func (rb *RingBuffer) ReadAll() []int16 {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]int16, rb.size)
	if rb.size == 0 {
		return out
	}

	start := (rb.writePos - rb.size + rb.capacity) % rb.capacity
	for i := 0; i < rb.size; i++ {
		out[i] = rb.data[(start+i)%rb.capacity]
	}

	rb.writePos = 0
	rb.size = 0
	return out
}

// Len returns the number of buffered samples.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Clear empties the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.writePos = 0
	rb.size = 0
}
