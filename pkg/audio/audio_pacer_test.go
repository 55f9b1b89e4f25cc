package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer(t *testing.T) {
	p := NewPacer(8000, 0)
	frameSamples := p.FrameSamples()
	require.Equal(t, 160, frameSamples)

	t.Run("empty buffer yields no frame", func(t *testing.T) {
		_, ok := p.ReadFrame()
		assert.False(t, ok)
	})

	t.Run("full frame read back", func(t *testing.T) {
		data := make([]int16, frameSamples)
		for i := range data {
			data[i] = int16(i)
		}
		p.Write(data)

		frame, ok := p.ReadFrame()
		require.True(t, ok)
		assert.Equal(t, data, frame)
	})

	t.Run("partial frame padded with silence", func(t *testing.T) {
		p.Write([]int16{100, 200, 300})
		frame, ok := p.ReadFrame()
		require.True(t, ok)
		require.Len(t, frame, frameSamples)
		assert.Equal(t, int16(100), frame[0])
		assert.Equal(t, int16(0), frame[frameSamples-1])
	})

	t.Run("empty write is a no-op", func(t *testing.T) {
		p.Write(nil)
		assert.Zero(t, p.Available())
	})
}

func TestPacerAccumulation(t *testing.T) {
	p := NewPacer(8000, 100) // hold 5 frames before playback
	frameSamples := p.FrameSamples()

	p.Write(make([]int16, frameSamples*2))
	_, ok := p.ReadFrame()
	assert.False(t, ok, "should still be accumulating")

	p.Write(make([]int16, frameSamples*3))
	for i := 0; i < 5; i++ {
		_, ok := p.ReadFrame()
		assert.True(t, ok, "frame %d should be ready once accumulated", i)
	}

	// Drained: the pacer accumulates again before the next burst plays.
	_, ok = p.ReadFrame()
	assert.False(t, ok)
	p.Write(make([]int16, frameSamples))
	_, ok = p.ReadFrame()
	assert.False(t, ok, "one frame is below the accumulation threshold")
}

func TestPacerClearWithFadeOut(t *testing.T) {
	p := NewPacer(8000, 0)

	data := make([]int16, p.FrameSamples()*10)
	for i := range data {
		data[i] = 10000
	}
	p.Write(data)

	p.Clear(20) // keep one faded 20ms frame
	assert.Equal(t, p.FrameSamples(), p.Available())

	frame, ok := p.ReadFrame()
	require.True(t, ok)
	assert.Less(t, int(frame[len(frame)-1]), int(frame[0]), "fade should decay toward the tail")
}

func TestPacerClearImmediate(t *testing.T) {
	p := NewPacer(8000, 0)
	p.Write(make([]int16, 1000))
	p.Clear(0)
	assert.Equal(t, 0, p.Available())
}

func TestPacerClearRearmsAccumulation(t *testing.T) {
	p := NewPacer(8000, 100)
	p.Write(make([]int16, p.FrameSamples()*10))
	_, ok := p.ReadFrame()
	require.True(t, ok)

	p.Clear(0)
	p.Write(make([]int16, p.FrameSamples()))
	_, ok = p.ReadFrame()
	assert.False(t, ok, "after a clear the pacer buffers before resuming")
}
