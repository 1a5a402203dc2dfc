package audio

import "time"

// Block is a fixed-length run of mono capture samples, nominally in [-1, 1].
// Blocks are produced by a [ProcessorNode] at the [InputContext] sample rate.
type Block []float32

// Buffer is decoded PCM audio ready for playback. Samples are stored
// deinterleaved, one slice per channel, as floats in [-1, 1).
type Buffer struct {
	// SampleRate in Hz (e.g., 24000 for live model output).
	SampleRate int

	// Channels holds one sample slice per channel. All slices have equal length.
	Channels [][]float32
}

// NumChannels returns the number of channels in b.
func (b *Buffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// Frames returns the number of sample frames (samples per channel) in b.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of b at its sample rate.
func (b *Buffer) Duration() time.Duration {
	return FramesToDuration(int64(b.Frames()), b.rate())
}

func (b *Buffer) rate() int {
	if b == nil {
		return 0
	}
	return b.SampleRate
}

// FramesToDuration converts a frame count at rate Hz to a duration.
// A non-positive rate yields zero.
func FramesToDuration(frames int64, rate int) time.Duration {
	if rate <= 0 || frames <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(rate))
}

// DurationToFrames converts d to a frame count at rate Hz, rounding to the
// nearest frame. It inverts [FramesToDuration], whose result is truncated to
// the nanosecond.
func DurationToFrames(d time.Duration, rate int) int64 {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}
