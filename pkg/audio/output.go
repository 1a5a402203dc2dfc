// Package audio provides the PCM codec, level metering, and the two audio
// clocks used by a live tutor session.
//
// Capture runs on an [InputContext]: a [SourceNode] wraps a microphone track
// and a [ProcessorNode] slices it into fixed-size [Block] values at the
// capture rate. Playback runs on an [OutputContext]: decoded [Buffer] values
// are started at explicit clock times so that consecutive chunks can be laid
// end to end.
//
// The two contexts are independent. Each is owned by exactly one pipeline
// direction and is acquired and released with the session that uses it.
package audio

import "time"

// Voice is a buffer that has been started on an [OutputContext].
type Voice interface {
	// Stop halts playback immediately. Stopping a voice that already ended or
	// was already stopped is a no-op.
	Stop()
}

// OutputContext is the playback-side audio clock.
//
// Implementations must be safe for concurrent use.
type OutputContext interface {
	// SampleRate returns the native output rate in Hz.
	SampleRate() int

	// CurrentTime returns the clock position. The clock starts at zero when the
	// context is created and advances monotonically while it is open.
	CurrentTime() time.Duration

	// Start schedules buf to begin playing at clock time at. A time in the past
	// starts immediately. onEnded, if non-nil, is invoked exactly once when the
	// buffer finishes playing naturally. A voice stopped well before its end
	// does not report; one that ends concurrently with Stop may still report.
	// onEnded is never invoked synchronously from within Start or Stop.
	Start(buf *Buffer, at time.Duration, onEnded func()) (Voice, error)

	// Close stops all voices and releases the output device. Idempotent.
	Close() error
}
