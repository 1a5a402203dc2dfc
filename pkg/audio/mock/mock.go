// Package mock provides an in-memory [audio.OutputContext] driven by a manual
// clock, for use in unit tests.
//
// The clock only moves when the test calls [Output.Advance] or
// [Output.SetTime]. Voices whose end time is reached are completed during that
// call, after the internal lock has been released, so completion callbacks may
// freely call back into code that schedules on the same context.
//
// Typical usage:
//
//	out := mock.NewOutput(24000)
//	sched := playback.New(out)
//	_, _ = sched.Enqueue(buf)
//	out.Advance(500 * time.Millisecond) // fires onEnded for finished voices
package mock

import (
	"sync"
	"time"

	"github.com/skillpath/livetutor/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.OutputContext = (*Output)(nil)

// StartCall records a single invocation of [Output.Start].
type StartCall struct {
	// At is the requested start time.
	At time.Duration
	// Duration is the buffer length.
	Duration time.Duration
	// Frames is the buffer frame count.
	Frames int
}

// Output is a mock [audio.OutputContext] with a manually advanced clock.
type Output struct {
	mu sync.Mutex

	rate   int
	now    time.Duration
	seq    int
	voices map[int]*Voice
	closed bool

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// Starts records every successful Start call in order.
	Starts []StartCall

	// StopCount is the number of voices stopped via [Voice.Stop] or Close.
	StopCount int

	// EndedCount is the number of voices that ended naturally.
	EndedCount int

	// CloseCount is the number of times Close was called.
	CloseCount int
}

// NewOutput returns a mock output context running at rate Hz with its clock
// at zero.
func NewOutput(rate int) *Output {
	return &Output{rate: rate, voices: make(map[int]*Voice)}
}

// Voice is the [audio.Voice] returned by [Output.Start].
type Voice struct {
	out     *Output
	id      int
	end     time.Duration
	onEnded func()
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	if _, ok := v.out.voices[v.id]; !ok {
		return
	}
	delete(v.out.voices, v.id)
	v.out.StopCount++
}

// SampleRate implements [audio.OutputContext].
func (o *Output) SampleRate() int { return o.rate }

// CurrentTime implements [audio.OutputContext].
func (o *Output) CurrentTime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Start implements [audio.OutputContext]. A start time in the past is clamped
// to the current time.
func (o *Output) Start(buf *audio.Buffer, at time.Duration, onEnded func()) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, audio.ErrContextClosed
	}
	if o.StartErr != nil {
		return nil, o.StartErr
	}
	start := max(at, o.now)
	o.seq++
	v := &Voice{out: o, id: o.seq, end: start + buf.Duration(), onEnded: onEnded}
	o.voices[v.id] = v
	o.Starts = append(o.Starts, StartCall{At: at, Duration: buf.Duration(), Frames: buf.Frames()})
	return v, nil
}

// Close implements [audio.OutputContext].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CloseCount++
	if o.closed {
		return nil
	}
	o.closed = true
	o.StopCount += len(o.voices)
	clear(o.voices)
	return nil
}

// Closed reports whether Close has been called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Active returns the number of voices that are scheduled or playing.
func (o *Output) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.voices)
}

// StartCalls returns a copy of the recorded Start calls.
func (o *Output) StartCalls() []StartCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]StartCall, len(o.Starts))
	copy(out, o.Starts)
	return out
}

// Advance moves the clock forward by d and completes every voice whose end
// time has been reached.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	t := o.now + d
	o.mu.Unlock()
	o.SetTime(t)
}

// SetTime moves the clock to t and completes every voice whose end time is at
// or before t. Moving the clock backwards is ignored.
func (o *Output) SetTime(t time.Duration) {
	o.mu.Lock()
	if t > o.now {
		o.now = t
	}
	var ended []*Voice
	for id, v := range o.voices {
		if v.end <= o.now {
			ended = append(ended, v)
			delete(o.voices, id)
		}
	}
	o.EndedCount += len(ended)
	o.mu.Unlock()

	for _, v := range ended {
		if v.onEnded != nil {
			v.onEnded()
		}
	}
}
