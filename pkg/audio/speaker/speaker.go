// Package speaker implements a real-time [audio.OutputContext] that mixes
// scheduled buffers into a 16-bit little-endian PCM byte stream.
//
// The stream is rendered in small periods paced by the wall clock and written
// to an io.Writer, typically the stdin of an ffplay process. The output clock
// is the number of frames rendered so far, so a buffer started at time t is
// heard exactly t into the stream.
package speaker

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/skillpath/livetutor/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.OutputContext = (*Output)(nil)

const (
	defaultPeriod = 20 * time.Millisecond
	defaultLead   = 60 * time.Millisecond
)

// Option configures an Output.
type Option func(*Output)

// WithPeriod sets how often the render loop wakes.
func WithPeriod(d time.Duration) Option {
	return func(o *Output) {
		if d > 0 {
			o.period = d
		}
	}
}

// WithLead sets how far ahead of the wall clock audio is rendered. A larger
// lead tolerates scheduling jitter at the cost of latency.
func WithLead(d time.Duration) Option {
	return func(o *Output) {
		if d >= 0 {
			o.lead = d
		}
	}
}

type voice struct {
	out     *Output
	id      uint64
	start   int64 // first output frame
	samples []float32
	onEnded func()
}

// Stop implements [audio.Voice].
func (v *voice) Stop() {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	delete(v.out.voices, v.id)
}

// Output renders scheduled buffers to w.
type Output struct {
	w      io.Writer
	rate   int
	period time.Duration
	lead   time.Duration

	mu       sync.Mutex
	rendered int64
	seq      uint64
	voices   map[uint64]*voice
	closed   bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New starts an Output rendering mono PCM at rate Hz into w. If w is an
// io.Closer it is closed by [Output.Close].
func New(w io.Writer, rate int, opts ...Option) *Output {
	o := newOutput(w, rate, opts...)
	go o.loop()
	return o
}

func newOutput(w io.Writer, rate int, opts ...Option) *Output {
	o := &Output{
		w:      w,
		rate:   rate,
		period: defaultPeriod,
		lead:   defaultLead,
		voices: make(map[uint64]*voice),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SampleRate implements [audio.OutputContext].
func (o *Output) SampleRate() int { return o.rate }

// CurrentTime implements [audio.OutputContext]. It is the duration of audio
// rendered so far.
func (o *Output) CurrentTime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return audio.FramesToDuration(o.rendered, o.rate)
}

// Start implements [audio.OutputContext]. The buffer is mixed down to mono
// and resampled to the output rate if needed.
func (o *Output) Start(buf *audio.Buffer, at time.Duration, onEnded func()) (audio.Voice, error) {
	samples := audio.ResampleFloat32(audio.MixDown(buf), buf.SampleRate, o.rate)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, audio.ErrContextClosed
	}
	o.seq++
	v := &voice{
		out:     o,
		id:      o.seq,
		start:   max(audio.DurationToFrames(at, o.rate), o.rendered),
		samples: samples,
		onEnded: onEnded,
	}
	o.voices[v.id] = v
	return v, nil
}

// Close stops rendering, drops all voices and closes the writer if it is an
// io.Closer. Idempotent.
func (o *Output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		clear(o.voices)
		o.mu.Unlock()

		close(o.stop)
		<-o.done
		if c, ok := o.w.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				err = fmt.Errorf("speaker: close writer: %w", cerr)
			}
		}
	})
	return err
}

func (o *Output) loop() {
	defer close(o.done)

	ticker := time.NewTicker(o.period)
	defer ticker.Stop()
	began := time.Now()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			target := audio.DurationToFrames(time.Since(began)+o.lead, o.rate)
			if err := o.renderUntil(target); err != nil {
				slog.Warn("speaker write failed, stopping output", "err", err)
				return
			}
		}
	}
}

// renderUntil renders frames up to and including frame target-1.
func (o *Output) renderUntil(target int64) error {
	o.mu.Lock()
	n := int(target - o.rendered)
	o.mu.Unlock()
	if n <= 0 {
		return nil
	}
	return o.render(n)
}

// render mixes the next n frames, advances the clock and writes the PCM.
// Completion callbacks run after the lock is released.
func (o *Output) render(n int) error {
	mix := make([]float32, n)

	o.mu.Lock()
	from := o.rendered
	to := from + int64(n)
	var ended []func()
	for id, v := range o.voices {
		end := v.start + int64(len(v.samples))
		lo := max(from, v.start)
		hi := min(to, end)
		for f := lo; f < hi; f++ {
			mix[f-from] += v.samples[f-v.start]
		}
		if end <= to {
			delete(o.voices, id)
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
		}
	}
	o.rendered = to
	o.mu.Unlock()

	for _, fn := range ended {
		fn()
	}

	pcm := make([]byte, n*2)
	for i, s := range mix {
		s = float32(math.Max(-1, math.Min(1, float64(s))))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	_, err := o.w.Write(pcm)
	return err
}

// Active returns the number of scheduled or playing voices.
func (o *Output) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.voices)
}
