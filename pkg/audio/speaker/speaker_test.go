package speaker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/skillpath/livetutor/pkg/audio"
	"github.com/skillpath/livetutor/pkg/audio/playback"
)

type syncBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *syncBuffer) samples() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw := b.buf.Bytes()
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out
}

func constant(n int, v float32, rate int) *audio.Buffer {
	data := make([]float32, n)
	for i := range data {
		data[i] = v
	}
	return &audio.Buffer{SampleRate: rate, Channels: [][]float32{data}}
}

func TestRender_PlacesVoiceAtStartFrame(t *testing.T) {
	t.Parallel()

	w := &syncBuffer{}
	o := newOutput(w, 1000)

	var ended int
	if _, err := o.Start(constant(5, 0.5, 1000), 3*time.Millisecond, func() { ended++ }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.render(10); err != nil {
		t.Fatalf("render: %v", err)
	}

	got := w.samples()
	if len(got) != 10 {
		t.Fatalf("rendered %d samples, want 10", len(got))
	}
	for i, s := range got {
		want := int16(0)
		if i >= 3 && i < 8 {
			want = 16383
		}
		if s != want {
			t.Errorf("sample %d = %d, want %d", i, s, want)
		}
	}
	if ended != 1 {
		t.Errorf("onEnded called %d times, want 1", ended)
	}
	if got := o.CurrentTime(); got != 10*time.Millisecond {
		t.Errorf("CurrentTime = %v, want 10ms", got)
	}
	if o.Active() != 0 {
		t.Errorf("Active = %d, want 0", o.Active())
	}
}

func TestStart_BackToBackBuffersDoNotOverlap(t *testing.T) {
	t.Parallel()

	o := newOutput(io.Discard, 24000)
	sched := playback.New(o)
	for range 2 {
		if _, err := sched.Enqueue(constant(1000, 0.1, 24000)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	o.mu.Lock()
	starts := make(map[uint64]int64, len(o.voices))
	for id, v := range o.voices {
		starts[id] = v.start
	}
	o.mu.Unlock()

	if starts[1] != 0 || starts[2] != 1000 {
		t.Errorf("start frames = %v, want voice 1 at 0 and voice 2 at 1000", starts)
	}
}

func TestRender_MixesAndClamps(t *testing.T) {
	t.Parallel()

	w := &syncBuffer{}
	o := newOutput(w, 1000)
	for range 3 {
		if _, err := o.Start(constant(4, 0.5, 1000), 0, nil); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	if err := o.render(4); err != nil {
		t.Fatalf("render: %v", err)
	}
	for i, s := range w.samples() {
		if s != 32767 {
			t.Errorf("sample %d = %d, want clamped 32767", i, s)
		}
	}
}

func TestRender_VoiceSpanningPeriods(t *testing.T) {
	t.Parallel()

	w := &syncBuffer{}
	o := newOutput(w, 1000)

	ended := make(chan struct{}, 1)
	if _, err := o.Start(constant(6, 0.25, 1000), 0, func() { ended <- struct{}{} }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.render(4); err != nil {
		t.Fatalf("render: %v", err)
	}
	select {
	case <-ended:
		t.Fatal("onEnded before the voice finished")
	default:
	}
	if err := o.render(4); err != nil {
		t.Fatalf("render: %v", err)
	}
	select {
	case <-ended:
	default:
		t.Fatal("onEnded not called after the voice finished")
	}

	got := w.samples()
	nonZero := 0
	for _, s := range got {
		if s != 0 {
			nonZero++
		}
	}
	if nonZero != 6 {
		t.Errorf("non-zero samples = %d, want 6", nonZero)
	}
}

func TestStop_SilencesWithoutCallback(t *testing.T) {
	t.Parallel()

	w := &syncBuffer{}
	o := newOutput(w, 1000)

	called := false
	v, err := o.Start(constant(10, 0.5, 1000), 0, func() { called = true })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.render(2); err != nil {
		t.Fatalf("render: %v", err)
	}
	v.Stop()
	v.Stop()
	if err := o.render(10); err != nil {
		t.Fatalf("render: %v", err)
	}
	if called {
		t.Error("onEnded called for a stopped voice")
	}
	for i, s := range w.samples()[2:] {
		if s != 0 {
			t.Errorf("sample %d after stop = %d, want 0", i+2, s)
		}
	}
}

func TestStart_InThePastPlaysNow(t *testing.T) {
	t.Parallel()

	w := &syncBuffer{}
	o := newOutput(w, 1000)
	if err := o.render(5); err != nil {
		t.Fatalf("render: %v", err)
	}
	if _, err := o.Start(constant(2, 0.5, 1000), time.Millisecond, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.render(2); err != nil {
		t.Fatalf("render: %v", err)
	}
	got := w.samples()
	if got[5] == 0 || got[6] == 0 {
		t.Errorf("late voice not played immediately: %v", got[5:])
	}
}

func TestStart_ResamplesToOutputRate(t *testing.T) {
	t.Parallel()

	w := &syncBuffer{}
	o := newOutput(w, 2000)
	if _, err := o.Start(constant(4, 0.5, 1000), 0, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.render(10); err != nil {
		t.Fatalf("render: %v", err)
	}
	nonZero := 0
	for _, s := range w.samples() {
		if s != 0 {
			nonZero++
		}
	}
	if nonZero != 8 {
		t.Errorf("non-zero samples = %d, want 8", nonZero)
	}
}

func TestOutput_RealTimeLoop(t *testing.T) {
	t.Parallel()

	w := &syncBuffer{}
	o := New(w, 8000, WithPeriod(5*time.Millisecond), WithLead(0))

	ended := make(chan struct{})
	if _, err := o.Start(constant(80, 0.5, 8000), 0, func() { close(ended) }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("voice did not finish in real time")
	}
	if o.CurrentTime() < 10*time.Millisecond {
		t.Errorf("CurrentTime = %v, want >= 10ms", o.CurrentTime())
	}

	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		t.Error("writer not closed")
	}
	if _, err := o.Start(constant(1, 0, 8000), 0, nil); !errors.Is(err, audio.ErrContextClosed) {
		t.Errorf("Start after Close: err = %v, want ErrContextClosed", err)
	}
}
