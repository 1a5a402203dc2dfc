package capture_test

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/skillpath/livetutor/pkg/audio"
	"github.com/skillpath/livetutor/pkg/audio/capture"
	"github.com/skillpath/livetutor/pkg/media/mock"
	"github.com/skillpath/livetutor/pkg/provider/live"
)

type recorder struct {
	mu     sync.Mutex
	blobs  []live.Blob
	levels []float64
}

func (r *recorder) sink(b live.Blob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs = append(r.blobs, b)
}

func (r *recorder) level(l float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, l)
}

func (r *recorder) snapshot() ([]live.Blob, []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]live.Blob(nil), r.blobs...), append([]float64(nil), r.levels...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestPipeline_EncodesBlocks(t *testing.T) {
	t.Parallel()

	ictx := audio.NewInputContext(16000)
	defer ictx.Close()
	track := mock.NewAudioTrack(16000)

	var rec recorder
	p, err := capture.Start(ictx, track, rec.sink, capture.WithLevel(rec.level))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	track.Feed(constant(4096, 0.1))
	track.Feed(constant(4096, 0.5))
	waitFor(t, func() bool { return p.Blocks() == 2 })

	blobs, levels := rec.snapshot()
	if len(blobs) != 2 {
		t.Fatalf("got %d blobs, want 2", len(blobs))
	}
	for i, b := range blobs {
		if b.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("blob %d MIME = %q", i, b.MIMEType)
		}
		raw, err := base64.StdEncoding.DecodeString(b.Data)
		if err != nil {
			t.Fatalf("blob %d base64: %v", i, err)
		}
		if len(raw) != 4096*2 {
			t.Errorf("blob %d: %d bytes, want %d", i, len(raw), 4096*2)
		}
	}
	if len(levels) != 2 || levels[0] < 0.49 || levels[0] > 0.51 || levels[1] != 1 {
		t.Errorf("levels = %v, want [~0.5 1]", levels)
	}
}

func TestPipeline_PartialBlockNotSent(t *testing.T) {
	t.Parallel()

	ictx := audio.NewInputContext(16000)
	defer ictx.Close()
	track := mock.NewAudioTrack(16000)

	var rec recorder
	p, err := capture.Start(ictx, track, rec.sink, capture.WithBlockSize(256))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	track.Feed(constant(256*3+10, 0))
	waitFor(t, func() bool { return p.Blocks() == 3 })
	time.Sleep(10 * time.Millisecond)
	if p.Blocks() != 3 {
		t.Errorf("Blocks = %d, want 3", p.Blocks())
	}
}

func TestPipeline_StopIdempotent(t *testing.T) {
	t.Parallel()

	ictx := audio.NewInputContext(16000)
	defer ictx.Close()
	track := mock.NewAudioTrack(16000)

	var rec recorder
	p, err := capture.Start(ictx, track, rec.sink, capture.WithBlockSize(128))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	p.Stop()
	p.Stop()
	_ = track.Stop() // unblock the pending read

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not exit")
	}

	track.Feed(constant(1024, 0.2))
	time.Sleep(10 * time.Millisecond)
	if blobs, _ := rec.snapshot(); len(blobs) != 0 {
		t.Errorf("got %d blobs after Stop, want 0", len(blobs))
	}

	var nilPipeline *capture.Pipeline
	nilPipeline.Stop() // must not panic
}

func TestPipeline_ClosedContext(t *testing.T) {
	t.Parallel()

	ictx := audio.NewInputContext(16000)
	_ = ictx.Close()

	var rec recorder
	if _, err := capture.Start(ictx, mock.NewAudioTrack(16000), rec.sink); err == nil {
		t.Fatal("Start on closed context should fail")
	}
}
