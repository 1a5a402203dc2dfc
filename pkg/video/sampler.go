// Package video turns a live camera track into a low-rate stream of JPEG
// frames for a multimodal session.
//
// A [Sampler] wakes on a fixed interval, grabs the track's current frame,
// draws it at a reduced resolution, JPEG-encodes it and hands the base64
// result to a sink. Ticks on which the camera has not produced a frame yet
// are skipped without error.
package video

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/skillpath/livetutor/pkg/media"
	"github.com/skillpath/livetutor/pkg/provider/live"
)

const (
	// MIMEType is the type tag of every frame blob.
	MIMEType = "image/jpeg"

	DefaultInterval = time.Second
	DefaultScale    = 0.5
	DefaultQuality  = 60
)

// ErrNotReady is returned by [Sampler.SampleOnce] when the track has no
// frame yet.
var ErrNotReady = errors.New("video: track not ready")

// Sink receives encoded frames. It must not block.
type Sink func(live.Blob)

// Option configures a Sampler.
type Option func(*Sampler)

// WithInterval sets the sampling period.
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithScale sets the downscale factor applied to each frame, in (0, 1].
func WithScale(f float64) Option {
	return func(s *Sampler) {
		if f > 0 && f <= 1 {
			s.scale = f
		}
	}
}

// WithQuality sets the JPEG quality, 1 to 100.
func WithQuality(q int) Option {
	return func(s *Sampler) {
		if q >= 1 && q <= 100 {
			s.quality = q
		}
	}
}

// Sampler periodically encodes frames from a camera track.
type Sampler struct {
	track    media.VideoTrack
	sink     Sink
	interval time.Duration
	scale    float64
	quality  int

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	frames atomic.Int64
}

// New returns a stopped Sampler reading from track and delivering to sink.
func New(track media.VideoTrack, sink Sink, opts ...Option) *Sampler {
	s := &Sampler{
		track:    track,
		sink:     sink,
		interval: DefaultInterval,
		scale:    DefaultScale,
		quality:  DefaultQuality,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the sampling loop. Calling Start on a running sampler is a
// no-op, so at most one loop exists per sampler.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	slog.Debug("video sampler started", "interval", s.interval)
}

// Stop ends the sampling loop and waits for it to exit. It is safe to call
// on a stopped sampler. A stopped sampler may be started again.
func (s *Sampler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	slog.Debug("video sampler stopped", "frames", s.frames.Load())
}

// Running reports whether the loop is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// Frames returns the number of frames delivered to the sink.
func (s *Sampler) Frames() int64 { return s.frames.Load() }

func (s *Sampler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.SampleOnce(); err != nil {
				if errors.Is(err, ErrNotReady) {
					slog.Debug("video frame skipped, camera not ready")
					continue
				}
				slog.Warn("video frame dropped", "err", err)
			}
		}
	}
}

// SampleOnce captures, encodes and delivers a single frame.
func (s *Sampler) SampleOnce() (live.Blob, error) {
	if !s.track.Ready() {
		return live.Blob{}, ErrNotReady
	}
	img, err := s.track.Frame()
	if err != nil {
		return live.Blob{}, fmt.Errorf("video: grab frame: %w", err)
	}
	blob, err := EncodeFrame(img, s.scale, s.quality)
	if err != nil {
		return live.Blob{}, err
	}
	s.frames.Add(1)
	s.sink(blob)
	return blob, nil
}

// EncodeFrame draws img at scale times its native size, encodes it as JPEG
// at quality and returns it as a base64 image/jpeg blob.
func EncodeFrame(img image.Image, scale float64, quality int) (live.Blob, error) {
	b := img.Bounds()
	if b.Empty() {
		return live.Blob{}, fmt.Errorf("video: encode frame: empty image")
	}
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return live.Blob{}, fmt.Errorf("video: encode frame: %w", err)
	}
	return live.Blob{
		MIMEType: MIMEType,
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
