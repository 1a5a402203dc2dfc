// Package mock provides scriptable fakes for the media package interfaces.
//
// Devices hands out fresh tracks on every open call and records them so tests
// can feed samples into the microphone and assert that hardware was released.
package mock

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"

	"github.com/skillpath/livetutor/pkg/media"
)

var (
	_ media.Devices    = (*Devices)(nil)
	_ media.AudioTrack = (*AudioTrack)(nil)
	_ media.VideoTrack = (*VideoTrack)(nil)
)

// Devices is a mock implementation of media.Devices.
type Devices struct {
	mu sync.Mutex

	// MicErr and CameraErr, if non-nil, are returned by the open calls.
	MicErr    error
	CameraErr error

	// MicRate is the sample rate of new microphone tracks. Defaults to 16000.
	MicRate int

	// Frame is the image served by new camera tracks. Defaults to a 64x48
	// grey frame.
	Frame image.Image

	// CameraNotReady makes new camera tracks start not ready.
	CameraNotReady bool

	mics    []*AudioTrack
	cameras []*VideoTrack
}

// OpenMicrophone returns a new AudioTrack or MicErr.
func (d *Devices) OpenMicrophone(ctx context.Context) (media.AudioTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.MicErr != nil {
		return nil, d.MicErr
	}
	rate := d.MicRate
	if rate == 0 {
		rate = 16000
	}
	t := NewAudioTrack(rate)
	d.mics = append(d.mics, t)
	return t, nil
}

// OpenCamera returns a new VideoTrack or CameraErr.
func (d *Devices) OpenCamera(ctx context.Context) (media.VideoTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CameraErr != nil {
		return nil, d.CameraErr
	}
	img := d.Frame
	if img == nil {
		img = GreyFrame(64, 48)
	}
	t := NewVideoTrack(img)
	t.SetReady(!d.CameraNotReady)
	d.cameras = append(d.cameras, t)
	return t, nil
}

// Microphones returns every microphone track opened so far.
func (d *Devices) Microphones() []*AudioTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*AudioTrack(nil), d.mics...)
}

// Cameras returns every camera track opened so far.
func (d *Devices) Cameras() []*VideoTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*VideoTrack(nil), d.cameras...)
}

// LastMicrophone returns the most recently opened microphone, or nil.
func (d *Devices) LastMicrophone() *AudioTrack {
	mics := d.Microphones()
	if len(mics) == 0 {
		return nil
	}
	return mics[len(mics)-1]
}

// ── AudioTrack ────────────────────────────────────────────────────────────────

// AudioTrack is a microphone fed by the test through Feed.
type AudioTrack struct {
	rate int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []float32
	stopped bool
	stops   int
}

// NewAudioTrack returns an open track at rate Hz.
func NewAudioTrack(rate int) *AudioTrack {
	t := &AudioTrack{rate: rate}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// SampleRate implements media.AudioTrack.
func (t *AudioTrack) SampleRate() int { return t.rate }

// Feed appends samples for the next reads.
func (t *AudioTrack) Feed(samples []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.pending = append(t.pending, samples...)
	t.cond.Broadcast()
}

// ReadSamples blocks until samples are fed or the track is stopped.
func (t *AudioTrack) ReadSamples(p []float32) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.pending) == 0 && !t.stopped {
		t.cond.Wait()
	}
	if t.stopped {
		return 0, io.EOF
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

// Stop implements media.AudioTrack.
func (t *AudioTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	t.stopped = true
	t.cond.Broadcast()
	return nil
}

// Stopped reports whether Stop has been called.
func (t *AudioTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// StopCount returns the number of Stop calls.
func (t *AudioTrack) StopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// ── VideoTrack ────────────────────────────────────────────────────────────────

// errStopped is returned by Frame after Stop.
var errStopped = errors.New("mock: video track stopped")

// VideoTrack serves a fixed image.
type VideoTrack struct {
	mu      sync.Mutex
	img     image.Image
	ready   bool
	stopped bool
	stops   int
	frames  int
}

// NewVideoTrack returns a ready track serving img.
func NewVideoTrack(img image.Image) *VideoTrack {
	return &VideoTrack{img: img, ready: true}
}

// SetReady controls what Ready reports.
func (t *VideoTrack) SetReady(ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = ready
}

// Ready implements media.VideoTrack.
func (t *VideoTrack) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready && !t.stopped
}

// Frame implements media.VideoTrack.
func (t *VideoTrack) Frame() (image.Image, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil, errStopped
	}
	t.frames++
	return t.img, nil
}

// Stop implements media.VideoTrack.
func (t *VideoTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	t.stopped = true
	return nil
}

// Stopped reports whether Stop has been called.
func (t *VideoTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// FrameCount returns the number of Frame calls that returned an image.
func (t *VideoTrack) FrameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// GreyFrame returns a uniform mid-grey image of the given size.
func GreyFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	return img
}
