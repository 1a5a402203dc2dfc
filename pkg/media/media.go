// Package media abstracts the platform capture devices used by a live
// session: a microphone track that yields mono samples and a camera track
// that exposes its most recent frame.
//
// Implementations live in sub-packages: ffmpeg drives real hardware through
// ffmpeg subprocesses and mock provides scriptable fakes for tests.
package media

import (
	"context"
	"errors"
	"image"

	"github.com/skillpath/livetutor/pkg/audio"
)

var (
	// ErrPermissionDenied is returned when the platform refuses access to a
	// capture device.
	ErrPermissionDenied = errors.New("media: permission denied")

	// ErrUnsupported is returned when the platform has no way to capture the
	// requested media.
	ErrUnsupported = errors.New("media: capture not supported")
)

// AudioTrack is an open microphone. ReadSamples blocks until samples are
// available and returns io.EOF after Stop.
type AudioTrack interface {
	audio.SampleReader

	// Stop releases the hardware. Idempotent.
	Stop() error
}

// VideoTrack is an open camera.
type VideoTrack interface {
	// Ready reports whether at least one frame has been captured.
	Ready() bool

	// Frame returns the most recent frame at native resolution. The returned
	// image must not be modified.
	Frame() (image.Image, error)

	// Stop releases the hardware. Idempotent.
	Stop() error
}

// Devices opens capture tracks. Each call acquires the hardware anew.
type Devices interface {
	OpenMicrophone(ctx context.Context) (AudioTrack, error)
	OpenCamera(ctx context.Context) (VideoTrack, error)
}
