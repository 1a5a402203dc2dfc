package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/skillpath/livetutor/pkg/media"
)

var _ media.VideoTrack = (*Camera)(nil)

// errNoFrame is returned by Frame before the first frame has been captured.
var errNoFrame = errors.New("ffmpeg: camera: no frame captured yet")

// Camera is an ffmpeg capture process producing raw RGBA frames. A background
// reader keeps only the most recent frame.
type Camera struct {
	proc          *process
	width, height int

	mu     sync.Mutex
	latest *image.RGBA

	g        *errgroup.Group
	stopOnce sync.Once
}

// OpenCamera starts capture and returns once the first bytes arrive.
func (d *Devices) OpenCamera(ctx context.Context) (media.VideoTrack, error) {
	input := d.cfg.CameraInput
	if len(input) == 0 && d.cfg.CameraCommand == "" {
		var ok bool
		if input, ok = defaultCameraInput(); !ok {
			return nil, fmt.Errorf("ffmpeg: camera: %w", media.ErrUnsupported)
		}
	}
	size := strconv.Itoa(d.cfg.Width) + "x" + strconv.Itoa(d.cfg.Height)
	output := []string{
		"-vf", "fps=" + strconv.Itoa(d.cfg.FrameRate) + ",scale=" + size,
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"-",
	}

	proc, err := start(ctx, "camera", func(ctx context.Context) (*exec.Cmd, error) {
		return d.command(ctx, d.cfg.CameraCommand, input, output)
	})
	if err != nil {
		return nil, err
	}

	c := &Camera{proc: proc, width: d.cfg.Width, height: d.cfg.Height, g: new(errgroup.Group)}
	c.g.Go(c.readFrames)
	return c, nil
}

// readFrames decodes whole frames from stdout until the process exits.
func (c *Camera) readFrames() error {
	frameBytes := c.width * c.height * 4
	for {
		img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
		if _, err := io.ReadFull(c.proc.out, img.Pix[:frameBytes]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("ffmpeg: camera: read frame: %w", err)
		}
		c.mu.Lock()
		c.latest = img
		c.mu.Unlock()
	}
}

// Ready reports whether a full frame has been captured.
func (c *Camera) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest != nil
}

// Frame returns the most recent frame.
func (c *Camera) Frame() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return nil, errNoFrame
	}
	return c.latest, nil
}

// Stop kills the capture process and waits for the reader. Idempotent.
func (c *Camera) Stop() error {
	c.stopOnce.Do(func() {
		c.proc.stop()
		if err := c.g.Wait(); err != nil {
			slog.Debug("ffmpeg: camera reader exited", "err", err)
		}
	})
	return nil
}
