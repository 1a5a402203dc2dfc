// Package ffmpeg implements media.Devices on top of ffmpeg subprocesses.
//
// The microphone is captured as 16-bit little-endian mono PCM on stdout, the
// camera as raw RGBA frames. Speaker output pipes PCM into ffplay. Each track
// owns exactly one process, which is killed and reaped on Stop.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/skillpath/livetutor/pkg/media"
)

// Compile-time interface assertion.
var _ media.Devices = (*Devices)(nil)

const (
	defaultFFmpeg     = "ffmpeg"
	defaultFFplay     = "ffplay"
	defaultMicRate    = 16000
	defaultWidth      = 640
	defaultHeight     = 480
	defaultFrameRate  = 2
	firstDataTimeout  = 5 * time.Second
	stderrTailLimit   = 4096
	permissionPattern = "permission denied|not authorized|operation not permitted|access denied"
)

// Config selects binaries and capture inputs. Zero values pick per-OS
// defaults.
type Config struct {
	// FFmpegPath is the ffmpeg executable. Defaults to "ffmpeg" on PATH.
	FFmpegPath string

	// MicrophoneCommand, if set, is run with /bin/sh -c and must write s16le
	// mono PCM at MicrophoneRate to stdout.
	MicrophoneCommand string

	// MicrophoneInput overrides the ffmpeg input arguments, e.g.
	// ["-f", "pulse", "-i", "default"].
	MicrophoneInput []string

	// MicrophoneRate is the capture rate in Hz. Defaults to 16000.
	MicrophoneRate int

	// CameraCommand, if set, is run with /bin/sh -c and must write raw RGBA
	// frames of Width x Height to stdout.
	CameraCommand string

	// CameraInput overrides the ffmpeg input arguments, e.g.
	// ["-f", "v4l2", "-i", "/dev/video0"].
	CameraInput []string

	// Width and Height are the camera frame size. Default 640x480.
	Width, Height int

	// FrameRate is the camera capture rate. Defaults to 2 fps.
	FrameRate int
}

func (c *Config) defaults() {
	if c.FFmpegPath == "" {
		c.FFmpegPath = defaultFFmpeg
	}
	if c.MicrophoneRate <= 0 {
		c.MicrophoneRate = defaultMicRate
	}
	if c.Width <= 0 {
		c.Width = defaultWidth
	}
	if c.Height <= 0 {
		c.Height = defaultHeight
	}
	if c.FrameRate <= 0 {
		c.FrameRate = defaultFrameRate
	}
}

// Devices opens ffmpeg-backed capture tracks.
type Devices struct {
	cfg Config
}

// New returns Devices for cfg.
func New(cfg Config) *Devices {
	cfg.defaults()
	return &Devices{cfg: cfg}
}

// ── input selection ───────────────────────────────────────────────────────────

func defaultMicInput() ([]string, bool) {
	switch runtime.GOOS {
	case "linux":
		return []string{"-f", "pulse", "-i", "default"}, true
	case "darwin":
		// `none:0` avoids opening a video device.
		return []string{"-f", "avfoundation", "-i", "none:0"}, true
	case "windows":
		return []string{"-f", "dshow", "-i", "audio=default"}, true
	default:
		return nil, false
	}
}

func defaultCameraInput() ([]string, bool) {
	switch runtime.GOOS {
	case "linux":
		return []string{"-f", "v4l2", "-i", "/dev/video0"}, true
	case "darwin":
		return []string{"-f", "avfoundation", "-framerate", "30", "-i", "0:none"}, true
	default:
		return nil, false
	}
}

// command builds the capture command: a shell override or ffmpeg with input
// followed by the output arguments.
func (d *Devices) command(ctx context.Context, override string, input []string, output []string) (*exec.Cmd, error) {
	if strings.TrimSpace(override) != "" {
		return exec.CommandContext(ctx, "/bin/sh", "-c", override), nil
	}
	if _, err := exec.LookPath(d.cfg.FFmpegPath); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %w", media.ErrUnsupported, err)
	}
	args := append([]string{"-hide_banner", "-loglevel", "error", "-nostdin"}, input...)
	args = append(args, output...)
	return exec.CommandContext(ctx, d.cfg.FFmpegPath, args...), nil
}

// ── process ───────────────────────────────────────────────────────────────────

// process is a running capture subprocess with a buffered stdout.
type process struct {
	name   string
	cmd    *exec.Cmd
	cancel context.CancelFunc
	out    *bufio.Reader
	stderr *tailBuffer

	stopOnce sync.Once
}

// start launches cmd and waits until the first output byte arrives. Failure
// to produce output is classified from stderr.
func start(ctx context.Context, name string, build func(context.Context) (*exec.Cmd, error)) (*process, error) {
	procCtx, cancel := context.WithCancel(context.Background())
	cmd, err := build(procCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: %s: stdout: %w", name, err)
	}
	tail := &tailBuffer{limit: stderrTailLimit}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("ffmpeg: %s: %w: %w", name, media.ErrUnsupported, err)
		}
		return nil, fmt.Errorf("ffmpeg: %s: start: %w", name, err)
	}

	p := &process{
		name:   name,
		cmd:    cmd,
		cancel: cancel,
		out:    bufio.NewReaderSize(stdout, 64*1024),
		stderr: tail,
	}

	ready := make(chan error, 1)
	go func() {
		_, err := p.out.Peek(1)
		ready <- err
	}()

	timer := time.NewTimer(firstDataTimeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		if err == nil {
			slog.Debug("ffmpeg: capture started", "track", name, "pid", cmd.Process.Pid)
			return p, nil
		}
		p.reap()
		return nil, p.classify(err)
	case <-timer.C:
		p.reap()
		return nil, fmt.Errorf("ffmpeg: %s: no data within %s: %s", name, firstDataTimeout, p.stderr.String())
	case <-ctx.Done():
		p.reap()
		return nil, ctx.Err()
	}
}

// classify maps a startup failure to a media error using the stderr tail.
func (p *process) classify(err error) error {
	msg := strings.ToLower(p.stderr.String())
	for _, pat := range strings.Split(permissionPattern, "|") {
		if strings.Contains(msg, pat) {
			return fmt.Errorf("ffmpeg: %s: %w: %s", p.name, media.ErrPermissionDenied, strings.TrimSpace(p.stderr.String()))
		}
	}
	if tail := strings.TrimSpace(p.stderr.String()); tail != "" {
		return fmt.Errorf("ffmpeg: %s: %w: %s", p.name, err, tail)
	}
	return fmt.Errorf("ffmpeg: %s: %w", p.name, err)
}

// reap kills the process and waits for it to exit.
func (p *process) reap() {
	p.cancel()
	_ = p.cmd.Wait()
}

// stop kills the process and waits for it to exit. Idempotent.
func (p *process) stop() {
	p.stopOnce.Do(func() {
		p.reap()
		slog.Debug("ffmpeg: capture stopped", "track", p.name)
	})
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
