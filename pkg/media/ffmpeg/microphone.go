package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync/atomic"

	"github.com/skillpath/livetutor/pkg/audio"
	"github.com/skillpath/livetutor/pkg/media"
)

var _ media.AudioTrack = (*Microphone)(nil)

// Microphone is an ffmpeg capture process producing mono PCM.
type Microphone struct {
	proc    *process
	rate    int
	stopped atomic.Bool
}

// OpenMicrophone starts capture and returns once the first samples arrive.
// A platform refusal is reported as media.ErrPermissionDenied and a missing
// capture backend as media.ErrUnsupported.
func (d *Devices) OpenMicrophone(ctx context.Context) (media.AudioTrack, error) {
	input := d.cfg.MicrophoneInput
	if len(input) == 0 && d.cfg.MicrophoneCommand == "" {
		var ok bool
		if input, ok = defaultMicInput(); !ok {
			return nil, fmt.Errorf("ffmpeg: microphone: %w", media.ErrUnsupported)
		}
	}
	output := []string{"-ac", "1", "-ar", strconv.Itoa(d.cfg.MicrophoneRate), "-f", "s16le", "-"}

	proc, err := start(ctx, "microphone", func(ctx context.Context) (*exec.Cmd, error) {
		return d.command(ctx, d.cfg.MicrophoneCommand, input, output)
	})
	if err != nil {
		return nil, err
	}
	return &Microphone{proc: proc, rate: d.cfg.MicrophoneRate}, nil
}

// SampleRate implements audio.SampleReader.
func (m *Microphone) SampleRate() int { return m.rate }

// ReadSamples fills p with samples decoded from the capture stream. It
// returns io.EOF once the track has been stopped or the process exited.
func (m *Microphone) ReadSamples(p []float32) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if m.stopped.Load() {
		return 0, io.EOF
	}

	raw := make([]byte, len(p)*2)
	n, err := io.ReadAtLeast(m.proc.out, raw, 2)
	if err == nil && n%2 == 1 {
		// Keep sample alignment across reads.
		_, err = io.ReadFull(m.proc.out, raw[n:n+1])
		if err == nil {
			n++
		}
	}
	copy(p, audio.DecodePCM16(raw[:n]))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || m.stopped.Load() {
			err = io.EOF
		}
	}
	return n / 2, err
}

// Stop kills the capture process. Idempotent.
func (m *Microphone) Stop() error {
	m.stopped.Store(true)
	m.proc.stop()
	return nil
}
