package ffmpeg

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
)

// Speaker pipes 16-bit little-endian PCM into an ffplay process.
type Speaker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	closeOnce sync.Once
}

// SpeakerConfig configures [OpenSpeaker].
type SpeakerConfig struct {
	// FFplayPath is the ffplay executable. Defaults to "ffplay" on PATH.
	FFplayPath string

	// Command, if set, is run with /bin/sh -c and receives raw PCM on stdin.
	Command string

	SampleRate int
	Channels   int

	// Volume is the startup volume 0..100. Defaults to 80.
	Volume int
}

// OpenSpeaker starts the playback process.
func OpenSpeaker(cfg SpeakerConfig) (*Speaker, error) {
	if cfg.FFplayPath == "" {
		cfg.FFplayPath = defaultFFplay
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Volume <= 0 {
		cfg.Volume = 80
	}

	var cmd *exec.Cmd
	if cfg.Command != "" {
		cmd = exec.Command("/bin/sh", "-c", cfg.Command)
	} else {
		// ffplay does not accept ffmpeg-style `-ac`; use `-ch_layout`.
		layout := "mono"
		if cfg.Channels == 2 {
			layout = "stereo"
		}
		cmd = exec.Command(cfg.FFplayPath,
			"-hide_banner",
			"-loglevel", "error",
			"-nostats",
			"-nodisp",
			"-volume", strconv.Itoa(cfg.Volume),
			"-f", "s16le",
			"-ch_layout", layout,
			"-ar", strconv.Itoa(cfg.SampleRate),
			"-i", "-",
		)
		if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
			cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: speaker: stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("ffmpeg: speaker: start: %w", err)
	}
	slog.Debug("ffmpeg: speaker started", "pid", cmd.Process.Pid, "rate", cfg.SampleRate)
	return &Speaker{cmd: cmd, stdin: stdin}, nil
}

// Write implements io.Writer.
func (s *Speaker) Write(p []byte) (int, error) { return s.stdin.Write(p) }

// Close stops the playback process. Idempotent.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return nil
}
