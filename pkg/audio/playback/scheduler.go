// Package playback schedules decoded model audio on an [audio.OutputContext]
// so that consecutive chunks play back to back.
//
// The [Scheduler] keeps a cursor, the next start time. Each enqueued buffer
// starts at max(cursor, now) and advances the cursor by its duration, which
// yields gapless, non-overlapping playback for chunks arriving in order at
// irregular intervals. The scheduler never reorders. On barge-in,
// [Scheduler.Interrupt] hard-stops everything that has been scheduled and
// resets the cursor to zero.
//
// All methods are safe for concurrent use.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skillpath/livetutor/pkg/audio"
)

var (
	// ErrDecode wraps failures to turn an inbound payload into a playable
	// buffer. A decode failure never changes the scheduler state.
	ErrDecode = errors.New("playback: decode payload")

	// ErrEmptyBuffer is returned when a buffer with no frames is enqueued.
	ErrEmptyBuffer = errors.New("playback: empty buffer")
)

// Scheduled describes a buffer that has been placed on the output clock.
type Scheduled struct {
	// ID identifies the buffer within the active set.
	ID uint64

	// StartAt is the output clock time at which playback begins.
	StartAt time.Duration

	// Duration is the buffer length.
	Duration time.Duration
}

// End returns the output clock time at which the buffer finishes.
func (s Scheduled) End() time.Duration { return s.StartAt + s.Duration }

// Scheduler lays decoded buffers end to end on an output clock.
type Scheduler struct {
	out audio.OutputContext

	mu     sync.Mutex
	next   time.Duration
	epoch  uint64 // bumped on every interrupt; stale completions are ignored
	seq    uint64
	active map[uint64]audio.Voice
}

// New returns a Scheduler that plays on out. The cursor starts at zero.
func New(out audio.OutputContext) *Scheduler {
	return &Scheduler{
		out:    out,
		active: make(map[uint64]audio.Voice),
	}
}

// Enqueue schedules buf to play immediately after everything already
// scheduled, or now if the cursor lies in the past.
func (s *Scheduler) Enqueue(buf *audio.Buffer) (Scheduled, error) {
	if buf.Frames() == 0 {
		return Scheduled{}, ErrEmptyBuffer
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	startAt := max(s.next, s.out.CurrentTime())
	s.seq++
	id, epoch := s.seq, s.epoch

	voice, err := s.out.Start(buf, startAt, func() { s.ended(id, epoch) })
	if err != nil {
		return Scheduled{}, fmt.Errorf("playback: start buffer: %w", err)
	}

	d := buf.Duration()
	s.next = startAt + d
	s.active[id] = voice
	return Scheduled{ID: id, StartAt: startAt, Duration: d}, nil
}

// EnqueuePayload decodes a base64 PCM16 payload with the given layout and
// enqueues it. Malformed payloads are reported wrapped in [ErrDecode] and
// leave the cursor and the active set untouched.
func (s *Scheduler) EnqueuePayload(payload string, sampleRate, channels int) (Scheduled, error) {
	raw, err := audio.DecodeBase64(payload)
	if err != nil {
		return Scheduled{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	buf, err := audio.DecodeAudioData(raw, sampleRate, channels)
	if err != nil {
		return Scheduled{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if buf.Frames() == 0 {
		return Scheduled{}, fmt.Errorf("%w: %w", ErrDecode, ErrEmptyBuffer)
	}
	return s.Enqueue(buf)
}

// Interrupt stops every scheduled buffer, empties the active set and resets
// the cursor to zero. It returns the number of buffers that were stopped.
// Completions that race with the interrupt are discarded.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	voices := make([]audio.Voice, 0, len(s.active))
	for _, v := range s.active {
		voices = append(voices, v)
	}
	clear(s.active)
	s.next = 0
	s.epoch++
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if len(voices) > 0 {
		slog.Debug("playback interrupted", "stopped", len(voices))
	}
	return len(voices)
}

// Reset discards all scheduled audio. It is used on teardown and behaves
// exactly like [Scheduler.Interrupt].
func (s *Scheduler) Reset() { s.Interrupt() }

// Pending returns the number of buffers scheduled but not yet finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStartTime returns the cursor. Zero means unset.
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// ended removes a naturally finished buffer from the active set.
func (s *Scheduler) ended(id, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	delete(s.active, id)
}
