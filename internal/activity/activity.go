// Package activity journals finished live tutor sessions.
//
// A [Record] is written once per session that reached the open state, when
// that session ends. Two [Store] implementations are provided: [MemoryStore]
// for tests and single-process use, and [PostgresStore] backed by an
// activity_log table. [Spooled] puts a circuit breaker and an in-memory spool
// in front of another store so a database outage does not lose records.
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActivityLiveTutor is the activity name recorded for live tutor sessions.
const ActivityLiveTutor = "english-tutor-live"

// Record summarises one finished session.
type Record struct {
	// ID uniquely identifies the session.
	ID uuid.UUID

	// Activity names the kind of session, usually [ActivityLiveTutor].
	Activity string

	// NativeLanguage is the learner's declared native language.
	NativeLanguage string

	// Provider is the live backend name, e.g. "gemini-live".
	Provider string

	StartedAt time.Time
	EndedAt   time.Time

	// BlocksSent and FramesSent count outbound audio blocks and camera frames.
	BlocksSent int64
	FramesSent int64

	// ChunksPlayed counts inbound audio chunks scheduled for playback.
	ChunksPlayed int64

	// Interruptions counts barge-in flushes.
	Interruptions int64

	// EndState is the controller state the session ended in ("closed" or
	// "error").
	EndState string

	// Error is the user-facing error message when EndState is "error".
	Error string
}

// Duration returns how long the session lasted.
func (r Record) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Store persists session records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save writes r. Saving an ID twice overwrites the earlier record.
	Save(ctx context.Context, r Record) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
}
