// Package live defines the Provider interface for duplex live-conversation
// backends.
//
// A live provider wraps a real-time multimodal model that accepts a continuous
// stream of microphone audio (and optionally camera frames) and answers with
// synthesised speech in a single stateful session. Examples include the Gemini
// Live API and the OpenAI Realtime API.
//
// The central abstraction is [Session]: a bidirectional channel over which the
// caller pushes [Blob] values and receives typed [Message] values. Sessions are
// long-lived (seconds to minutes) and are never reconnected automatically.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

var (
	// ErrSessionClosed is returned by Send after the session has been closed
	// locally or by the remote end.
	ErrSessionClosed = errors.New("live: session closed")

	// ErrUnsupportedMedia is returned by Send for a MIME type the provider
	// cannot forward.
	ErrUnsupportedMedia = errors.New("live: unsupported media type")
)

// Modality is a response modality requested from the model.
type Modality string

// ModalityAudio requests spoken audio responses.
const ModalityAudio Modality = "AUDIO"

// Blob is an outbound media payload: a MIME type and base64-encoded data.
// Audio blobs use "audio/pcm;rate=16000"; camera frames use "image/jpeg".
type Blob struct {
	MIMEType string
	Data     string
}

// MessageKind discriminates inbound [Message] values.
type MessageKind int

const (
	// MessageAudio carries a base64 PCM16 payload in [Message.Audio].
	MessageAudio MessageKind = iota + 1

	// MessageInterrupted signals that the user started speaking while the
	// model was still talking (barge-in). Queued playback must be discarded.
	MessageInterrupted

	// MessageTranscript carries a text fragment in [Message.Transcript].
	MessageTranscript

	// MessageTurnComplete marks the end of a model turn.
	MessageTurnComplete

	// MessageClosed reports an orderly remote close. No further messages follow.
	MessageClosed
)

// String returns a lower-case name for k.
func (k MessageKind) String() string {
	switch k {
	case MessageAudio:
		return "audio"
	case MessageInterrupted:
		return "interrupted"
	case MessageTranscript:
		return "transcript"
	case MessageTurnComplete:
		return "turn_complete"
	case MessageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Speaker identifies who a transcript fragment belongs to.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Transcript is a recognised or generated text fragment.
type Transcript struct {
	Speaker Speaker
	Text    string
}

// Message is a single inbound event from the live session.
type Message struct {
	Kind MessageKind

	// Audio is the base64-encoded 16-bit little-endian PCM payload for
	// MessageAudio. The layout is described by the provider's
	// [Capabilities.OutputSampleRate] and [Capabilities.OutputChannels].
	Audio string

	// Transcript is set for MessageTranscript.
	Transcript Transcript
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Model is the provider model identifier.
	Model string

	// Voice is the prebuilt voice name used for speech output.
	Voice string

	// Instructions is the system instruction for the whole session.
	Instructions string

	// Modalities lists the requested response modalities. Defaults to audio.
	Modalities []Modality
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// InputSampleRate is the microphone rate the provider expects in Hz.
	InputSampleRate int

	// OutputSampleRate is the rate of inbound audio payloads in Hz.
	OutputSampleRate int

	// OutputChannels is the channel count of inbound audio payloads.
	OutputChannels int

	// SupportsImages reports whether "image/jpeg" blobs are accepted.
	SupportsImages bool

	// Voices lists the prebuilt voices the provider offers.
	Voices []string
}

// Session is an open live session. It is an interface so that test code can
// supply mock implementations without a network connection.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// Send forwards a media blob to the model. It must not be called from the
	// audio capture thread directly; callers queue blobs and send from their
	// own goroutine. Returns [ErrSessionClosed] after close.
	Send(ctx context.Context, blob Blob) error

	// Messages returns the inbound message stream. The channel is closed when
	// the session ends; after that, Err reports why.
	Messages() <-chan Message

	// Err returns the error that ended the session, or nil if it ended cleanly
	// or is still running.
	Err() error

	// Close terminates the session and closes the Messages channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect establishes a session and returns once the remote end has
	// confirmed it is ready to receive media. Cancelling ctx aborts the
	// handshake.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
