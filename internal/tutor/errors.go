package tutor

import (
	"errors"
	"fmt"

	"github.com/skillpath/livetutor/pkg/media"
)

var (
	// ErrAlreadyActive is returned by Connect while a session is connecting
	// or open.
	ErrAlreadyActive = errors.New("tutor: session already active")

	// ErrDisconnected is returned by Connect when Disconnect was called
	// before the session finished opening.
	ErrDisconnected = errors.New("tutor: disconnected while connecting")
)

// Kind classifies session failures.
type Kind int

const (
	// KindPermission means microphone or camera access was denied.
	KindPermission Kind = iota + 1

	// KindUnsupported means the platform cannot capture or play audio.
	KindUnsupported

	// KindTransport means the live session failed to open or dropped.
	KindTransport

	// KindDecode means an inbound payload could not be decoded. Decode
	// failures are dropped per payload and never end a session.
	KindDecode
)

// String returns the lower-case kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindUnsupported:
		return "unsupported"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// User-facing messages per kind.
const (
	MessagePermission  = "Microphone or camera access denied. Please allow permissions."
	MessageUnsupported = "Your platform does not support live audio capture."
	MessageTransport   = "Connection lost, please reconnect."
	MessageDecode      = "Received audio could not be played."
)

// Error is a classified session failure. Message is safe to show to the
// learner; Err carries the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "tutor: " + e.Message
	}
	return fmt.Sprintf("tutor: %s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	msg := MessageTransport
	switch kind {
	case KindPermission:
		msg = MessagePermission
	case KindUnsupported:
		msg = MessageUnsupported
	case KindDecode:
		msg = MessageDecode
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// classifyDevice maps a device acquisition failure to an Error. Only an
// explicit denial is a permission failure; a device that is missing, busy or
// silent is reported as unsupported.
func classifyDevice(err error) *Error {
	if errors.Is(err, media.ErrPermissionDenied) {
		return newError(KindPermission, err)
	}
	return newError(KindUnsupported, err)
}

// KindOf returns the Kind of err if it wraps an *Error, or zero.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
