// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to script inbound messages and inspect the blobs that were sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(live.Message{Kind: live.MessageAudio, Audio: payload})
//	sess.End(nil) // orderly remote close
package mock

import (
	"context"
	"sync"

	"github.com/skillpath/livetutor/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the Session returned by Connect. If nil, Connect returns a
	// fresh Session per call.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect block until it is closed or the context
	// is cancelled. It simulates a slow handshake.
	Gate chan struct{}

	// ProviderCapabilities is returned by Capabilities. A zero value reports
	// 16 kHz input, 24 kHz mono output and image support.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	sessions []*Session
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	sess := p.Session
	if sess == nil {
		sess = NewSession()
	}
	p.sessions = append(p.sessions, sess)
	return sess, nil
}

// Capabilities returns ProviderCapabilities, or the defaults if unset.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderCapabilities.OutputSampleRate == 0 {
		return live.Capabilities{
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
			OutputChannels:   1,
			SupportsImages:   true,
		}
	}
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Sessions returns every session handed out by Connect, in order.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Session is a mock implementation of live.Session.
type Session struct {
	mu sync.Mutex

	messages chan live.Message
	ended    bool
	err      error
	closed   bool
	sent     []live.Blob

	// SendErr, if non-nil, is returned by Send.
	SendErr error

	// CloseCount is the number of times Close was called.
	CloseCount int

	// notify receives a value after every successful Send.
	notify chan struct{}
}

// Ensure Session implements live.Session at compile time.
var _ live.Session = (*Session)(nil)

// NewSession returns an open mock session with a buffered message stream.
func NewSession() *Session {
	return &Session{
		messages: make(chan live.Message, 64),
		notify:   make(chan struct{}, 1024),
	}
}

// Send records blob. It fails with live.ErrSessionClosed after Close or End.
func (s *Session) Send(_ context.Context, blob live.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ended {
		return live.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, blob)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Messages implements live.Session.
func (s *Session) Messages() <-chan live.Message { return s.messages }

// Err implements live.Session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements live.Session. It closes the message stream if End has
// not already done so.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	if s.closed {
		return nil
	}
	s.closed = true
	s.finishLocked()
	return nil
}

// Push delivers msg on the inbound stream. It is a no-op once the session
// has ended or been closed.
func (s *Session) Push(msg live.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.closed {
		return
	}
	s.messages <- msg
}

// End terminates the inbound stream from the remote side. A nil err emits
// live.MessageClosed first, like an orderly remote close; a non-nil err is
// reported by Err.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.closed {
		return
	}
	if err == nil {
		s.messages <- live.Message{Kind: live.MessageClosed}
	}
	s.err = err
	s.finishLocked()
}

func (s *Session) finishLocked() {
	if s.ended {
		return
	}
	s.ended = true
	close(s.messages)
}

// Sent returns a copy of the blobs recorded by Send.
func (s *Session) Sent() []live.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]live.Blob, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentByType returns the blobs whose MIME type equals mimeType.
func (s *Session) SentByType(mimeType string) []live.Blob {
	var out []live.Blob
	for _, b := range s.Sent() {
		if b.MIMEType == mimeType {
			out = append(out, b)
		}
	}
	return out
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SendNotify returns a channel that receives a value after each successful
// Send.
func (s *Session) SendNotify() <-chan struct{} { return s.notify }
