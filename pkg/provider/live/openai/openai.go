// Package openai implements the live.Provider interface for OpenAI's Realtime
// API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// The API runs PCM16 at 24 kHz in both directions, so microphone blobs
// captured at a lower rate are resampled before they are appended to the
// input buffer. Camera frames are not supported.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/skillpath/livetutor/pkg/audio"
	"github.com/skillpath/livetutor/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// apiSampleRate is the fixed pcm16 rate of the Realtime API.
	apiSampleRate = 24000

	defaultTranscriptionModel = "whisper-1"

	messageBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions when the session config
// does not name one.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithTranscriptionModel sets the model used for input audio transcription.
// An empty string disables user transcripts.
func WithTranscriptionModel(model string) Option {
	return func(p *Provider) { p.transcriptionModel = model }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey             string
	model              string
	baseURL            string
	transcriptionModel string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:             apiKey,
		model:              defaultModel,
		baseURL:            defaultBaseURL,
		transcriptionModel: defaultTranscriptionModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		InputSampleRate:  apiSampleRate,
		OutputSampleRate: apiSampleRate,
		OutputChannels:   1,
		SupportsImages:   false,
		Voices:           []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect establishes a new OpenAI Realtime session with the given
// configuration. It returns once the server has acknowledged the
// session.update event.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(-1)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		messages: make(chan live.Message, messageBuffer),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	fail := func(step string, err error) (live.Session, error) {
		sessCancel()
		conn.Close(websocket.StatusNormalClosure, step+" failed")
		return nil, fmt.Errorf("openai: %s: %w", step, err)
	}

	if err := sess.await(ctx, "session.created"); err != nil {
		return fail("session create", err)
	}
	if err := sess.writeJSON(ctx, p.sessionUpdate(cfg)); err != nil {
		return fail("session update", err)
	}
	if err := sess.await(ctx, "session.updated"); err != nil {
		return fail("session update", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string           `json:"modalities,omitempty"`
	Voice                   string             `json:"voice,omitempty"`
	Instructions            string             `json:"instructions,omitempty"`
	InputAudioFormat        string             `json:"input_audio_format"`
	OutputAudioFormat       string             `json:"output_audio_format"`
	InputAudioTranscription *transcriptionConf `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection     `json:"turn_detection,omitempty"`
}

type transcriptionConf struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (d *serverErrorDetail) err() error {
	msg := "unknown error"
	if d != nil && d.Message != "" {
		msg = d.Message
	}
	return fmt.Errorf("openai: server error: %s", msg)
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done /
	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// sessionUpdate builds the session.update event for cfg.
func (p *Provider) sessionUpdate(cfg live.SessionConfig) sessionUpdateMessage {
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if p.transcriptionModel != "" {
		params.InputAudioTranscription = &transcriptionConf{Model: p.transcriptionModel}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn     *websocket.Conn
	messages chan live.Message

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// await reads events until one of type want arrives. An error event aborts.
func (s *session) await(ctx context.Context, want string) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case want:
			return nil
		case "error":
			return evt.Error.err()
		}
	}
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the messages channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.emit(live.Message{Kind: live.MessageClosed})
				return
			}
			s.setErr(fmt.Errorf("openai: read: %w", err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		if !s.handleServerEvent(&evt) {
			return
		}
	}
}

// handleServerEvent translates evt into zero or one messages. It returns false
// if the session ended while emitting.
func (s *session) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return true
		}
		return s.emit(live.Message{Kind: live.MessageAudio, Audio: evt.Delta})

	case "input_audio_buffer.speech_started":
		return s.emit(live.Message{Kind: live.MessageInterrupted})

	case "response.audio_transcript.done":
		if evt.Transcript == "" {
			return true
		}
		return s.emitTranscript(live.SpeakerModel, evt.Transcript)

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return true
		}
		return s.emitTranscript(live.SpeakerUser, evt.Transcript)

	case "response.done":
		return s.emit(live.Message{Kind: live.MessageTurnComplete})

	case "error":
		// Realtime error events describe a rejected client event; the session
		// stays usable.
		slog.Warn("openai: server error event", "err", evt.Error.err())
	}
	return true
}

func (s *session) emitTranscript(speaker live.Speaker, text string) bool {
	return s.emit(live.Message{
		Kind:       live.MessageTranscript,
		Transcript: live.Transcript{Speaker: speaker, Text: text},
	})
}

func (s *session) emit(msg live.Message) bool {
	select {
	case s.messages <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.messages)
	})
}

// pcmRate extracts the rate parameter from an "audio/pcm;rate=N" MIME type.
// A bare "audio/pcm" is taken to be at the API rate.
func pcmRate(mimeType string) (int, bool) {
	base, params, _ := strings.Cut(mimeType, ";")
	if strings.TrimSpace(base) != "audio/pcm" {
		return 0, false
	}
	if params == "" {
		return apiSampleRate, true
	}
	for _, kv := range strings.Split(params, ";") {
		k, v, _ := strings.Cut(strings.TrimSpace(kv), "=")
		if k != "rate" {
			continue
		}
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return 0, false
		}
		return rate, true
	}
	return apiSampleRate, true
}

// ── live.Session methods ──────────────────────────────────────────────────────

// Send appends a microphone chunk to the input audio buffer. Only PCM audio is
// accepted.
func (s *session) Send(ctx context.Context, blob live.Blob) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return live.ErrSessionClosed
	}
	s.mu.Unlock()

	rate, ok := pcmRate(blob.MIMEType)
	if !ok {
		return fmt.Errorf("openai: %w: %q", live.ErrUnsupportedMedia, blob.MIMEType)
	}

	payload := blob.Data
	if rate != apiSampleRate {
		pcm, err := base64.StdEncoding.DecodeString(blob.Data)
		if err != nil {
			return fmt.Errorf("openai: decode blob: %w", err)
		}
		payload = base64.StdEncoding.EncodeToString(audio.ResampleMono16(pcm, rate, apiSampleRate))
	}

	if err := s.writeJSON(ctx, appendAudioMessage{Type: "input_audio_buffer.append", Audio: payload}); err != nil {
		if s.ctx.Err() != nil {
			return live.ErrSessionClosed
		}
		return fmt.Errorf("openai: send: %w", err)
	}
	return nil
}

// Messages returns the channel on which inbound events arrive.
func (s *session) Messages() <-chan live.Message { return s.messages }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.conn.Close(websocket.StatusNormalClosure, "session closed")
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("openai: close", "err", err)
	}
	return nil
}
