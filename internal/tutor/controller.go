// Package tutor implements the live tutor session controller.
//
// A [Controller] owns exactly one live session at a time together with every
// resource the session needs: the capture and playback audio clocks, the
// microphone and camera tracks, the capture pipeline, the frame sampler and
// the playback scheduler. It drives them through an explicit state machine:
//
//	Idle → Connecting → Open → Closed
//	          │          │
//	          └──────────┴────→ Error
//
// Every goroutine started for a session holds a pointer to that session and
// checks it against the controller's current session under the lock before
// touching shared state, so late results from a torn-down session are
// dropped. The controller never reconnects on its own.
package tutor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skillpath/livetutor/internal/activity"
	"github.com/skillpath/livetutor/internal/observe"
	"github.com/skillpath/livetutor/pkg/audio"
	"github.com/skillpath/livetutor/pkg/audio/capture"
	"github.com/skillpath/livetutor/pkg/audio/playback"
	"github.com/skillpath/livetutor/pkg/media"
	"github.com/skillpath/livetutor/pkg/provider/live"
	"github.com/skillpath/livetutor/pkg/video"
)

const (
	// DefaultCaptureRate is the microphone block rate sent upstream.
	DefaultCaptureRate = 16000

	// DefaultOutputRate is used when the provider does not report one.
	DefaultOutputRate = 24000

	// DefaultQueueSize bounds the outbound blob queue.
	DefaultQueueSize = 64

	journalTimeout = 5 * time.Second
)

// Options holds the dependencies and settings of a [Controller].
type Options struct {
	// Provider opens live sessions. Required.
	Provider live.Provider

	// ProviderName is recorded in the activity journal.
	ProviderName string

	// Devices acquires the microphone and camera. Required.
	Devices media.Devices

	// NewOutput creates the playback clock for a session at rate Hz.
	// Required.
	NewOutput func(rate int) (audio.OutputContext, error)

	// NewInput creates the capture clock for a session at rate Hz. Defaults
	// to [audio.NewInputContext].
	NewInput func(rate int) *audio.InputContext

	// Model and Voice are passed to the provider. Empty values select the
	// provider defaults.
	Model string
	Voice string

	// NativeLanguage parameterises the tutor instructions.
	NativeLanguage string

	// CameraEnabled is the initial camera flag.
	CameraEnabled bool

	// CaptureRate and BlockSize configure the capture pipeline.
	CaptureRate int
	BlockSize   int

	// OutputRate overrides the provider's reported output rate.
	OutputRate int

	// FrameInterval, FrameScale and FrameQuality configure the sampler.
	FrameInterval time.Duration
	FrameScale    float64
	FrameQuality  int

	// QueueSize bounds the outbound queue shared by audio and video.
	QueueSize int

	// Metrics records controller metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Activity, if set, receives a record for every session that opened.
	Activity activity.Store

	// OnTranscript, if set, receives transcription fragments. It runs on the
	// inbound goroutine and must not block or call Disconnect.
	OnTranscript func(live.Transcript)

	// OnLevel, if set, receives the microphone loudness in [0, 1] per block.
	OnLevel func(float64)

	// OnState, if set, is called after every state change with the
	// controller lock held. It must not call back into the Controller.
	OnState func(State)
}

// Snapshot is a read-only view of the controller.
type Snapshot struct {
	State         State  `json:"state"`
	SessionID     string `json:"session_id,omitempty"`
	CameraEnabled bool   `json:"camera_enabled"`

	// Error and ErrorKind describe the last failure while in StateError.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	InputLevel      float64       `json:"input_level"`
	PendingPlayback int           `json:"pending_playback"`
	NextStartTime   time.Duration `json:"next_start_time"`

	BlocksSent    int64 `json:"blocks_sent"`
	FramesSent    int64 `json:"frames_sent"`
	ChunksPlayed  int64 `json:"chunks_played"`
	Interruptions int64 `json:"interruptions"`

	StartedAt time.Time `json:"started_at,omitzero"`
}

// session holds the live handles of one connect attempt.
type session struct {
	id        uuid.UUID
	startedAt time.Time
	log       *slog.Logger
	prefs     Preferences

	ctx        context.Context
	cancel     context.CancelFunc
	cancelDial context.CancelFunc

	live    live.Session
	input   *audio.InputContext
	output  audio.OutputContext
	sched   *playback.Scheduler
	mic     media.AudioTrack
	capture *capture.Pipeline
	camera  media.VideoTrack
	sampler *video.Sampler

	outRate, outChannels int
	images               bool

	outbound   chan live.Blob
	senderDone chan struct{}
	routerDone chan struct{}
	torn       chan struct{}

	opened bool
	endErr *Error

	level         atomic.Uint64
	blocksSent    atomic.Int64
	framesSent    atomic.Int64
	chunksPlayed  atomic.Int64
	interruptions atomic.Int64
}

// Controller drives one live tutor session at a time. All methods are safe
// for concurrent use.
type Controller struct {
	opts    Options
	metrics *observe.Metrics

	mu      sync.Mutex
	state   State
	camera  bool
	lastErr *Error
	sess    *session
	last    *session
	prefs   Preferences
}

// Preferences are the per-session tutor settings that may change between
// sessions without rebuilding the controller.
type Preferences struct {
	Voice          string
	NativeLanguage string
}

// New returns an idle Controller.
func New(opts Options) (*Controller, error) {
	if opts.Provider == nil {
		return nil, errors.New("tutor: provider is required")
	}
	if opts.Devices == nil {
		return nil, errors.New("tutor: devices are required")
	}
	if opts.NewOutput == nil {
		return nil, errors.New("tutor: output factory is required")
	}
	if opts.NewInput == nil {
		opts.NewInput = audio.NewInputContext
	}
	if opts.CaptureRate <= 0 {
		opts.CaptureRate = DefaultCaptureRate
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = capture.DefaultBlockSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.NativeLanguage == "" {
		opts.NativeLanguage = DefaultNativeLanguage
	}
	m := opts.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Controller{
		opts:    opts,
		metrics: m,
		camera:  opts.CameraEnabled,
		prefs:   Preferences{Voice: opts.Voice, NativeLanguage: opts.NativeLanguage},
	}, nil
}

// SetPreferences replaces the voice and native language used by the next
// [Controller.Connect]. A running session keeps the settings it opened with.
// An empty NativeLanguage selects [DefaultNativeLanguage].
func (c *Controller) SetPreferences(p Preferences) {
	if p.NativeLanguage == "" {
		p.NativeLanguage = DefaultNativeLanguage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefs = p
}

// Preferences returns the settings the next session will use.
func (c *Controller) Preferences() Preferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens a live session and starts capture and playback. It blocks
// until the session is open, failed, or was cancelled by [Controller.Disconnect].
// ctx bounds the handshake and device acquisition only; when it ends first,
// Connect returns [ErrDisconnected] and the controller moves to StateClosed.
//
// Connect is only valid from Idle, Closed or Error; otherwise it returns
// [ErrAlreadyActive]. Failures are returned as *[Error] and leave the
// controller in StateError with every resource released.
func (c *Controller) Connect(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "tutor.connect")
	defer span.End()

	err := c.connect(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Controller) connect(ctx context.Context) error {
	started := time.Now()

	c.mu.Lock()
	if c.state.active() {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	s := c.newSessionLocked(ctx)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("livetutor.session_id", s.id.String()))
	s.prefs = c.prefs
	c.sess = s
	c.lastErr = nil
	c.setStateLocked(StateConnecting)
	s.log.Info("tutor: connecting", "provider", c.opts.ProviderName, "native_language", s.prefs.NativeLanguage)

	caps := c.opts.Provider.Capabilities()
	s.outRate = c.opts.OutputRate
	if s.outRate <= 0 {
		s.outRate = caps.OutputSampleRate
	}
	if s.outRate <= 0 {
		s.outRate = DefaultOutputRate
	}
	s.outChannels = max(caps.OutputChannels, 1)
	s.images = caps.SupportsImages

	s.input = c.opts.NewInput(c.opts.CaptureRate)
	out, err := c.opts.NewOutput(s.outRate)
	if err != nil {
		e := newError(KindUnsupported, err)
		c.endLocked(s, StateError, e)
		c.mu.Unlock()
		c.teardown(s, false)
		return e
	}
	s.output = out
	s.sched = playback.New(out)

	dialCtx, cancelDial := context.WithCancel(ctx)
	s.cancelDial = cancelDial
	cfg := live.SessionConfig{
		Model:        c.opts.Model,
		Voice:        s.prefs.Voice,
		Instructions: Instructions(s.prefs.NativeLanguage),
		Modalities:   []live.Modality{live.ModalityAudio},
	}
	c.mu.Unlock()

	// Handshake.
	ls, err := c.opts.Provider.Connect(dialCtx, cfg)

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		if ls != nil {
			_ = ls.Close()
		}
		return s.staleErr()
	}
	if err != nil {
		if ctx.Err() != nil {
			return c.abandonConnectLocked(ctx, s, false)
		}
		e := newError(KindTransport, err)
		c.endLocked(s, StateError, e)
		c.mu.Unlock()
		c.teardown(s, false)
		return e
	}
	s.live = ls
	s.routerDone = make(chan struct{})
	s.senderDone = make(chan struct{})
	go c.route(s)
	go c.send(s)
	s.log.Debug("tutor: live session established")
	c.mu.Unlock()

	// Microphone and capture.
	mic, err := c.opts.Devices.OpenMicrophone(dialCtx)

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		if mic != nil {
			_ = mic.Stop()
		}
		return s.staleErr()
	}
	if mic != nil {
		s.mic = mic
	}
	if ctx.Err() != nil {
		return c.abandonConnectLocked(ctx, s, true)
	}
	if err != nil {
		return c.failConnectLocked(s, classifyDevice(err))
	}
	pipeline, err := capture.Start(s.input, mic, c.audioSink(s),
		capture.WithBlockSize(c.opts.BlockSize),
		capture.WithLevel(c.levelSink(s)),
	)
	if err != nil {
		return c.failConnectLocked(s, newError(KindUnsupported, err))
	}
	s.capture = pipeline
	wantCamera := c.camera && s.images
	if c.camera && !s.images {
		s.log.Info("tutor: provider takes no images, camera not started")
	}
	c.mu.Unlock()

	// Camera and sampler.
	if wantCamera {
		cam, err := c.opts.Devices.OpenCamera(dialCtx)

		c.mu.Lock()
		if c.sess != s {
			c.mu.Unlock()
			if cam != nil {
				_ = cam.Stop()
			}
			return s.staleErr()
		}
		if ctx.Err() != nil {
			if cam != nil {
				s.camera = cam
			}
			return c.abandonConnectLocked(ctx, s, true)
		}
		if err != nil {
			return c.failConnectLocked(s, classifyDevice(err))
		}
		if c.camera {
			c.startSamplerLocked(s, cam)
		} else {
			// Toggled off while the camera was being acquired.
			go stopTrack(s.log, "camera", cam)
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		return s.staleErr()
	}
	s.opened = true
	c.setStateLocked(StateOpen)
	c.metrics.ActiveSessions.Add(context.Background(), 1)
	c.metrics.ConnectDuration.Record(context.Background(), time.Since(started).Seconds())
	s.log.Info("tutor: session open",
		"camera", s.sampler != nil,
		"output_rate", s.outRate,
		"connect_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// Disconnect tears the current session down and moves to StateClosed. It is
// safe to call from any state and any number of times. When it returns every
// resource of the session has been released.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		last := c.last
		c.mu.Unlock()
		if last != nil {
			<-last.torn
		}
		return
	}
	s.log.Info("tutor: disconnecting", "state", c.state)
	c.endLocked(s, StateClosed, nil)
	c.mu.Unlock()
	c.teardown(s, true)
}

// ToggleCamera flips the camera flag. See [Controller.SetCamera].
func (c *Controller) ToggleCamera() error {
	c.mu.Lock()
	next := !c.camera
	c.mu.Unlock()
	return c.SetCamera(next)
}

// SetCamera sets the camera flag. While open, turning the camera off stops
// the sampler and the camera track, and turning it on acquires the camera and
// starts a sampler bound to the current session. In any other state only the
// flag changes. The audio pipeline is never touched.
//
// A camera acquisition failure while open is returned as *[Error] and resets
// the flag; the session stays open. Providers without image input never get
// a camera.
func (c *Controller) SetCamera(enabled bool) error {
	c.mu.Lock()
	if c.camera == enabled {
		c.mu.Unlock()
		return nil
	}
	c.camera = enabled
	s := c.sess
	if c.state != StateOpen || s == nil {
		c.mu.Unlock()
		return nil
	}

	if !enabled {
		sampler, cam := s.sampler, s.camera
		s.sampler, s.camera = nil, nil
		c.mu.Unlock()
		if sampler != nil {
			sampler.Stop()
		}
		stopTrack(s.log, "camera", cam)
		s.log.Info("tutor: camera off")
		return nil
	}
	if s.camera != nil || !s.images {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	cam, err := c.opts.Devices.OpenCamera(s.ctx)

	c.mu.Lock()
	if c.sess != s || !c.camera || s.camera != nil {
		c.mu.Unlock()
		if cam != nil {
			stopTrack(s.log, "camera", cam)
		}
		return nil
	}
	if err != nil {
		c.camera = false
		c.mu.Unlock()
		e := classifyDevice(err)
		s.log.Warn("tutor: camera unavailable", "err", err)
		return e
	}
	c.startSamplerLocked(s, cam)
	c.mu.Unlock()
	s.log.Info("tutor: camera on")
	return nil
}

// Snapshot returns a copy of the controller's observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:         c.state,
		CameraEnabled: c.camera,
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Message
		snap.ErrorKind = c.lastErr.Kind.String()
	}
	s := c.sess
	if s == nil {
		return snap
	}
	snap.SessionID = s.id.String()
	snap.StartedAt = s.startedAt
	snap.InputLevel = math.Float64frombits(s.level.Load())
	if s.sched != nil {
		snap.PendingPlayback = s.sched.Pending()
		snap.NextStartTime = s.sched.NextStartTime()
	}
	snap.BlocksSent = s.blocksSent.Load()
	snap.FramesSent = s.framesSent.Load()
	snap.ChunksPlayed = s.chunksPlayed.Load()
	snap.Interruptions = s.interruptions.Load()
	return snap
}

// ── session lifecycle ─────────────────────────────────────────────────────────

func (c *Controller) newSessionLocked(ctx context.Context) *session {
	id := uuid.New()
	sctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:         id,
		startedAt:  time.Now().UTC(),
		log:        observe.SessionLogger(ctx, id.String()),
		ctx:        sctx,
		cancel:     cancel,
		cancelDial: func() {},
		outbound:   make(chan live.Blob, c.opts.QueueSize),
		torn:       make(chan struct{}),
	}
}

func (c *Controller) setStateLocked(st State) {
	c.state = st
	if c.opts.OnState != nil {
		c.opts.OnState(st)
	}
}

// endLocked detaches s from the controller and records the final state. The
// caller must run teardown after releasing the lock.
func (c *Controller) endLocked(s *session, st State, e *Error) {
	c.sess = nil
	c.last = s
	c.lastErr = e
	s.endErr = e
	c.setStateLocked(st)
	if s.opened {
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	if e != nil {
		c.metrics.RecordSessionError(context.Background(), e.Kind.String())
		s.log.Error("tutor: session failed", "kind", e.Kind, "err", e.Err)
	}
}

// failConnectLocked ends s with e, releases the lock and tears down.
func (c *Controller) failConnectLocked(s *session, e *Error) error {
	c.endLocked(s, StateError, e)
	c.mu.Unlock()
	c.teardown(s, true)
	return e
}

// abandonConnectLocked ends s as closed because the caller's context ended
// while Connect was suspended. It releases the lock and tears down.
func (c *Controller) abandonConnectLocked(ctx context.Context, s *session, waitRouter bool) error {
	s.log.Info("tutor: connect abandoned", "err", context.Cause(ctx))
	c.endLocked(s, StateClosed, nil)
	c.mu.Unlock()
	c.teardown(s, waitRouter)
	return ErrDisconnected
}

func (s *session) staleErr() error {
	if s.endErr != nil {
		return s.endErr
	}
	return ErrDisconnected
}

// teardown releases every handle of a detached session in a fixed order.
// Secondary errors are logged and never stop the remaining steps.
func (c *Controller) teardown(s *session, waitRouter bool) {
	defer close(s.torn)

	s.cancelDial()
	s.cancel()

	if s.sampler != nil {
		s.sampler.Stop()
	}
	if s.capture != nil {
		s.capture.Stop()
	}
	if s.mic != nil {
		stopTrack(s.log, "microphone", s.mic)
	}
	if s.camera != nil {
		stopTrack(s.log, "camera", s.camera)
	}
	if s.sched != nil {
		if n := s.sched.Interrupt(); n > 0 {
			s.log.Debug("tutor: playback flushed", "voices", n)
		}
	}
	if s.output != nil {
		if err := s.output.Close(); err != nil {
			s.log.Warn("tutor: close output", "err", err)
		}
	}
	if s.input != nil {
		if err := s.input.Close(); err != nil {
			s.log.Warn("tutor: close input", "err", err)
		}
	}
	if s.live != nil {
		if err := s.live.Close(); err != nil {
			s.log.Warn("tutor: close live session", "err", err)
		}
	}
	if s.senderDone != nil {
		<-s.senderDone
	}
	if waitRouter && s.routerDone != nil {
		<-s.routerDone
	}

	c.journal(s)
	s.log.Info("tutor: session ended",
		"blocks_sent", s.blocksSent.Load(),
		"frames_sent", s.framesSent.Load(),
		"chunks_played", s.chunksPlayed.Load(),
	)
}

func (c *Controller) journal(s *session) {
	if c.opts.Activity == nil || !s.opened {
		return
	}
	rec := activity.Record{
		ID:             s.id,
		Activity:       activity.ActivityLiveTutor,
		NativeLanguage: s.prefs.NativeLanguage,
		Provider:       c.opts.ProviderName,
		StartedAt:      s.startedAt,
		EndedAt:        time.Now().UTC(),
		BlocksSent:     s.blocksSent.Load(),
		FramesSent:     s.framesSent.Load(),
		ChunksPlayed:   s.chunksPlayed.Load(),
		Interruptions:  s.interruptions.Load(),
		EndState:       StateClosed.String(),
	}
	if s.endErr != nil {
		rec.EndState = StateError.String()
		rec.Error = s.endErr.Message
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := c.opts.Activity.Save(ctx, rec); err != nil {
		s.log.Warn("tutor: journal session", "err", err)
	}
}

func stopTrack(log *slog.Logger, name string, t interface{ Stop() error }) {
	if t == nil {
		return
	}
	if err := t.Stop(); err != nil {
		log.Warn("tutor: stop track", "track", name, "err", err)
	}
}

// startSamplerLocked binds cam to s and starts its sampling loop.
func (c *Controller) startSamplerLocked(s *session, cam media.VideoTrack) {
	opts := []video.Option{}
	if c.opts.FrameInterval > 0 {
		opts = append(opts, video.WithInterval(c.opts.FrameInterval))
	}
	if c.opts.FrameScale > 0 {
		opts = append(opts, video.WithScale(c.opts.FrameScale))
	}
	if c.opts.FrameQuality > 0 {
		opts = append(opts, video.WithQuality(c.opts.FrameQuality))
	}
	s.camera = cam
	s.sampler = video.New(cam, c.videoSink(s), opts...)
	s.sampler.Start()
}

// ── outbound ──────────────────────────────────────────────────────────────────

// enqueue hands blob to the sender without blocking. A full queue drops the
// blob.
func (c *Controller) enqueue(s *session, blob live.Blob) {
	select {
	case s.outbound <- blob:
	default:
		if strings.HasPrefix(blob.MIMEType, "audio/") {
			c.metrics.AudioBlocksDropped.Add(context.Background(), 1)
		}
		s.log.Debug("tutor: outbound queue full, dropping", "mime", blob.MIMEType)
	}
}

func (c *Controller) audioSink(s *session) capture.Sink {
	return func(b live.Blob) { c.enqueue(s, b) }
}

func (c *Controller) videoSink(s *session) video.Sink {
	return func(b live.Blob) { c.enqueue(s, b) }
}

func (c *Controller) levelSink(s *session) capture.LevelFunc {
	return func(level float64) {
		s.level.Store(math.Float64bits(level))
		if c.opts.OnLevel != nil {
			c.opts.OnLevel(level)
		}
	}
}

// send forwards queued blobs to the live session in order until the session
// context is cancelled.
func (c *Controller) send(s *session) {
	defer close(s.senderDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case blob := <-s.outbound:
			if err := s.live.Send(s.ctx, blob); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				if strings.HasPrefix(blob.MIMEType, "audio/") {
					c.metrics.AudioBlocksDropped.Add(context.Background(), 1)
				}
				s.log.Debug("tutor: send failed", "mime", blob.MIMEType, "err", err)
				continue
			}
			if strings.HasPrefix(blob.MIMEType, "audio/") {
				s.blocksSent.Add(1)
				c.metrics.AudioBlocksSent.Add(context.Background(), 1)
			} else {
				s.framesSent.Add(1)
				c.metrics.VideoFramesSent.Add(context.Background(), 1)
			}
		}
	}
}

// ── inbound ───────────────────────────────────────────────────────────────────

// route dispatches inbound messages of s until its stream closes. Messages
// that arrive after s was detached are drained and ignored.
func (c *Controller) route(s *session) {
	defer close(s.routerDone)
	for msg := range s.live.Messages() {
		c.handle(s, msg)
	}
	c.streamEnded(s)
}

func (c *Controller) handle(s *session, msg live.Message) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}

	switch msg.Kind {
	case live.MessageAudio:
		sc, err := s.sched.EnqueuePayload(msg.Audio, s.outRate, s.outChannels)
		c.mu.Unlock()
		if err != nil {
			c.metrics.DecodeErrors.Add(context.Background(), 1)
			s.log.Warn("tutor: dropping audio payload", "kind", KindDecode, "err", err)
			return
		}
		s.chunksPlayed.Add(1)
		c.metrics.RecordPlayback(context.Background(), sc.Duration.Seconds())
		s.log.Debug("tutor: audio scheduled", "start", sc.StartAt, "duration", sc.Duration)

	case live.MessageInterrupted:
		n := s.sched.Interrupt()
		c.mu.Unlock()
		s.interruptions.Add(1)
		c.metrics.PlaybackInterruptions.Add(context.Background(), 1)
		s.log.Debug("tutor: playback interrupted", "voices", n)

	case live.MessageTranscript:
		fn := c.opts.OnTranscript
		c.mu.Unlock()
		if fn != nil {
			fn(msg.Transcript)
		}

	case live.MessageTurnComplete:
		c.mu.Unlock()
		s.log.Debug("tutor: turn complete")

	case live.MessageClosed:
		s.log.Info("tutor: remote closed session")
		c.endLocked(s, StateClosed, nil)
		c.mu.Unlock()
		c.teardown(s, false)

	default:
		c.mu.Unlock()
		s.log.Debug("tutor: ignoring message", "kind", msg.Kind)
	}
}

// streamEnded handles the inbound stream closing without a close notice.
func (c *Controller) streamEnded(s *session) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	if err := s.live.Err(); err != nil {
		c.endLocked(s, StateError, newError(KindTransport, err))
	} else {
		c.endLocked(s, StateClosed, nil)
	}
	c.mu.Unlock()
	c.teardown(s, false)
}
