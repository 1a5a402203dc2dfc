package tutor_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/skillpath/livetutor/internal/activity"
	"github.com/skillpath/livetutor/internal/observe"
	"github.com/skillpath/livetutor/internal/tutor"
	"github.com/skillpath/livetutor/pkg/audio"
	audiomock "github.com/skillpath/livetutor/pkg/audio/mock"
	"github.com/skillpath/livetutor/pkg/media"
	mediamock "github.com/skillpath/livetutor/pkg/media/mock"
	"github.com/skillpath/livetutor/pkg/provider/live"
	livemock "github.com/skillpath/livetutor/pkg/provider/live/mock"
)

// ── helpers ───────────────────────────────────────────────────────────────────

type harness struct {
	provider *livemock.Provider
	devices  *mediamock.Devices
	store    *activity.MemoryStore
	ctl      *tutor.Controller

	mu        sync.Mutex
	outputs   []*audiomock.Output
	outputErr error
}

func newHarness(t *testing.T, edit ...func(*tutor.Options)) *harness {
	t.Helper()

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{
		provider: &livemock.Provider{},
		devices:  &mediamock.Devices{},
		store:    &activity.MemoryStore{},
	}
	opts := tutor.Options{
		Provider:       h.provider,
		ProviderName:   "mock",
		Devices:        h.devices,
		NewOutput:      h.newOutput,
		Voice:          "Puck",
		NativeLanguage: "Hindi",
		FrameInterval:  10 * time.Millisecond,
		Metrics:        metrics,
		Activity:       h.store,
	}
	for _, fn := range edit {
		fn(&opts)
	}
	ctl, err := tutor.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.ctl = ctl
	t.Cleanup(ctl.Disconnect)
	return h
}

func (h *harness) newOutput(rate int) (audio.OutputContext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outputErr != nil {
		return nil, h.outputErr
	}
	out := audiomock.NewOutput(rate)
	h.outputs = append(h.outputs, out)
	return out, nil
}

// output returns the most recently created playback clock.
func (h *harness) output(t *testing.T) *audiomock.Output {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.outputs) == 0 {
		t.Fatal("no output context was created")
	}
	return h.outputs[len(h.outputs)-1]
}

// session returns the most recently opened live session.
func (h *harness) session(t *testing.T) *livemock.Session {
	t.Helper()
	sessions := h.provider.Sessions()
	if len(sessions) == 0 {
		t.Fatal("no live session was opened")
	}
	return sessions[len(sessions)-1]
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.ctl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := h.ctl.State(); got != tutor.StateOpen {
		t.Fatalf("State = %v, want open", got)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// payload returns a base64 PCM16 payload of frames mono samples at 24 kHz.
func payload(frames int) string {
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = 0.1
	}
	_, data := audio.EncodeBase64(samples, 24000)
	return data
}

func audioMessage(frames int) live.Message {
	return live.Message{Kind: live.MessageAudio, Audio: payload(frames)}
}

func block(n int, v float32) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return samples
}

var pcmMIME = audio.PCMMIMEType(16000)

// ── end to end ────────────────────────────────────────────────────────────────

func TestController_EndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(o *tutor.Options) {
		o.CameraEnabled = true
		o.FrameInterval = time.Hour
	})
	h.connect(t)
	sess := h.session(t)

	if err := h.ctl.ToggleCamera(); err != nil {
		t.Fatalf("ToggleCamera: %v", err)
	}
	if h.ctl.Snapshot().CameraEnabled {
		t.Fatal("camera still enabled after toggle")
	}

	mic := h.devices.LastMicrophone()
	mic.Feed(block(5*4096, 0.1))
	waitFor(t, "5 audio blocks sent", func() bool {
		return len(sess.SentByType(pcmMIME)) == 5
	})

	out := h.output(t)
	t0 := 2 * time.Second
	out.SetTime(t0)
	for _, frames := range []int{12000, 7200, 9600} {
		sess.Push(audioMessage(frames))
	}
	waitFor(t, "3 buffers scheduled", func() bool { return h.ctl.Snapshot().ChunksPlayed == 3 })

	want := []time.Duration{t0, t0 + 500*time.Millisecond, t0 + 800*time.Millisecond}
	for i, call := range out.StartCalls() {
		if call.At != want[i] {
			t.Errorf("start[%d] = %v, want %v", i, call.At, want[i])
		}
	}

	snap := h.ctl.Snapshot()
	if snap.ChunksPlayed != 3 || snap.PendingPlayback != 3 {
		t.Errorf("snapshot = %+v, want 3 chunks pending", snap)
	}
	if snap.NextStartTime != t0+1200*time.Millisecond {
		t.Errorf("NextStartTime = %v, want %v", snap.NextStartTime, t0+1200*time.Millisecond)
	}

	h.ctl.Disconnect()

	if got := len(sess.SentByType("image/jpeg")); got != 0 {
		t.Errorf("frames sent = %d, want 0", got)
	}
	if got := len(sess.SentByType(pcmMIME)); got != 5 {
		t.Errorf("audio blocks sent = %d, want 5", got)
	}

	after := h.ctl.Snapshot()
	if after.State != tutor.StateClosed {
		t.Errorf("State = %v, want closed", after.State)
	}
	if after.SessionID != "" || after.PendingPlayback != 0 || after.NextStartTime != 0 {
		t.Errorf("snapshot after disconnect not reset: %+v", after)
	}
	if out.Active() != 0 || !out.Closed() {
		t.Errorf("output active=%d closed=%v, want 0 and closed", out.Active(), out.Closed())
	}
	if !mic.Stopped() {
		t.Error("microphone not stopped")
	}
	for i, cam := range h.devices.Cameras() {
		if !cam.Stopped() {
			t.Errorf("camera %d not stopped", i)
		}
	}
	if !sess.Closed() {
		t.Error("live session not closed")
	}

	records, _ := h.store.Recent(context.Background(), 0)
	if len(records) != 1 {
		t.Fatalf("activity records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.BlocksSent != 5 || rec.ChunksPlayed != 3 || rec.FramesSent != 0 {
		t.Errorf("record counters = %+v", rec)
	}
	if rec.EndState != "closed" || rec.NativeLanguage != "Hindi" || rec.Activity != activity.ActivityLiveTutor {
		t.Errorf("record = %+v", rec)
	}
}

// ── connect ───────────────────────────────────────────────────────────────────

func TestConnect_SessionConfig(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(o *tutor.Options) { o.Model = "models/tutor" })
	h.connect(t)

	calls := h.provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("Connect calls = %d, want 1", len(calls))
	}
	cfg := calls[0].Cfg
	if cfg.Model != "models/tutor" || cfg.Voice != "Puck" {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Modalities) != 1 || cfg.Modalities[0] != live.ModalityAudio {
		t.Errorf("Modalities = %v, want [AUDIO]", cfg.Modalities)
	}
	if !strings.Contains(cfg.Instructions, "Hindi") {
		t.Errorf("Instructions do not mention the native language:\n%s", cfg.Instructions)
	}
	if got := h.output(t).SampleRate(); got != 24000 {
		t.Errorf("output rate = %d, want 24000", got)
	}
	if snap := h.ctl.Snapshot(); snap.SessionID == "" || snap.StartedAt.IsZero() {
		t.Errorf("snapshot missing session identity: %+v", snap)
	}
}

func TestConnect_PreferencesApplyToNextSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)

	h.ctl.SetPreferences(tutor.Preferences{Voice: "Kore", NativeLanguage: "French"})
	if got := h.provider.Calls()[0].Cfg.Voice; got != "Puck" {
		t.Errorf("running session voice = %q, want Puck", got)
	}

	h.ctl.Disconnect()
	h.connect(t)

	calls := h.provider.Calls()
	if len(calls) != 2 {
		t.Fatalf("Connect calls = %d, want 2", len(calls))
	}
	cfg := calls[1].Cfg
	if cfg.Voice != "Kore" || !strings.Contains(cfg.Instructions, "French") {
		t.Errorf("second session cfg = %+v", cfg)
	}

	h.ctl.Disconnect()
	recs, err := h.store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 || recs[0].NativeLanguage != "French" || recs[1].NativeLanguage != "Hindi" {
		t.Errorf("journal languages = %+v", recs)
	}

	h.ctl.SetPreferences(tutor.Preferences{})
	if got := h.ctl.Preferences().NativeLanguage; got != tutor.DefaultNativeLanguage {
		t.Errorf("empty language = %q, want %q", got, tutor.DefaultNativeLanguage)
	}
}

func TestConnect_AlreadyActive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)
	if err := h.ctl.Connect(context.Background()); !errors.Is(err, tutor.ErrAlreadyActive) {
		t.Fatalf("second Connect err = %v, want ErrAlreadyActive", err)
	}
	if got := len(h.provider.Calls()); got != 1 {
		t.Errorf("Connect calls = %d, want 1", got)
	}
}

func TestConnect_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		setup    func(h *harness)
		wantKind tutor.Kind
		wantMsg  string
	}{
		{
			name: "microphone denied",
			setup: func(h *harness) {
				h.devices.MicErr = fmt.Errorf("ffmpeg: microphone: %w", media.ErrPermissionDenied)
			},
			wantKind: tutor.KindPermission,
			wantMsg:  tutor.MessagePermission,
		},
		{
			name:     "no capture support",
			setup:    func(h *harness) { h.devices.MicErr = media.ErrUnsupported },
			wantKind: tutor.KindUnsupported,
			wantMsg:  tutor.MessageUnsupported,
		},
		{
			name:     "handshake failed",
			setup:    func(h *harness) { h.provider.ConnectErr = errors.New("dial: connection refused") },
			wantKind: tutor.KindTransport,
			wantMsg:  tutor.MessageTransport,
		},
		{
			name:     "no output device",
			setup:    func(h *harness) { h.outputErr = errors.New("ffplay not found") },
			wantKind: tutor.KindUnsupported,
			wantMsg:  tutor.MessageUnsupported,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			tc.setup(h)

			err := h.ctl.Connect(context.Background())
			var terr *tutor.Error
			if !errors.As(err, &terr) {
				t.Fatalf("Connect err = %v, want *tutor.Error", err)
			}
			if terr.Kind != tc.wantKind || terr.Message != tc.wantMsg {
				t.Errorf("error = {%v %q}, want {%v %q}", terr.Kind, terr.Message, tc.wantKind, tc.wantMsg)
			}
			if tutor.KindOf(err) != tc.wantKind {
				t.Errorf("KindOf = %v, want %v", tutor.KindOf(err), tc.wantKind)
			}

			snap := h.ctl.Snapshot()
			if snap.State != tutor.StateError || snap.Error != tc.wantMsg || snap.ErrorKind != tc.wantKind.String() {
				t.Errorf("snapshot = %+v", snap)
			}
			for _, s := range h.provider.Sessions() {
				if !s.Closed() {
					t.Error("live session left open")
				}
			}
			h.mu.Lock()
			outputs := h.outputs
			h.mu.Unlock()
			for _, out := range outputs {
				if !out.Closed() {
					t.Error("output context left open")
				}
			}
			if recs, _ := h.store.Recent(context.Background(), 0); len(recs) != 0 {
				t.Errorf("journaled %d records for a session that never opened", len(recs))
			}
		})
	}
}

func TestConnect_CameraDenied(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(o *tutor.Options) { o.CameraEnabled = true })
	h.devices.CameraErr = media.ErrPermissionDenied

	err := h.ctl.Connect(context.Background())
	if tutor.KindOf(err) != tutor.KindPermission {
		t.Fatalf("Connect err = %v, want permission error", err)
	}
	if !h.devices.LastMicrophone().Stopped() {
		t.Error("microphone not released after camera failure")
	}
	if h.ctl.State() != tutor.StateError {
		t.Errorf("State = %v, want error", h.ctl.State())
	}
}

func TestConnect_DisconnectDuringHandshake(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.provider.Gate = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- h.ctl.Connect(context.Background()) }()

	waitFor(t, "handshake to start", func() bool { return len(h.provider.Calls()) == 1 })
	if got := h.ctl.State(); got != tutor.StateConnecting {
		t.Fatalf("State = %v, want connecting", got)
	}

	h.ctl.Disconnect()

	select {
	case err := <-errc:
		if !errors.Is(err, tutor.ErrDisconnected) {
			t.Errorf("Connect err = %v, want ErrDisconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}
	if got := h.ctl.State(); got != tutor.StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
	if !h.output(t).Closed() {
		t.Error("output context not closed")
	}
	if len(h.devices.Microphones()) != 0 {
		t.Error("microphone acquired by a cancelled connect")
	}
}

// ── disconnect ────────────────────────────────────────────────────────────────

func TestDisconnect_NeverConnected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ctl.Disconnect()
	h.ctl.Disconnect()

	snap := h.ctl.Snapshot()
	if snap.State != tutor.StateIdle || snap.SessionID != "" || snap.Error != "" {
		t.Errorf("snapshot = %+v, want idle and empty", snap)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(o *tutor.Options) { o.CameraEnabled = true })
	h.connect(t)
	sess := h.session(t)
	sess.Push(audioMessage(2400))
	waitFor(t, "buffer scheduled", func() bool { return len(h.output(t).StartCalls()) == 1 })

	h.ctl.Disconnect()
	h.ctl.Disconnect()

	if got := h.ctl.State(); got != tutor.StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
	if sess.CloseCount != 1 {
		t.Errorf("live session closed %d times, want 1", sess.CloseCount)
	}
	if got := h.devices.LastMicrophone().StopCount(); got != 1 {
		t.Errorf("microphone stopped %d times, want 1", got)
	}
	out := h.output(t)
	if !out.Closed() || out.Active() != 0 {
		t.Errorf("output closed=%v active=%d", out.Closed(), out.Active())
	}
	if cams := h.devices.Cameras(); len(cams) != 1 || !cams[0].Stopped() {
		t.Errorf("camera not released: %d tracks", len(cams))
	}
	if recs, _ := h.store.Recent(context.Background(), 0); len(recs) != 1 {
		t.Errorf("activity records = %d, want 1", len(recs))
	}
}

// ── inbound routing ───────────────────────────────────────────────────────────

func TestSession_RemoteClose(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)
	h.session(t).End(nil)

	waitFor(t, "closed state", func() bool { return h.ctl.State() == tutor.StateClosed })
	waitFor(t, "microphone released", func() bool { return h.devices.LastMicrophone().Stopped() })
	if snap := h.ctl.Snapshot(); snap.Error != "" {
		t.Errorf("Error = %q, want none after orderly close", snap.Error)
	}

	// An explicit reconnect opens a fresh session.
	h.connect(t)
	if got := len(h.provider.Sessions()); got != 2 {
		t.Errorf("sessions = %d, want 2", got)
	}
}

func TestSession_TransportDrop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)
	out := h.output(t)
	h.session(t).End(errors.New("read: connection reset by peer"))

	waitFor(t, "error state", func() bool { return h.ctl.State() == tutor.StateError })
	snap := h.ctl.Snapshot()
	if snap.Error != tutor.MessageTransport || snap.ErrorKind != "transport" {
		t.Errorf("snapshot = %+v, want transport error", snap)
	}
	waitFor(t, "output closed", out.Closed)

	time.Sleep(20 * time.Millisecond)
	if got := len(h.provider.Calls()); got != 1 {
		t.Errorf("Connect calls = %d, want 1 (no automatic reconnect)", got)
	}

	waitFor(t, "journal", func() bool {
		recs, _ := h.store.Recent(context.Background(), 0)
		return len(recs) == 1
	})
	recs, _ := h.store.Recent(context.Background(), 0)
	if recs[0].EndState != "error" || recs[0].Error != tutor.MessageTransport {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestSession_Interruption(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)
	sess := h.session(t)
	out := h.output(t)

	for range 3 {
		sess.Push(audioMessage(4800))
	}
	waitFor(t, "3 buffers scheduled", func() bool { return len(out.StartCalls()) == 3 })

	sess.Push(live.Message{Kind: live.MessageInterrupted})
	waitFor(t, "interruption", func() bool { return h.ctl.Snapshot().Interruptions == 1 })

	snap := h.ctl.Snapshot()
	if snap.PendingPlayback != 0 || snap.NextStartTime != 0 {
		t.Errorf("after interrupt pending=%d next=%v, want 0 and 0", snap.PendingPlayback, snap.NextStartTime)
	}
	if out.Active() != 0 {
		t.Errorf("output voices = %d, want 0", out.Active())
	}

	out.SetTime(5 * time.Second)
	sess.Push(audioMessage(2400))
	waitFor(t, "buffer after interrupt", func() bool { return len(out.StartCalls()) == 4 })
	if got := out.StartCalls()[3].At; got != 5*time.Second {
		t.Errorf("post-interrupt start = %v, want 5s", got)
	}
}

func TestSession_DecodeErrorDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)
	sess := h.session(t)
	out := h.output(t)

	sess.Push(live.Message{Kind: live.MessageAudio, Audio: "%%% not base64"})
	sess.Push(live.Message{Kind: live.MessageAudio, Audio: ""})
	sess.Push(audioMessage(2400))

	waitFor(t, "valid buffer scheduled", func() bool { return h.ctl.Snapshot().ChunksPlayed == 1 })
	if got := out.StartCalls()[0].At; got != 0 {
		t.Errorf("start = %v, want 0 (cursor unaffected by bad payloads)", got)
	}
	snap := h.ctl.Snapshot()
	if snap.State != tutor.StateOpen || len(out.StartCalls()) != 1 {
		t.Errorf("snapshot = %+v, want open with one chunk", snap)
	}
	if snap.NextStartTime != 100*time.Millisecond {
		t.Errorf("NextStartTime = %v, want 100ms", snap.NextStartTime)
	}
}

func TestSession_Transcripts(t *testing.T) {
	t.Parallel()

	got := make(chan live.Transcript, 4)
	h := newHarness(t, func(o *tutor.Options) {
		o.OnTranscript = func(tr live.Transcript) { got <- tr }
	})
	h.connect(t)

	want := live.Transcript{Speaker: live.SpeakerModel, Text: "Let's practise ordering food."}
	h.session(t).Push(live.Message{Kind: live.MessageTranscript, Transcript: want})

	select {
	case tr := <-got:
		if tr != want {
			t.Errorf("transcript = %+v, want %+v", tr, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transcript not delivered")
	}
}

func TestSession_InputLevel(t *testing.T) {
	t.Parallel()

	levels := make(chan float64, 8)
	h := newHarness(t, func(o *tutor.Options) {
		o.OnLevel = func(l float64) { levels <- l }
	})
	h.connect(t)
	h.devices.LastMicrophone().Feed(block(4096, 0.1))

	select {
	case l := <-levels:
		if l < 0.49 || l > 0.51 {
			t.Errorf("level = %v, want 0.5", l)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("level not reported")
	}
	if got := h.ctl.Snapshot().InputLevel; got < 0.49 || got > 0.51 {
		t.Errorf("snapshot InputLevel = %v, want 0.5", got)
	}
}

// ── camera ────────────────────────────────────────────────────────────────────

func runningCameras(h *harness) int {
	n := 0
	for _, c := range h.devices.Cameras() {
		if !c.Stopped() {
			n++
		}
	}
	return n
}

func TestCamera_ToggleIsolation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(o *tutor.Options) { o.CameraEnabled = true })
	h.connect(t)
	sess := h.session(t)
	mic := h.devices.LastMicrophone()

	waitFor(t, "first frame", func() bool { return len(sess.SentByType("image/jpeg")) > 0 })

	for i := range 10 {
		if err := h.ctl.ToggleCamera(); err != nil {
			t.Fatalf("toggle off %d: %v", i, err)
		}
		if n := runningCameras(h); n != 0 {
			t.Fatalf("toggle off %d: %d cameras running", i, n)
		}
		if err := h.ctl.ToggleCamera(); err != nil {
			t.Fatalf("toggle on %d: %v", i, err)
		}
		if n := runningCameras(h); n != 1 {
			t.Fatalf("toggle on %d: %d cameras running, want 1", i, n)
		}
		if mic.Stopped() {
			t.Fatalf("toggle %d stopped the microphone", i)
		}
	}

	mic.Feed(block(4096, 0.2))
	waitFor(t, "audio after toggles", func() bool { return len(sess.SentByType(pcmMIME)) == 1 })

	// A single sampler at 10ms yields at most a frame per tick.
	before := len(sess.SentByType("image/jpeg"))
	time.Sleep(100 * time.Millisecond)
	if extra := len(sess.SentByType("image/jpeg")) - before; extra > 15 {
		t.Errorf("%d frames in 100ms at a 10ms interval, more than one loop is running", extra)
	}

	h.ctl.Disconnect()
	if n := runningCameras(h); n != 0 {
		t.Errorf("%d cameras running after disconnect", n)
	}
}

func TestCamera_ToggleWhileNotOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.ctl.ToggleCamera(); err != nil {
		t.Fatalf("ToggleCamera: %v", err)
	}
	if !h.ctl.Snapshot().CameraEnabled {
		t.Fatal("flag not changed while idle")
	}
	if len(h.devices.Cameras()) != 0 {
		t.Fatal("camera acquired while idle")
	}

	h.connect(t)
	if got := len(h.devices.Cameras()); got != 1 {
		t.Fatalf("cameras = %d, want 1 after open with flag set", got)
	}
	waitFor(t, "frame", func() bool { return len(h.session(t).SentByType("image/jpeg")) > 0 })
}

func TestCamera_EnableWhileOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)
	if len(h.devices.Cameras()) != 0 {
		t.Fatal("camera acquired with flag off")
	}
	if err := h.ctl.SetCamera(true); err != nil {
		t.Fatalf("SetCamera: %v", err)
	}
	if err := h.ctl.SetCamera(true); err != nil {
		t.Fatalf("SetCamera again: %v", err)
	}
	if got := len(h.devices.Cameras()); got != 1 {
		t.Fatalf("cameras = %d, want 1", got)
	}
	waitFor(t, "frames counted", func() bool { return h.ctl.Snapshot().FramesSent > 0 })
}

func TestCamera_AcquireFailureKeepsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)
	h.devices.CameraErr = media.ErrPermissionDenied

	err := h.ctl.SetCamera(true)
	if tutor.KindOf(err) != tutor.KindPermission {
		t.Fatalf("SetCamera err = %v, want permission error", err)
	}
	snap := h.ctl.Snapshot()
	if snap.State != tutor.StateOpen || snap.CameraEnabled {
		t.Errorf("snapshot = %+v, want open with camera off", snap)
	}
}

func TestCamera_ProviderWithoutImages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(o *tutor.Options) { o.CameraEnabled = true })
	h.provider.ProviderCapabilities = live.Capabilities{
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		OutputChannels:   1,
	}
	h.connect(t)
	if err := h.ctl.SetCamera(false); err != nil {
		t.Fatalf("SetCamera(false): %v", err)
	}
	if err := h.ctl.SetCamera(true); err != nil {
		t.Fatalf("SetCamera(true): %v", err)
	}
	if got := len(h.devices.Cameras()); got != 0 {
		t.Errorf("cameras = %d, want none for an audio-only provider", got)
	}
	if got := h.ctl.State(); got != tutor.StateOpen {
		t.Errorf("State = %v, want open", got)
	}
}

// ── misc ──────────────────────────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	out := func(int) (audio.OutputContext, error) { return audiomock.NewOutput(24000), nil }
	tests := []struct {
		name string
		opts tutor.Options
	}{
		{"no provider", tutor.Options{Devices: &mediamock.Devices{}, NewOutput: out}},
		{"no devices", tutor.Options{Provider: &livemock.Provider{}, NewOutput: out}},
		{"no output", tutor.Options{Provider: &livemock.Provider{}, Devices: &mediamock.Devices{}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tutor.New(tc.opts); err == nil {
				t.Error("New succeeded, want error")
			}
		})
	}
}

func TestSnapshot_JSON(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)

	raw, err := json.Marshal(h.ctl.Snapshot())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["state"] != "open" {
		t.Errorf("state = %v, want \"open\"", decoded["state"])
	}
	if _, ok := decoded["error"]; ok {
		t.Error("error key present without an error")
	}
}

func TestStateChanges(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		states []tutor.State
	)
	h := newHarness(t, func(o *tutor.Options) {
		o.OnState = func(s tutor.State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}
	})
	h.connect(t)
	h.ctl.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	want := []tutor.State{tutor.StateConnecting, tutor.StateOpen, tutor.StateClosed}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], want[i])
		}
	}
}
