// Command livetutor runs a live spoken English tutor session against a
// realtime speech model, using the local microphone, camera and speakers.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/skillpath/livetutor/internal/activity"
	"github.com/skillpath/livetutor/internal/config"
	"github.com/skillpath/livetutor/internal/health"
	"github.com/skillpath/livetutor/internal/observe"
	"github.com/skillpath/livetutor/internal/tutor"
	"github.com/skillpath/livetutor/pkg/audio"
	"github.com/skillpath/livetutor/pkg/audio/speaker"
	"github.com/skillpath/livetutor/pkg/media/ffmpeg"
	"github.com/skillpath/livetutor/pkg/provider/live"
	"github.com/skillpath/livetutor/pkg/provider/live/gemini"
	"github.com/skillpath/livetutor/pkg/provider/live/openai"
)

// errQuit ends the run group when the user types "q".
var errQuit = errors.New("quit requested")

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file with provider API keys")
	lang := flag.String("lang", "", "native language of the learner (overrides tutor.native_language)")
	camera := flag.Bool("camera", true, "start with the camera enabled (overrides tutor.camera_enabled)")
	watch := flag.Bool("watch", true, "reload voice, language and log level when the config file changes")
	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// ── Environment and configuration ─────────────────────────────────────────
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "livetutor: load %s: %v\n", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "livetutor: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "livetutor: %v\n", err)
		}
		return 1
	}
	if set["lang"] {
		cfg.Tutor.NativeLanguage = *lang
	}
	cameraOn := cfg.Tutor.Camera()
	if set["camera"] {
		cameraOn = *camera
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("livetutor starting",
		"config", *configPath,
		"provider", cfg.Provider.Name,
		"native_language", cfg.Tutor.NativeLanguage,
		"camera", cameraOn,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "livetutor",
		Attributes:  []attribute.KeyValue{attribute.String("livetutor.provider", cfg.Provider.Name)},
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if cfg.Provider.APIKey == "" {
		slog.Error("no API key configured", "provider", cfg.Provider.Name, "env", config.APIKeyEnv[cfg.Provider.Name])
		return 1
	}
	provider, err := reg.CreateLive(cfg.Provider)
	if err != nil {
		slog.Error("failed to create provider", "name", cfg.Provider.Name, "err", err, "registered", reg.LiveNames())
		return 1
	}

	// ── Activity journal ──────────────────────────────────────────────────────
	var checkers []health.Checker
	var store activity.Store = &activity.MemoryStore{}
	if dsn := cfg.Activity.PostgresDSN; dsn != "" {
		pg, err := activity.NewPostgresStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open activity store", "err", err)
			return 1
		}
		defer pg.Close()
		journal := activity.NewSpooled("postgres", pg)
		store = journal
		checkers = append(checkers, health.Ping("activity", journal))
		slog.Info("activity journal connected")
	}

	// ── Devices and playback ──────────────────────────────────────────────────
	devices := ffmpeg.New(ffmpeg.Config{
		FFmpegPath:        cfg.Audio.FFmpegPath,
		MicrophoneCommand: cfg.Audio.MicrophoneCommand,
		MicrophoneRate:    cfg.Audio.CaptureRate,
		CameraCommand:     cfg.Video.CameraCommand,
		Width:             cfg.Video.Width,
		Height:            cfg.Video.Height,
	})
	newOutput := func(rate int) (audio.OutputContext, error) {
		spk, err := ffmpeg.OpenSpeaker(ffmpeg.SpeakerConfig{
			Command:    cfg.Audio.SpeakerCommand,
			SampleRate: rate,
			Channels:   1,
		})
		if err != nil {
			return nil, err
		}
		return speaker.New(spk, rate), nil
	}

	// ── Controller ────────────────────────────────────────────────────────────
	ctl, err := tutor.New(tutor.Options{
		Provider:       provider,
		ProviderName:   cfg.Provider.Name,
		Devices:        devices,
		NewOutput:      newOutput,
		Voice:          cfg.Tutor.Voice,
		NativeLanguage: cfg.Tutor.NativeLanguage,
		CameraEnabled:  cameraOn,
		CaptureRate:    cfg.Audio.CaptureRate,
		BlockSize:      cfg.Audio.BlockSize,
		OutputRate:     cfg.Audio.OutputRate,
		FrameInterval:  cfg.Video.FrameInterval,
		FrameScale:     cfg.Video.Scale,
		FrameQuality:   cfg.Video.JPEGQuality,
		Metrics:        metrics,
		Activity:       store,
		OnTranscript:   printTranscript,
		OnState: func(st tutor.State) {
			slog.Debug("tutor state changed", "state", st)
		},
	})
	if err != nil {
		slog.Error("failed to create controller", "err", err)
		return 1
	}
	defer ctl.Disconnect()

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(config.Diff(old, new), level, ctl, set["lang"])
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	checkers = append(checkers, health.Checker{Name: "session", Check: func(context.Context) error {
		if snap := ctl.Snapshot(); snap.State == tutor.StateError {
			return errors.New(snap.Error)
		}
		return nil
	}})

	printStartupSummary(cfg, cameraOn)

	g, gctx := errgroup.WithContext(ctx)

	// ── Status server ─────────────────────────────────────────────────────────
	if addr := cfg.Server.ListenAddr; addr != "-" {
		mux := http.NewServeMux()
		health.New(checkers, health.WithStatus(func() any { return ctl.Snapshot() })).Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())

		srv := &http.Server{
			Addr:              addr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("status server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	// ── Session ───────────────────────────────────────────────────────────────
	connect := func() error {
		if err := ctl.Connect(gctx); err != nil && !errors.Is(err, tutor.ErrDisconnected) {
			reportError(err)
		}
		return nil
	}
	g.Go(connect)

	lines := readLines(os.Stdin)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					// Stdin closed; keep running until a signal arrives.
					lines = nil
					continue
				}
				switch strings.TrimSpace(strings.ToLower(line)) {
				case "c":
					if err := ctl.ToggleCamera(); err != nil {
						reportError(err)
					}
					fmt.Printf("camera %s\n", onOff(ctl.Snapshot().CameraEnabled))
				case "d":
					ctl.Disconnect()
					fmt.Println("disconnected")
				case "r":
					ctl.Disconnect()
					g.Go(connect)
				case "s":
					printStatus(ctl.Snapshot())
				case "q":
					return errQuit
				case "":
				default:
					fmt.Println("commands: c = toggle camera, d = disconnect, r = reconnect, s = status, q = quit")
				}
			}
		}
	})

	slog.Info("ready, type c/d/r/s/q and press enter")

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("shutting down")
	ctl.Disconnect()
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the live provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		if v, ok := entry.Options["transcription"].(bool); ok {
			opts = append(opts, gemini.WithTranscription(v))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai-realtime", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if _, ok := entry.Options["transcription_model"]; ok {
			opts = append(opts, openai.WithTranscriptionModel(optString(entry.Options, "transcription_model")))
		}
		return openai.New(entry.APIKey, opts...), nil
	})

	for _, name := range reg.LiveNames() {
		slog.Debug("registered provider", "kind", "live", "name", name)
	}
}

// applyReload applies the hot-reloadable part of a config change.
func applyReload(d config.ConfigDiff, level *slog.LevelVar, ctl *tutor.Controller, langPinned bool) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TutorChanged {
		prefs := tutor.Preferences{Voice: d.NewVoice, NativeLanguage: d.NewNativeLanguage}
		if langPinned {
			prefs.NativeLanguage = ctl.Preferences().NativeLanguage
		}
		ctl.SetPreferences(prefs)
		slog.Info("tutor settings apply to the next session", "voice", prefs.Voice, "native_language", prefs.NativeLanguage)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// ── Console ───────────────────────────────────────────────────────────────────

// readLines forwards lines from r until EOF, then closes the channel.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

func printTranscript(t live.Transcript) {
	who := "tutor"
	if t.Speaker == live.SpeakerUser {
		who = "you"
	}
	fmt.Printf("%-5s: %s\n", who, t.Text)
}

func reportError(err error) {
	var te *tutor.Error
	if errors.As(err, &te) {
		fmt.Fprintln(os.Stderr, te.Message)
		slog.Error("session failed", "kind", te.Kind, "err", te.Err)
		return
	}
	slog.Error("session failed", "err", err)
}

func printStatus(s tutor.Snapshot) {
	fmt.Printf("state=%s camera=%s level=%.2f blocks=%d frames=%d chunks=%d interruptions=%d\n",
		s.State, onOff(s.CameraEnabled), s.InputLevel, s.BlocksSent, s.FramesSent, s.ChunksPlayed, s.Interruptions)
	if s.Error != "" {
		fmt.Printf("last error: %s\n", s.Error)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, camera bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        livetutor: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", cfg.Provider.Name, cfg.Provider.Model)
	printRow("Voice", cfg.Tutor.Voice, "")
	printRow("Language", cfg.Tutor.NativeLanguage, "")
	printRow("Camera", onOff(camera), "")
	if cfg.Activity.PostgresDSN != "" {
		printRow("Journal", "postgres", "")
	} else {
		printRow("Journal", "memory", "")
	}
	if cfg.Server.ListenAddr != "-" {
		printRow("Listen addr", cfg.Server.ListenAddr, "")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(default)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
