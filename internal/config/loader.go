package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/skillpath/livetutor/internal/tutor"
)

// ValidProviderNames lists the live providers known to the service.
var ValidProviderNames = []string{"gemini-live", "openai-realtime"}

// APIKeyEnv maps provider names to the environment variable consulted when
// provider.api_key is empty.
var APIKeyEnv = map[string]string{
	"gemini-live":     "GEMINI_API_KEY",
	"openai-realtime": "OPENAI_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults and environment fallbacks applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it and applies
// defaults and environment fallbacks. An empty document decodes to the zero
// Config and is then validated like any other.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv fills provider.api_key from the provider's environment variable
// when it is empty. getenv is usually [os.Getenv].
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c.Provider.APIKey != "" {
		return
	}
	if key, ok := APIKeyEnv[c.Provider.Name]; ok {
		c.Provider.APIKey = getenv(key)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	switch {
	case cfg.Provider.Name == "":
		errs = append(errs, errors.New("provider.name is required; valid values: gemini-live, openai-realtime"))
	case !slices.Contains(ValidProviderNames, cfg.Provider.Name):
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}

	// Tutor
	if lang := cfg.Tutor.NativeLanguage; lang != "" && !tutor.KnownLanguage(lang) {
		slog.Warn("tutor.native_language is not one of the offered languages",
			"native_language", lang,
			"known", tutor.NativeLanguages,
		)
	}

	// Audio
	if cfg.Audio.CaptureRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must be positive", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.OutputRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_rate %d must not be negative", cfg.Audio.OutputRate))
	}
	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", cfg.Audio.BlockSize))
	}

	// Video
	if cfg.Video.FrameInterval < 0 {
		errs = append(errs, fmt.Errorf("video.frame_interval %s must be positive", cfg.Video.FrameInterval))
	}
	if cfg.Video.Scale < 0 || cfg.Video.Scale > 1 {
		errs = append(errs, fmt.Errorf("video.scale %.2f is out of range (0, 1]", cfg.Video.Scale))
	}
	if cfg.Video.JPEGQuality < 0 || cfg.Video.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("video.jpeg_quality %d is out of range [1, 100]", cfg.Video.JPEGQuality))
	}
	if cfg.Video.Width < 0 || cfg.Video.Height < 0 {
		errs = append(errs, fmt.Errorf("video size %dx%d must not be negative", cfg.Video.Width, cfg.Video.Height))
	}
	if (cfg.Video.Width == 0) != (cfg.Video.Height == 0) {
		errs = append(errs, errors.New("video.width and video.height must be set together"))
	}

	// Activity
	if cfg.Activity.PostgresDSN == "" {
		slog.Debug("activity.postgres_dsn is empty; sessions are journaled in memory only")
	}

	return errors.Join(errs...)
}
