package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TutorChanged is true if the voice or native language changed. The new
	// values apply to the next session.
	TutorChanged      bool
	NewVoice          string
	NewNativeLanguage string

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Tutor.Voice != new.Tutor.Voice || old.Tutor.NativeLanguage != new.Tutor.NativeLanguage {
		d.TutorChanged = true
		d.NewVoice = new.Tutor.Voice
		d.NewNativeLanguage = new.Tutor.NativeLanguage
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProvider(old.Provider, new.Provider) {
		d.RestartRequired = append(d.RestartRequired, "provider")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Video != new.Video {
		d.RestartRequired = append(d.RestartRequired, "video")
	}
	if old.Activity != new.Activity {
		d.RestartRequired = append(d.RestartRequired, "activity")
	}

	return d
}

// sameProvider compares the scalar provider fields. Options are not compared.
func sameProvider(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
