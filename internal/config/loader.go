package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":         {"gemini-live"},
	"stt":          {"whisper", "openai"},
	"stt_fallback": {"whisper", "openai"},
	"llm":          {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp"},
	"tts":          {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Session = cfg.Session.withDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt_fallback", cfg.Providers.STTFallback.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	// Session
	s := cfg.Session
	if s.Mode != "" && !s.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("session.mode %q is invalid; valid values: native, pipeline", s.Mode))
	}
	if s.InputCodec != "" && !s.InputCodec.IsValid() {
		errs = append(errs, fmt.Errorf("session.input_codec %q is invalid; valid values: pcm16, opus", s.InputCodec))
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"session.connect_timeout_seconds", s.ConnectTimeoutSeconds},
		{"session.setup_timeout_seconds", s.SetupTimeoutSeconds},
		{"session.priming_settle_delay_ms", s.PrimingSettleDelayMs},
		{"session.audio_buffer_duration_ms", s.AudioBufferDurationMs},
		{"session.audio_buffer_max_bytes", s.AudioBufferMaxBytes},
		{"session.duration_warning_seconds", s.DurationWarningSeconds},
		{"session.warning_timeout_seconds", s.WarningTimeoutSeconds},
		{"session.inactivity_timeout_seconds", s.InactivityTimeoutSeconds},
		{"session.lifecycle_check_interval_seconds", s.LifecycleCheckIntervalSeconds},
		{"session.interruption_stack_capacity", s.InterruptionStackCapacity},
		{"session.adaptive_window_seconds", s.AdaptiveWindowSeconds},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", f.name, f.v))
		}
	}
	if s.LifecycleCheckIntervalSeconds > s.InactivityTimeoutSeconds {
		errs = append(errs, fmt.Errorf(
			"session.lifecycle_check_interval_seconds (%d) exceeds session.inactivity_timeout_seconds (%d); inactive sessions would outlive their timeout",
			s.LifecycleCheckIntervalSeconds, s.InactivityTimeoutSeconds))
	}

	// Mode ↔ provider cross-validation.
	if s.Mode == ModeNative && cfg.Providers.Live.Name == "" {
		errs = append(errs, errors.New("session.mode \"native\" requires providers.live to be configured"))
	}
	if s.Mode == ModePipeline {
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("session.mode \"pipeline\" requires providers.stt to be configured"))
		}
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, errors.New("session.mode \"pipeline\" requires providers.llm to be configured"))
		}
		if cfg.Providers.TTS.Name == "" {
			errs = append(errs, errors.New("session.mode \"pipeline\" requires providers.tts to be configured"))
		}
	}

	// Persistence availability warnings.
	if cfg.Postgres.DSN == "" {
		slog.Warn("postgres.dsn is empty; fallback library and speaking profiles will not be persisted")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
