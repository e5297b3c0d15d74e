package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvBackendToken is the environment variable consulted for the backend
// Bearer token when backend.auth_token is not set in the file. A .env file
// in the working directory is honoured at startup.
const EnvBackendToken = "AVATARCHAT_BACKEND_TOKEN"

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if cfg.Backend.AuthToken == "" {
		cfg.Backend.AuthToken = os.Getenv(EnvBackendToken)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	} else if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url %q is not an absolute URL", cfg.Backend.BaseURL))
	}
	if cfg.Backend.RequestTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("backend.request_timeout_ms %d must not be negative", cfg.Backend.RequestTimeoutMs))
	}

	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 0 || cfg.Capture.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [0, 2]", cfg.Capture.Channels))
	}
	if cfg.Capture.FrameSizeMs < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_size_ms %d must not be negative", cfg.Capture.FrameSizeMs))
	}

	if cfg.VAD.Threshold < 0 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f must not be negative", cfg.VAD.Threshold))
	}
	if cfg.VAD.WindowSamples < 0 {
		errs = append(errs, fmt.Errorf("vad.window_samples %d must not be negative", cfg.VAD.WindowSamples))
	}
	if cfg.VAD.DebounceMs < 0 {
		errs = append(errs, fmt.Errorf("vad.debounce_ms %d must not be negative", cfg.VAD.DebounceMs))
	}

	if cfg.Camera.FrameCooldownMs < 0 {
		errs = append(errs, fmt.Errorf("camera.frame_cooldown_ms %d must not be negative", cfg.Camera.FrameCooldownMs))
	}

	return errors.Join(errs...)
}
