// Package config provides the configuration schema, loader, platform
// registry, and file watcher for the avatarchat client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the avatarchat client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the corresponding slog level. Unrecognised or empty values
// map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for avatarchat.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Capture CaptureConfig `yaml:"capture"`
	VAD     VADConfig     `yaml:"vad"`
	Camera  CameraConfig  `yaml:"camera"`
}

// ServerConfig holds network and logging settings for the local control
// surface (feed, health, metrics).
type ServerConfig struct {
	// ListenAddr is the TCP address the control server listens on
	// (e.g., "127.0.0.1:8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, routes logs to a size-rotated file instead of
	// stderr.
	LogFile string `yaml:"log_file"`
}

// BackendConfig describes the inference backend every turn is sent to.
type BackendConfig struct {
	// BaseURL is the backend root (e.g., "http://localhost:8000").
	BaseURL string `yaml:"base_url"`

	// AuthToken is the Bearer token sent with every request. Left empty,
	// the AVATARCHAT_BACKEND_TOKEN environment variable is consulted.
	AuthToken string `yaml:"auth_token"`

	// RequestTimeoutMs bounds each backend request. Zero means no
	// client-side timeout; long model responses are expected.
	RequestTimeoutMs int `yaml:"request_timeout_ms"`
}

// CaptureConfig selects and parameterises the device platform.
type CaptureConfig struct {
	// Platform names the registered capture platform implementation.
	// Empty disables voice and camera; text turns still work.
	Platform string `yaml:"platform"`

	// SampleRate is the requested audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the requested channel count.
	Channels int `yaml:"channels"`

	// FrameSizeMs is the duration of each analysis frame in milliseconds.
	FrameSizeMs int `yaml:"frame_size_ms"`

	// Options holds platform-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// VADConfig parameterises local voice-activity detection.
type VADConfig struct {
	// Threshold is the mean-absolute-deviation speech threshold in 16-bit
	// PCM sample units. Zero selects the built-in default.
	Threshold float64 `yaml:"threshold"`

	// WindowSamples is the rolling analysis window size. Zero selects the
	// built-in default.
	WindowSamples int `yaml:"window_samples"`

	// DebounceMs is the silence window after speech ends before the
	// recording auto-stops. Zero selects the built-in default (1500).
	DebounceMs int `yaml:"debounce_ms"`
}

// CameraConfig parameterises the ambient camera side channel.
type CameraConfig struct {
	// FrameCooldownMs is the minimum interval between ambient frame
	// uploads. Zero selects the built-in default (5000).
	FrameCooldownMs int `yaml:"frame_cooldown_ms"`
}

// RequestTimeout returns the backend request timeout as a duration.
func (b BackendConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutMs) * time.Millisecond
}

// Debounce returns the VAD debounce window as a duration.
func (v VADConfig) Debounce() time.Duration {
	return time.Duration(v.DebounceMs) * time.Millisecond
}

// FrameCooldown returns the camera frame cooldown as a duration.
func (c CameraConfig) FrameCooldown() time.Duration {
	return time.Duration(c.FrameCooldownMs) * time.Millisecond
}
