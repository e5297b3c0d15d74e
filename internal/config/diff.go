package config

import "fmt"

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are tracked individually; everything else
// rolls up into RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VADChanged bool
	NewVAD     VADConfig

	CameraChanged bool
	NewCamera     CameraConfig

	// RestartRequired is set when server, backend, or capture settings
	// changed; those are bound at startup.
	RestartRequired bool
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VADChanged || d.CameraChanged || d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
		d.NewVAD = new.VAD
	}

	if old.Camera != new.Camera {
		d.CameraChanged = true
		d.NewCamera = new.Camera
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFile != new.Server.LogFile ||
		old.Backend != new.Backend ||
		!captureEqual(old.Capture, new.Capture) {
		d.RestartRequired = true
	}

	return d
}

// captureEqual compares capture blocks. Options maps are compared shallowly
// by string form of their keys and values.
func captureEqual(a, b CaptureConfig) bool {
	if a.Platform != b.Platform || a.SampleRate != b.SampleRate ||
		a.Channels != b.Channels || a.FrameSizeMs != b.FrameSizeMs {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(bv) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}
