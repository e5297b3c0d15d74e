package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mirrorlab/avatarchat/pkg/capture"
)

// ErrPlatformNotRegistered is returned by [Registry.CreatePlatform] when no
// factory has been registered under the requested platform name.
var ErrPlatformNotRegistered = errors.New("config: capture platform not registered")

// PlatformFactory constructs a capture platform from its config block.
type PlatformFactory func(CaptureConfig) (capture.Platform, error)

// Registry maps capture platform names to their constructor functions.
// Adapter packages register themselves at startup; the app then instantiates
// whichever platform the config names. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]PlatformFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{platforms: make(map[string]PlatformFactory)}
}

// RegisterPlatform registers a capture platform factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterPlatform(name string, factory PlatformFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[name] = factory
}

// CreatePlatform instantiates the capture platform registered under the
// config's platform name. Returns [ErrPlatformNotRegistered] if no factory
// has been registered for that name.
func (r *Registry) CreatePlatform(cfg CaptureConfig) (capture.Platform, error) {
	r.mu.RLock()
	factory, ok := r.platforms[cfg.Platform]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlatformNotRegistered, cfg.Platform)
	}
	return factory(cfg)
}

// PlatformNames returns the registered platform names, unordered.
func (r *Registry) PlatformNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	return names
}
