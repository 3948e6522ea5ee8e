//go:build !windows

package platform

import "context"

// UnixPlatform implements Platform for Linux and macOS.
type UnixPlatform struct{}

// New creates the platform instance for the running OS.
func New() Platform {
	return &UnixPlatform{}
}

// Name returns the platform identifier.
func (p *UnixPlatform) Name() string { return "unix" }

// GPUTemperature reads NVIDIA GPU temperature when the driver tools are
// installed.
func (p *UnixPlatform) GPUTemperature(ctx context.Context) (*float64, error) {
	return nvidiaSMITemperature(ctx)
}
