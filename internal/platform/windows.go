//go:build windows

// Windows-specific Platform implementation.
package platform

import "context"

// WindowsPlatform implements Platform for Windows systems.
type WindowsPlatform struct{}

// New creates a new Windows platform instance.
func New() Platform {
	return &WindowsPlatform{}
}

// Name returns the platform identifier.
func (p *WindowsPlatform) Name() string { return "windows" }

// GPUTemperature attempts to read GPU temperature via nvidia-smi.
// gopsutil exposes no GPU sensors on Windows, so this is the only source.
func (p *WindowsPlatform) GPUTemperature(ctx context.Context) (*float64, error) {
	return nvidiaSMITemperature(ctx)
}
