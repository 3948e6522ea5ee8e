// Package platform provides an OS abstraction layer for readings that
// gopsutil cannot provide on its own.
package platform

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Platform provides OS-specific functionality beyond what gopsutil offers.
type Platform interface {
	// GPUTemperature returns the GPU temperature in °C, or nil if it cannot
	// be determined.
	GPUTemperature(ctx context.Context) (*float64, error)

	// Name returns the platform name (windows, unix).
	Name() string
}

// nvidiaSMITimeout bounds a single nvidia-smi invocation.
const nvidiaSMITimeout = 3 * time.Second

// runCommand is swapped in tests.
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// nvidiaSMITemperature reads the first GPU's temperature via nvidia-smi.
// A missing binary or unparsable output yields nil without an error.
func nvidiaSMITemperature(ctx context.Context) (*float64, error) {
	ctx, cancel := context.WithTimeout(ctx, nvidiaSMITimeout)
	defer cancel()

	output, err := runCommand(ctx, "nvidia-smi",
		"--query-gpu=temperature.gpu", "--format=csv,noheader,nounits")
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, nil // Not available
	}

	// one line per GPU; report the first
	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	temp, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return nil, nil
	}
	return &temp, nil
}
