//go:build !windows

// Package service provides a stub implementation for non-Windows platforms.
// On macOS and Linux databot runs as a foreground process; the Windows
// service wrapper is not needed.
package service

import (
	"context"

	"go.uber.org/zap"
)

// DataBotService is a pass-through wrapper for non-Windows platforms.
type DataBotService struct {
	logger *zap.Logger
	runFn  func(ctx context.Context) error
}

// New creates a stub service wrapper for non-Windows platforms.
func New(logger *zap.Logger, runFn func(ctx context.Context) error) *DataBotService {
	return &DataBotService{logger: logger, runFn: runFn}
}

// IsWindowsService always returns false on non-Windows platforms.
func IsWindowsService() bool {
	return false
}

// Run executes the run function directly.
func (s *DataBotService) Run() error {
	return s.runFn(context.Background())
}
