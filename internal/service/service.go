//go:build windows

// Package service provides Windows Service integration.
// When running as a Windows service, databot enters the SCM control loop.
// When running from a terminal, it runs in the foreground.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/svc"
)

const serviceName = "DataBot"

// stopGrace bounds how long the SCM is kept waiting for the run function
// to return after a stop request.
const stopGrace = 20 * time.Second

// DataBotService implements the Windows service interface (svc.Handler).
type DataBotService struct {
	logger *zap.Logger
	runFn  func(ctx context.Context) error
	err    error
}

// New creates a Windows service wrapper. runFn is called with a context that
// is cancelled when the SCM asks the service to stop; the service also stops
// on its own when runFn returns.
func New(logger *zap.Logger, runFn func(ctx context.Context) error) *DataBotService {
	return &DataBotService{logger: logger, runFn: runFn}
}

// IsWindowsService checks if the process is running as a Windows service.
func IsWindowsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

// Run starts the Windows service control loop and returns the error of the
// run function.
func (s *DataBotService) Run() error {
	if err := svc.Run(serviceName, s); err != nil {
		return err
	}
	return s.err
}

// Execute implements the svc.Handler interface for Windows SCM integration.
func (s *DataBotService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (ssec bool, errno uint32) {
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.runFn(ctx) }()

	changes <- svc.Status{
		State:   svc.Running,
		Accepts: svc.AcceptStop | svc.AcceptShutdown,
	}
	s.logger.Info("Windows service started")

	for {
		select {
		case err := <-done:
			s.err = err
			s.logger.Info("DataBot finished, stopping service", zap.Error(err))
			changes <- svc.Status{State: svc.StopPending}
			if err != nil {
				return true, 1
			}
			return false, 0
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				s.logger.Info("Windows service stopping")
				changes <- svc.Status{State: svc.StopPending, WaitHint: uint32(stopGrace / time.Millisecond)}
				cancel()
				select {
				case s.err = <-done:
				case <-time.After(stopGrace):
					s.logger.Warn("DataBot did not stop in time")
				}
				return false, 0
			default:
				s.logger.Warn("Unexpected service control request",
					zap.Uint32("cmd", uint32(c.Cmd)))
			}
		}
	}
}
