// Package supervisor implements the agent-side startup and reconnect
// sequence (C10): retry registration until it succeeds, then run the
// control tunnel in a loop, retrying on error with a 5s backoff or on
// clean close with a 1s backoff, all bound to one cancellation token.
package supervisor

import (
	"context"
	"log/slog"
	"time"
)

// registerRetryDelay is the fixed interval between registration attempts.
const registerRetryDelay = time.Second

// errorRetryDelay is how long the supervisor waits before reopening the
// tunnel after it failed.
const errorRetryDelay = 5 * time.Second

// cleanCloseRetryDelay is how long the supervisor waits before reopening
// the tunnel after it closed without error.
const cleanCloseRetryDelay = time.Second

// Supervisor drives the agent's register-then-tunnel lifecycle.
type Supervisor struct {
	// Register performs one registration attempt against the relay. It
	// returns nil on success.
	Register func(ctx context.Context) error
	// RunTunnel opens the control tunnel and blocks until it ends,
	// returning nil for a clean close and non-nil for any failure.
	RunTunnel func(ctx context.Context) error
	Logger    *slog.Logger
}

// Run blocks until ctx is cancelled, registering then looping the tunnel.
func (s *Supervisor) Run(ctx context.Context) {
	logger := s.logger()

	if !s.registerUntilSuccess(ctx) {
		return
	}
	s.runTunnelLoop(ctx, logger)
}

func (s *Supervisor) registerUntilSuccess(ctx context.Context) bool {
	logger := s.logger()
	for {
		if ctx.Err() != nil {
			return false
		}
		if err := s.Register(ctx); err == nil {
			logger.Info("agent registered")
			return true
		} else {
			logger.Warn("registration failed, retrying", "err", err, "retry_in", registerRetryDelay)
		}
		if !sleepOrDone(ctx, registerRetryDelay) {
			return false
		}
	}
}

func (s *Supervisor) runTunnelLoop(ctx context.Context, logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.RunTunnel(ctx)
		if ctx.Err() != nil {
			return
		}

		delay := cleanCloseRetryDelay
		if err != nil {
			delay = errorRetryDelay
			logger.Warn("tunnel closed with error, reconnecting", "err", err, "retry_in", delay)
		} else {
			logger.Info("tunnel closed cleanly, reconnecting", "retry_in", delay)
		}

		if !sleepOrDone(ctx, delay) {
			return
		}
	}
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
