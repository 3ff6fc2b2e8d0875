package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Supervisor tracks the background workers the engine spawns so shutdown
// can cancel and wait for all of them instead of leaking goroutines.
type Supervisor struct {
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor rooted at parent.
func NewSupervisor(parent context.Context, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		logger: logger.With("component", "supervisor"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn on a tracked goroutine. The context passed to fn is cancelled
// on Shutdown; request-local state is deliberately not inherited, workers
// emit to the live stream only.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("worker panicked", "worker", name, "panic", r)
			}
		}()
		s.logger.Debug("worker started", "worker", name)
		fn(s.ctx)
		s.logger.Debug("worker finished", "worker", name)
	}()
}

// Shutdown cancels all workers and waits up to timeout for them to finish.
func (s *Supervisor) Shutdown(timeout time.Duration) bool {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.logger.Warn("workers did not finish before shutdown deadline")
		return false
	}
}
