// Package lifecycle coordinates the shutdown of long-lived resources with
// archive executions that may still be running.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ShutdownManager tracks in-flight executions and closes registered
// resources once they have drained.
type ShutdownManager struct {
	drainTimeout time.Duration

	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	shutdownErr    error
	inFlight       int64
	isShuttingDown int32

	// Closed in reverse order of registration
	closers   []io.Closer
	closersMu sync.Mutex
}

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// DrainTimeout is the time to wait for in-flight executions to finish.
	// Default: 60 seconds
	DrainTimeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{DrainTimeout: 60 * time.Second}
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(config ShutdownConfig) *ShutdownManager {
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 60 * time.Second
	}
	return &ShutdownManager{
		drainTimeout: config.DrainTimeout,
		shutdownCh:   make(chan struct{}),
	}
}

// RegisterCloser adds a resource to close during shutdown.
func (sm *ShutdownManager) RegisterCloser(closer io.Closer) {
	sm.closersMu.Lock()
	defer sm.closersMu.Unlock()
	sm.closers = append(sm.closers, closer)
}

// Track registers an execution. It returns false once shutdown has begun,
// in which case the execution must not start.
func (sm *ShutdownManager) Track() bool {
	if sm.IsShuttingDown() {
		return false
	}
	atomic.AddInt64(&sm.inFlight, 1)
	return true
}

// Untrack marks a tracked execution as finished.
func (sm *ShutdownManager) Untrack() {
	atomic.AddInt64(&sm.inFlight, -1)
}

// IsShuttingDown reports whether shutdown has been initiated.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return atomic.LoadInt32(&sm.isShuttingDown) == 1
}

// InFlightCount returns the number of tracked executions.
func (sm *ShutdownManager) InFlightCount() int64 {
	return atomic.LoadInt64(&sm.inFlight)
}

// ShutdownCh returns a channel that is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.shutdownCh
}

// Shutdown stops new executions, waits for running ones and closes every
// registered resource. Only the first call does any work; later calls
// return its result.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.shutdownOnce.Do(func() {
		atomic.StoreInt32(&sm.isShuttingDown, 1)
		close(sm.shutdownCh)
		log.Printf("lifecycle: shutting down (%s), %d executions in flight", reason, sm.InFlightCount())

		if err := sm.drain(ctx); err != nil {
			sm.shutdownErr = fmt.Errorf("drain failed: %w", err)
		}

		sm.closersMu.Lock()
		closers := sm.closers
		sm.closersMu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && sm.shutdownErr == nil {
				sm.shutdownErr = fmt.Errorf("close failed: %w", err)
			}
		}
	})
	return sm.shutdownErr
}

func (sm *ShutdownManager) drain(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, sm.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if sm.InFlightCount() == 0 {
			return nil
		}
		select {
		case <-drainCtx.Done():
			if n := sm.InFlightCount(); n > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight executions", n)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}
