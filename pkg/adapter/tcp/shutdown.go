package tcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/sockd/internal/logger"
	"github.com/marmos91/sockd/internal/socket"
	"github.com/marmos91/sockd/pkg/lifecycle"
)

// Terminate requests shutdown with the given nonzero cause, typically a
// signal number. Only the first request changes state; later ones are
// logged and otherwise ignored.
//
// The accept loop is woken by moving the listener deadline into the past.
// The listening socket itself stays open until the drain completes.
//
// Safe to call from any goroutine, any number of times, before or during
// Serve.
func (a *Adapter) Terminate(cause uint32) {
	if a.signal.Terminate(cause) {
		logger.Info("termination requested (cause %d): no longer admitting connections", cause)
	} else {
		logger.Info("termination already in progress (cause %d), ignoring cause %d", a.signal.Cause(), cause)
	}

	a.wakeOnce.Do(func() { close(a.wake) })

	if l := a.listener.Load(); l != nil {
		if err := l.SetDeadline(time.Now()); err != nil {
			logger.Debug("failed to wake accept loop: %v", err)
		}
	}
}

// drain waits for the live counter to reach zero, then releases the
// listening socket. It runs after the accept loop is STOPPING.
func (a *Adapter) drain(listener *socket.Listener) error {
	var forced int

	live := a.signal.Live()
	if live > 0 {
		logger.Info("TCP graceful shutdown: waiting for %d active connection(s) (poll: %v, timeout: %v)",
			live, a.config.DrainPollInterval, a.config.ShutdownTimeout)

		ticker := time.NewTicker(a.config.DrainPollInterval)
		defer ticker.Stop()

		var forceAt <-chan time.Time
		if a.config.ShutdownTimeout > 0 {
			timer := time.NewTimer(a.config.ShutdownTimeout)
			defer timer.Stop()
			forceAt = timer.C
		}

		for live > 0 {
			logger.Info("Waiting for %d clients to disconnect...", live)
			select {
			case <-ticker.C:
			case <-forceAt:
				logger.Warn("TCP shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
					live, a.config.ShutdownTimeout)
				forced = a.forceCloseConnections()
				forceAt = nil
			}
			live = a.signal.Live()
		}
	}

	if err := listener.Close(); err != nil {
		logger.Debug("Error closing TCP listener: %v", err)
	}

	var err error
	if a.signal.Cause() == lifecycle.CauseListenerLost {
		logger.Destroy("All clients disconnected. Server stopped after losing its listening socket.")
		err = ErrListenerLost
	} else {
		logger.Destroy("All clients disconnected. Server shut down gracefully (cause %d).", a.signal.Cause())
	}

	if forced > 0 {
		err = errors.Join(err, fmt.Errorf("%w: %d connection(s) force-closed", ErrDrainTimeout, forced))
	}
	return err
}

// forceCloseConnections closes every tracked connection so that blocked
// handlers fail their wait and exit. Handlers still deregister themselves.
func (a *Adapter) forceCloseConnections() int {
	logger.Info("Force-closing active TCP connections")

	closedCount := 0
	a.activeConnections.Range(func(key, value any) bool {
		c := value.(*Connection)
		if err := c.Close(); err != nil {
			logger.Debug("Error force-closing connection %s: %v", c.ID, err)
		} else {
			closedCount++
			logger.Debug("Force-closed connection %s", c.ID)
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
	return closedCount
}

// Stop terminates admission and waits for Serve to finish the drain.
//
// Returns:
//   - the result of Serve once the drain completed
//   - ctx.Err() if ctx ends first (the drain keeps running)
func (a *Adapter) Stop(ctx context.Context) error {
	a.Terminate(lifecycle.CauseRequested)

	if !a.started.Load() {
		return nil
	}

	select {
	case <-a.done:
		return a.serveErr
	case <-ctx.Done():
		logger.Warn("TCP shutdown context ended: %d connection(s) still active: %v",
			a.signal.Live(), ctx.Err())
		return ctx.Err()
	}
}
