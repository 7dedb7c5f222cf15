package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/sockd/internal/logger"
	"github.com/marmos91/sockd/pkg/adapter"
	"github.com/marmos91/sockd/pkg/lifecycle"
	"github.com/marmos91/sockd/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Terminator is implemented by adapters that can be told to stop admitting
// connections without waiting for their drain.
type Terminator interface {
	Terminate(cause uint32)
}

// Server manages the lifecycle of the protocol adapters and the optional
// metrics HTTP server.
//
// Lifecycle:
//  1. Creation: New() with the shutdown signal shared by every adapter
//  2. Registration: AddAdapter() for each listening socket
//  3. Startup: Serve() runs all adapters concurrently
//  4. Shutdown: Terminate(cause) or context cancellation; Serve returns once
//     every adapter has drained
//
// Thread safety:
// Server is safe for concurrent use. Terminate may be called from a signal
// handling goroutine at any time. Serve may only be called once.
//
// Example usage:
//
//	sig := lifecycle.New()
//	srv := server.New(sig)
//	srv.AddAdapter(adapter)
//
//	go func() {
//	    s := <-sigChan
//	    srv.Terminate(uint32(s.(syscall.Signal)))
//	}()
//
//	if err := srv.Serve(ctx); err != nil {
//	    os.Exit(1)
//	}
type Server struct {
	signal        *lifecycle.Signal
	adapters      []adapter.Adapter
	metricsServer *metrics.Server

	// mu protects adapters and metricsServer
	mu     sync.RWMutex
	served atomic.Bool
}

// New creates a Server around the shared shutdown signal. A nil signal
// creates one.
func New(signal *lifecycle.Signal) *Server {
	if signal == nil {
		signal = lifecycle.New()
	}
	return &Server{
		signal:   signal,
		adapters: make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers a protocol adapter.
//
// Returns an error if another adapter is already registered on the same
// port. Ports of 0 (kernel-assigned) never conflict.
//
// Panics if a is nil or Serve has already been called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served.Load() {
		panic("cannot add adapter after Serve() has been called")
	}

	port := a.Port()
	if port != 0 {
		for _, existing := range s.adapters {
			if existing.Port() == port {
				return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
			}
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on port %d", a.Protocol(), port)
	return nil
}

// SetMetricsServer attaches the metrics HTTP server. It runs while the
// adapters run and is stopped after the last one has drained.
func (s *Server) SetMetricsServer(ms *metrics.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsServer = ms
}

// Serve starts all registered adapters and blocks until every one of them
// has returned.
//
// If an adapter fails, the context passed to the others is cancelled so
// they drain as well, and the first failure is returned.
//
// Returns:
//   - nil after every adapter drained cleanly
//   - the first adapter error otherwise
func (s *Server) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		return errors.New("Serve() has already been called on this server instance")
	}

	s.mu.RLock()
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	metricsServer := s.metricsServer
	s.mu.RUnlock()

	if len(adapters) == 0 {
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}

	logger.Info("Starting sockd with %d adapter(s)", len(adapters))

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	metricsDone := make(chan struct{})
	if metricsServer != nil {
		go func() {
			defer close(metricsDone)
			// The server keeps serving without metrics.
			if err := metricsServer.Start(metricsCtx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	} else {
		close(metricsDone)
	}

	startTime := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			if err := a.Serve(gctx); err != nil {
				logger.Error("%s adapter failed: %v", protocol, err)
				return fmt.Errorf("%s adapter error: %w", protocol, err)
			}
			logger.Info("%s adapter stopped", protocol)
			return nil
		})
	}

	err := g.Wait()

	stopMetrics()
	<-metricsDone

	if err != nil {
		return err
	}
	logger.Info("sockd stopped gracefully after %v (cause %d)", time.Since(startTime).Round(time.Millisecond), s.signal.Cause())
	return nil
}

// Terminate forwards a termination request to every adapter. Adapters that
// cannot terminate asynchronously are stopped in the background.
func (s *Server) Terminate(cause uint32) {
	s.mu.RLock()
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.RUnlock()

	if len(adapters) == 0 {
		s.signal.Terminate(cause)
		return
	}

	for _, a := range adapters {
		if t, ok := a.(Terminator); ok {
			t.Terminate(cause)
			continue
		}
		go func(a adapter.Adapter) {
			if err := a.Stop(context.Background()); err != nil {
				logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
			}
		}(a)
	}
}

// Signal returns the shared shutdown signal.
func (s *Server) Signal() *lifecycle.Signal {
	return s.signal
}

// Ready reports whether connections are still being admitted. Used by the
// metrics health endpoint.
func (s *Server) Ready() bool {
	return !s.signal.Terminated()
}

// Adapters returns a snapshot of currently registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
