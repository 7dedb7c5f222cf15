package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/sockd/internal/logger"
	"github.com/marmos91/sockd/internal/ratelimiter"
	"github.com/marmos91/sockd/internal/socket"
	"github.com/marmos91/sockd/internal/transport"
	"github.com/marmos91/sockd/pkg/lifecycle"
	"github.com/marmos91/sockd/pkg/metrics"
	"github.com/marmos91/sockd/pkg/protocol"
	"github.com/marmos91/sockd/pkg/protocol/echo"
)

// Adapter implements adapter.Adapter for a concurrent stream server: one
// accept loop and one detached goroutine per accepted connection.
//
// Architecture:
// The accept loop admits each connection into the shared lifecycle.Signal
// and hands it to a Connection running the protocol handler until the peer
// goes away. Handlers are never joined; shutdown observes them only through
// the live counter of the Signal.
//
// Shutdown flow:
//  1. Terminate(cause) sets the cause in the Signal (first caller wins)
//  2. The accept loop is woken through a past listener deadline and enters
//     STOPPING; the listening socket stays open
//  3. The live counter is polled every DrainPollInterval until zero
//  4. The listening socket is closed and Serve returns
//
// Thread safety:
// All methods are safe for concurrent use. Serve may only be called once.
type Adapter struct {
	config  Config
	handler protocol.Handler
	signal  *lifecycle.Signal
	metrics metrics.ConnectionMetrics

	// listener is set once Serve has bound the socket.
	listener atomic.Pointer[socket.Listener]

	// listening is closed after the socket is bound.
	listening chan struct{}

	// wake is closed by Terminate to unblock a semaphore wait or an accept
	// error backoff.
	wake     chan struct{}
	wakeOnce sync.Once

	// stopping is closed when the accept loop reaches STOPPING.
	stopping chan struct{}

	// done is closed when Serve returns; serveErr holds its result.
	done     chan struct{}
	serveErr error
	started  atomic.Bool

	// connSemaphore limits live handlers if MaxClients > 0.
	// nil if MaxClients is 0 (unlimited)
	connSemaphore chan struct{}

	// activeConnections maps connection IDs to *Connection for forced
	// closure after ShutdownTimeout.
	activeConnections sync.Map

	// acceptLog throttles accept error logging.
	acceptLog *ratelimiter.Limiter

	// Seams replaced by tests to exercise accept and allocation failures.
	accept    func(*socket.Listener) (net.Conn, error)
	newSocket func(net.Conn) (transport.Socket, error)
	newID     func() (uuid.UUID, error)
	spawn     func(func())
}

// New creates an Adapter in a stopped state.
//
// A nil handler selects the echo protocol; a nil signal creates a private
// one; nil metrics select the no-op implementation.
//
// Panics if config validation fails.
func New(config Config, handler protocol.Handler, signal *lifecycle.Signal, m metrics.ConnectionMetrics) *Adapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid TCP config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxClients > 0 {
		connSemaphore = make(chan struct{}, config.MaxClients)
		logger.Debug("TCP connection limit: %d", config.MaxClients)
	} else {
		logger.Debug("TCP connection limit: unlimited")
	}

	if handler == nil {
		handler = echo.New(echo.Config{})
	}
	if signal == nil {
		signal = lifecycle.New()
	}
	if m == nil {
		m = metrics.NewNoopConnectionMetrics()
	}

	return &Adapter{
		config:        config,
		handler:       handler,
		signal:        signal,
		metrics:       m,
		listening:     make(chan struct{}),
		wake:          make(chan struct{}),
		stopping:      make(chan struct{}),
		done:          make(chan struct{}),
		connSemaphore: connSemaphore,
		acceptLog:     ratelimiter.Every(time.Second, 5),
		accept:        (*socket.Listener).Accept,
		newSocket:     transport.NewSocket,
		newID:         uuid.NewRandom,
		spawn:         func(f func()) { go f() },
	}
}

// Serve binds the listening socket, runs the accept loop until termination
// and then drains live handlers before releasing the socket.
//
// Cancelling ctx is equivalent to Terminate(lifecycle.CauseRequested).
// Handlers do not observe the cancellation: they run until their peer
// disconnects or an I/O error ends them.
//
// Returns:
//   - nil after a clean drain
//   - ErrUDPUnsupported if the configuration asks for UDP
//   - a socket.ErrResolution/ErrBind/ErrListen wrap if binding failed
//   - ErrDrainTimeout if connections had to be force-closed
//   - ErrListenerLost if the listening socket failed without a Terminate
func (a *Adapter) Serve(ctx context.Context) (err error) {
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("TCP adapter already serving")
	}
	defer func() {
		a.serveErr = err
		close(a.done)
	}()

	if a.config.EnableUDP {
		logger.Fatal("UDP is not supported in the concurrent stream server")
		return ErrUDPUnsupported
	}

	listener, err := socket.Listen(ctx, socket.Options{
		Address: a.config.BindAddress,
		Port:    a.config.Port,
		IPv6:    a.config.EnableIPv6,
		Backlog: a.config.MaxBacklog,
	})
	if err != nil {
		return fmt.Errorf("failed to create TCP listener on port %d: %w", a.config.Port, err)
	}
	a.listener.Store(listener)
	close(a.listening)

	logger.Debug("TCP config: max_clients=%d backlog=%d timeout=%s drain_poll=%v shutdown_timeout=%v",
		a.config.MaxClients, a.config.MaxBacklog, describeTimeout(a.config.Timeout),
		a.config.DrainPollInterval, a.config.ShutdownTimeout)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("TCP shutdown signal received: %v", ctx.Err())
			a.Terminate(lifecycle.CauseRequested)
		case <-a.done:
		}
	}()

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	if a.config.MetricsLogInterval > 0 {
		go a.logMetrics(metricsCtx)
	}

	// Handlers outlive ctx: shutdown only stops admissions.
	a.acceptLoop(context.WithoutCancel(ctx), listener)

	return a.drain(listener)
}

// acceptLoop runs while RUNNING and returns on STOPPING.
func (a *Adapter) acceptLoop(ctx context.Context, listener *socket.Listener) {
	logger.Info("accept loop started")
	defer func() {
		close(a.stopping)
		logger.Destroy("accept loop terminating, not accepting new connections")
	}()

	var backoff time.Duration

	for {
		if a.signal.Terminated() {
			return
		}

		// Blocks while MaxClients handlers are live.
		if a.connSemaphore != nil {
			select {
			case a.connSemaphore <- struct{}{}:
			case <-a.wake:
				continue
			}
		}

		nc, err := a.accept(listener)
		if err != nil {
			a.releaseSlot()

			if a.signal.Terminated() {
				return
			}
			if isInterruptedAccept(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Error("TCP listener closed unexpectedly: %v", err)
				a.Terminate(lifecycle.CauseListenerLost)
				continue
			}

			a.metrics.RecordAcceptError()
			err = fmt.Errorf("%w: %w", ErrAccept, err)
			if ok, suppressed := a.acceptLog.Allow(); ok {
				if suppressed > 0 {
					logger.Warn("%v (%d similar errors suppressed)", err, suppressed)
				} else {
					logger.Warn("%v", err)
				}
			}

			backoff = nextBackoff(backoff)
			select {
			case <-time.After(backoff):
			case <-a.wake:
			}
			continue
		}
		backoff = 0

		if !a.signal.Admit() {
			// Terminated between the check above and this accept.
			logger.Debug("dropping connection from %s accepted during shutdown", nc.RemoteAddr())
			_ = nc.Close()
			a.releaseSlot()
			return
		}

		a.startHandler(ctx, nc)
	}
}

// startHandler builds the Connection for an admitted socket and schedules
// its handler. Any failure closes the socket and gives back the admission.
func (a *Adapter) startHandler(ctx context.Context, nc net.Conn) {
	c, err := a.newConnection(nc)
	if err != nil {
		a.abandon(nil, nc, fmt.Errorf("%w: %w", ErrAllocation, err))
		return
	}

	a.activeConnections.Store(c.ID, c)
	a.metrics.RecordConnectionAccepted()
	live := a.signal.Live()
	a.metrics.SetActiveConnections(live)
	logger.Debug("TCP connection %s accepted from %s (active: %d)", c.ID, c.PeerString(), live)

	if err := a.schedule(func() { c.Serve(ctx) }); err != nil {
		a.abandon(c, nc, err)
	}
}

// schedule runs f on its own goroutine, turning a panicking scheduler into
// ErrAllocation.
func (a *Adapter) schedule(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler scheduling panicked: %v", ErrAllocation, r)
		}
	}()
	a.spawn(f)
	return nil
}

// abandon undoes an admission whose handler never started.
func (a *Adapter) abandon(c *Connection, nc net.Conn, err error) {
	logger.Error("%v: closing connection from %s", err, nc.RemoteAddr())
	a.metrics.RecordAllocationFailure()
	if c != nil {
		a.activeConnections.Delete(c.ID)
	}
	_ = nc.Close()
	a.releaseSlot()
	a.signal.Release()
	a.metrics.SetActiveConnections(a.signal.Live())
}

// finish is called exactly once by every handler that started.
func (a *Adapter) finish(c *Connection, outcome transport.Outcome) {
	a.activeConnections.Delete(c.ID)
	a.releaseSlot()
	a.signal.Release()

	a.metrics.RecordConnectionClosed(outcome.String(), time.Since(c.Accepted))
	a.metrics.SetActiveConnections(a.signal.Live())
}

func (a *Adapter) releaseSlot() {
	if a.connSemaphore != nil {
		<-a.connSemaphore
	}
}

// newConnection builds the per-connection state.
func (a *Adapter) newConnection(nc net.Conn) (*Connection, error) {
	id, err := a.newID()
	if err != nil {
		return nil, fmt.Errorf("connection id: %w", err)
	}
	sock, err := a.newSocket(nc)
	if err != nil {
		return nil, fmt.Errorf("transport socket: %w", err)
	}
	return &Connection{
		ID:       id,
		Peer:     peerAddr(nc.RemoteAddr()),
		Accepted: time.Now(),
		conn:     nc,
		sock:     sock,
		adapter:  a,
	}, nil
}

// isInterruptedAccept reports accept failures that are retried at once:
// the shutdown wake-up deadline, signal interruption and a peer that gave up
// while queued.
func isInterruptedAccept(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.ECONNABORTED)
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// logMetrics periodically logs the live-handler count.
func (a *Adapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(a.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("TCP metrics: active_connections=%d", a.signal.Live())
		}
	}
}

// Listening is closed once Serve has bound the socket.
func (a *Adapter) Listening() <-chan struct{} {
	return a.listening
}

// Stopping is closed once the accept loop has stopped admitting.
func (a *Adapter) Stopping() <-chan struct{} {
	return a.stopping
}

// Done is closed when Serve has returned.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Listener returns the bound listener, nil before Serve binds it.
func (a *Adapter) Listener() *socket.Listener {
	return a.listener.Load()
}

// GetActiveConnections returns the live-handler count.
func (a *Adapter) GetActiveConnections() int {
	return a.signal.Live()
}

// Signal returns the shutdown signal the adapter admits handlers into.
func (a *Adapter) Signal() *lifecycle.Signal {
	return a.signal
}

// Port returns the bound port once listening, the configured one before.
func (a *Adapter) Port() int {
	if l := a.listener.Load(); l != nil {
		return l.Port()
	}
	return a.config.Port
}

// Protocol returns "TCP".
func (a *Adapter) Protocol() string {
	return "TCP"
}
