package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/marmos91/sockd/internal/socket"
	"github.com/marmos91/sockd/pkg/adapter/tcp"
	"github.com/marmos91/sockd/pkg/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter blocks in Serve until stopped or its context ends.
type stubAdapter struct {
	port     int
	serveErr error
	stopped  chan struct{}
	stops    atomic.Int32
}

func newStub(port int, serveErr error) *stubAdapter {
	return &stubAdapter{port: port, serveErr: serveErr, stopped: make(chan struct{})}
}

func (s *stubAdapter) Serve(ctx context.Context) error {
	if s.serveErr != nil {
		return s.serveErr
	}
	select {
	case <-ctx.Done():
	case <-s.stopped:
	}
	return nil
}

func (s *stubAdapter) Stop(ctx context.Context) error {
	if s.stops.Add(1) == 1 {
		close(s.stopped)
	}
	return nil
}

func (s *stubAdapter) Protocol() string { return "STUB" }
func (s *stubAdapter) Port() int        { return s.port }

func tcpAdapter(sig *lifecycle.Signal) *tcp.Adapter {
	return tcp.New(tcp.Config{
		BindAddress:       "127.0.0.1",
		Timeout:           time.Second,
		DrainPollInterval: 10 * time.Millisecond,
	}, nil, sig, nil)
}

func serveAsync(srv *Server) <-chan error {
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestServeWithoutAdapters(t *testing.T) {
	srv := New(nil)
	assert.Error(t, srv.Serve(context.Background()))
}

func TestServeTwice(t *testing.T) {
	srv := New(nil)
	stub := newStub(1, nil)
	require.NoError(t, srv.AddAdapter(stub))

	done := serveAsync(srv)
	time.Sleep(20 * time.Millisecond)
	assert.Error(t, srv.Serve(context.Background()))

	srv.Terminate(uint32(syscall.SIGTERM))
	require.NoError(t, waitDone(t, done))
}

func TestAddAdapterPortConflict(t *testing.T) {
	srv := New(nil)
	require.NoError(t, srv.AddAdapter(newStub(8000, nil)))
	assert.Error(t, srv.AddAdapter(newStub(8000, nil)))

	// Kernel-assigned ports never conflict.
	require.NoError(t, srv.AddAdapter(newStub(0, nil)))
	require.NoError(t, srv.AddAdapter(newStub(0, nil)))
	assert.Len(t, srv.Adapters(), 3)
}

func TestTerminateDrainsTCPAdapter(t *testing.T) {
	sig := lifecycle.New()
	a := tcpAdapter(sig)

	srv := New(sig)
	require.NoError(t, srv.AddAdapter(a))
	done := serveAsync(srv)

	select {
	case <-a.Listening():
	case <-time.After(3 * time.Second):
		t.Fatal("adapter did not start listening")
	}
	assert.True(t, srv.Ready())

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(a.Port())))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sig.Live() == 1 }, 3*time.Second, 5*time.Millisecond)

	srv.Terminate(uint32(syscall.SIGINT))
	assert.False(t, srv.Ready())

	select {
	case <-done:
		t.Fatal("Serve returned while a client was still connected")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, conn.Close())
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, uint32(syscall.SIGINT), sig.Cause())
	assert.True(t, a.Listener().Closed())
}

func TestTerminateStopsPlainAdapters(t *testing.T) {
	srv := New(nil)
	stub := newStub(1, nil)
	require.NoError(t, srv.AddAdapter(stub))
	done := serveAsync(srv)

	time.Sleep(20 * time.Millisecond)
	srv.Terminate(uint32(syscall.SIGTERM))

	require.NoError(t, waitDone(t, done))
	assert.Equal(t, int32(1), stub.stops.Load())
}

func TestAdapterFailureStopsOthers(t *testing.T) {
	sig := lifecycle.New()
	healthy := tcpAdapter(sig)
	failing := newStub(1, errors.New("bind failed"))

	srv := New(sig)
	require.NoError(t, srv.AddAdapter(healthy))
	require.NoError(t, srv.AddAdapter(failing))

	err := waitDone(t, serveAsync(srv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind failed")
	assert.Equal(t, lifecycle.CauseRequested, sig.Cause())
}

func TestBindFailureSurfaces(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	a := tcp.New(tcp.Config{
		BindAddress: "127.0.0.1",
		Port:        occupied.Addr().(*net.TCPAddr).Port,
	}, nil, nil, nil)

	srv := New(nil)
	require.NoError(t, srv.AddAdapter(a))
	err = srv.Serve(context.Background())
	assert.ErrorIs(t, err, socket.ErrBind)
}

func TestContextCancellation(t *testing.T) {
	sig := lifecycle.New()
	srv := New(sig)
	require.NoError(t, srv.AddAdapter(tcpAdapter(sig)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, waitDone(t, done))
	assert.True(t, sig.Terminated())
}
