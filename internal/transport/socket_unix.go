//go:build unix

package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// deadliner is the subset of net.Conn used to bound netpoller waits.
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// rawSocket drives a connected descriptor through syscall.RawConn. Waits go
// through the runtime netpoller; reads and writes are single non-blocking
// system calls on the descriptor.
type rawSocket struct {
	conn deadliner
	rc   syscall.RawConn
}

// NewSocket wraps an accepted connection. The connection must expose its
// descriptor through syscall.Conn (every *net.TCPConn and *net.UnixConn
// does).
func NewSocket(conn net.Conn) (Socket, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("connection %T does not expose a descriptor", conn)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("syscall conn: %w", err)
	}
	return &rawSocket{conn: conn, rc: rc}, nil
}

func pollEvents(dir Direction) int16 {
	if dir == Writable {
		return unix.POLLOUT
	}
	return unix.POLLIN
}

// ready polls fd once without blocking. Error and hangup conditions count as
// ready so that the following read or write reports them.
func ready(fd uintptr, events int16) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := unix.Poll(fds, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0 && fds[0].Revents != 0, nil
	}
}

func (s *rawSocket) Wait(dir Direction, timeout time.Duration) error {
	events := pollEvents(dir)

	if timeout == 0 {
		var ok bool
		var pollErr error
		if err := s.rc.Control(func(fd uintptr) {
			ok, pollErr = ready(fd, events)
		}); err != nil {
			return err
		}
		if pollErr != nil {
			return pollErr
		}
		if !ok {
			return ErrTimeout
		}
		return nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	var pollErr error
	check := func(fd uintptr) bool {
		var ok bool
		ok, pollErr = ready(fd, events)
		return ok || pollErr != nil
	}

	var err error
	if dir == Writable {
		if err = s.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		err = s.rc.Write(check)
	} else {
		if err = s.conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		err = s.rc.Read(check)
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrTimeout
	}
	if err != nil {
		return err
	}
	return pollErr
}

func (s *rawSocket) Read(p []byte) (int, error) {
	var n int
	var opErr error
	if err := s.rc.Control(func(fd uintptr) {
		n, opErr = unix.Read(int(fd), p)
	}); err != nil {
		return 0, err
	}
	if opErr != nil {
		return 0, opErr
	}
	return n, nil
}

func (s *rawSocket) Write(p []byte) (int, error) {
	var n int
	var opErr error
	if err := s.rc.Control(func(fd uintptr) {
		n, opErr = unix.Write(int(fd), p)
	}); err != nil {
		return 0, err
	}
	if opErr != nil {
		return 0, opErr
	}
	return n, nil
}

func isInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func isPeerReset(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ENOTCONN)
}
