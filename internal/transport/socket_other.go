//go:build !unix

package transport

import (
	"errors"
	"net"
	"syscall"
	"time"
)

// connSocket approximates readiness waits with connection deadlines: Wait
// records the bound and the next Read or Write applies it.
type connSocket struct {
	conn     net.Conn
	deadline time.Time
}

func NewSocket(conn net.Conn) (Socket, error) {
	return &connSocket{conn: conn}, nil
}

func (s *connSocket) Wait(dir Direction, timeout time.Duration) error {
	switch {
	case timeout < 0:
		s.deadline = time.Time{}
	case timeout == 0:
		s.deadline = time.Now().Add(time.Millisecond)
	default:
		s.deadline = time.Now().Add(timeout)
	}
	return nil
}

func (s *connSocket) Read(p []byte) (int, error) {
	if err := s.conn.SetReadDeadline(s.deadline); err != nil {
		return 0, err
	}
	return s.conn.Read(p)
}

func (s *connSocket) Write(p []byte) (int, error) {
	if err := s.conn.SetWriteDeadline(s.deadline); err != nil {
		return 0, err
	}
	return s.conn.Write(p)
}

func isInterrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN)
}

func isPeerReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, net.ErrClosed)
}
