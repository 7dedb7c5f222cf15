// Package transport moves exact byte counts over a readiness-multiplexed
// socket.
//
// Every operation reports how many bytes it moved together with an error
// that wraps one of ErrTimeout, ErrPeerClosed or ErrTransfer, so a caller
// can tell "got exactly n" from "timed out with k<n" from "closed with k<n".
// Interrupted system calls are retried without spending a readiness wait.
package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	// Infinite disables the readiness deadline. Any negative timeout has the
	// same meaning.
	Infinite time.Duration = -1

	// DefaultTimeout is the wait used by Recv and Send.
	DefaultTimeout = 10 * time.Second
)

// Direction selects the readiness condition a Socket waits for.
type Direction int

const (
	Readable Direction = iota
	Writable
)

func (d Direction) String() string {
	if d == Writable {
		return "writable"
	}
	return "readable"
}

// Socket is a connected stream endpoint driven by explicit readiness waits.
//
// Wait blocks until the socket is ready in the given direction. A zero
// timeout checks readiness once without blocking; a negative timeout waits
// forever. Wait returns an error wrapping ErrTimeout when the deadline
// passes first.
//
// Read and Write perform a single non-blocking attempt and return the raw
// system error (EINTR, EAGAIN, ECONNRESET, ...) unchanged so that the
// transfer loops can classify it.
type Socket interface {
	Wait(dir Direction, timeout time.Duration) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// RecvAll reads exactly n bytes into buf[:n].
//
// Each iteration waits for readability bounded by timeout. On failure the
// returned count is the number of bytes already stored in buf.
func RecvAll(s Socket, buf []byte, n int, timeout time.Duration) (int, error) {
	if n < 0 || n > len(buf) {
		return 0, fmt.Errorf("%w: buffer holds %d bytes, %d requested", ErrTransfer, len(buf), n)
	}
	return transfer(s, Readable, buf[:n], timeout, true)
}

// SendAll writes exactly n bytes from buf[:n]. Partial writes advance the
// cursor so no byte is sent twice.
func SendAll(s Socket, buf []byte, n int, timeout time.Duration) (int, error) {
	if n < 0 || n > len(buf) {
		return 0, fmt.Errorf("%w: buffer holds %d bytes, %d requested", ErrTransfer, len(buf), n)
	}
	return transfer(s, Writable, buf[:n], timeout, true)
}

// RecvSome waits once for readability and returns whatever is available,
// at most len(buf) bytes. A successful return always carries n > 0.
func RecvSome(s Socket, buf []byte, timeout time.Duration) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	return transfer(s, Readable, buf, timeout, false)
}

// Recv is RecvAll with DefaultTimeout.
func Recv(s Socket, buf []byte, n int) (int, error) {
	return RecvAll(s, buf, n, DefaultTimeout)
}

// Send is SendAll with DefaultTimeout.
func Send(s Socket, buf []byte, n int) (int, error) {
	return SendAll(s, buf, n, DefaultTimeout)
}

// transfer is the loop shared by all operations. When exact is false it
// returns after the first successful attempt.
func transfer(s Socket, dir Direction, buf []byte, timeout time.Duration, exact bool) (int, error) {
	done := 0
	needWait := true

	for done < len(buf) {
		if needWait {
			if err := s.Wait(dir, timeout); err != nil {
				if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
					return done, fmt.Errorf("%w: %d of %d bytes after waiting %s for %s",
						ErrTimeout, done, len(buf), describe(timeout), dir)
				}
				return done, fmt.Errorf("%w: wait %s: %w", ErrTransfer, dir, err)
			}
		}

		var n int
		var err error
		if dir == Readable {
			n, err = s.Read(buf[done:])
		} else {
			n, err = s.Write(buf[done:])
		}
		if n > 0 {
			done += n
		}

		switch {
		case err == nil && n == 0:
			return done, fmt.Errorf("%w: %d of %d bytes", ErrPeerClosed, done, len(buf))
		case err == nil:
			if !exact {
				return done, nil
			}
			needWait = true
		case isInterrupted(err):
			needWait = false
		case isWouldBlock(err):
			needWait = true
		case errors.Is(err, os.ErrDeadlineExceeded):
			return done, fmt.Errorf("%w: %d of %d bytes after waiting %s for %s",
				ErrTimeout, done, len(buf), describe(timeout), dir)
		case errors.Is(err, io.EOF) || isPeerReset(err):
			return done, fmt.Errorf("%w: %d of %d bytes: %w", ErrPeerClosed, done, len(buf), err)
		default:
			return done, fmt.Errorf("%w: %d of %d bytes: %w", ErrTransfer, done, len(buf), err)
		}
	}

	return done, nil
}

func describe(timeout time.Duration) string {
	if timeout < 0 {
		return "forever"
	}
	return timeout.String()
}

// Outcome is the coarse result of a transfer, for logs and metrics.
type Outcome int

const (
	Complete Outcome = iota
	Timeout
	Closed
	Error
)

func (o Outcome) String() string {
	switch o {
	case Complete:
		return "complete"
	case Timeout:
		return "timeout"
	case Closed:
		return "closed"
	default:
		return "error"
	}
}

// Classify maps an error returned by this package to an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Complete
	case errors.Is(err, ErrTimeout):
		return Timeout
	case errors.Is(err, ErrPeerClosed):
		return Closed
	default:
		return Error
	}
}
