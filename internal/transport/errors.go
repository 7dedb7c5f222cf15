package transport

import "errors"

// Transfer outcomes other than success. Every error returned by RecvAll,
// SendAll and RecvSome wraps exactly one of these, so callers classify with
// errors.Is (or Classify) and still read the byte count returned alongside.
//
// Usage Pattern:
//
//	n, err := transport.RecvAll(s, buf, 5, timeout)
//	if errors.Is(err, transport.ErrTimeout) {
//	    // n < 5 bytes arrived before the wait expired
//	}
var (
	// ErrTimeout indicates the readiness wait expired before the transfer
	// completed. The returned count holds the bytes moved before the wait,
	// which may be nonzero: a partial transfer is not rolled back to 0.
	ErrTimeout = errors.New("transfer timed out")

	// ErrPeerClosed indicates the peer closed or reset the connection.
	ErrPeerClosed = errors.New("peer closed connection")

	// ErrTransfer indicates any other I/O failure on the socket.
	ErrTransfer = errors.New("transfer failed")
)
