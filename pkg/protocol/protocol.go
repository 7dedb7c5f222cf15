// Package protocol defines the application-level exchange a connection
// handler repeats until the peer goes away.
package protocol

import (
	"context"
	"time"

	"github.com/marmos91/sockd/internal/transport"
)

// Stats counts the bytes moved by one exchange.
type Stats struct {
	Received int
	Sent     int
}

// Handler performs request/response cycles on a connected socket.
//
// Exchange runs exactly one cycle. It returns a transport error (see
// transport.Classify) when the cycle could not complete; the connection
// handler ends on any error. Implementations are shared by every connection
// and must be safe for concurrent use.
type Handler interface {
	Name() string
	Exchange(ctx context.Context, s transport.Socket, timeout time.Duration) (Stats, error)
}
