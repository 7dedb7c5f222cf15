package tcp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/sockd/internal/logger"
	"github.com/marmos91/sockd/internal/transport"
)

// Connection is one accepted stream socket, exclusively owned by the
// goroutine running Serve.
type Connection struct {
	// ID correlates log lines of this connection.
	ID uuid.UUID

	// Peer is the remote address as reported by accept.
	Peer netip.AddrPort

	// Accepted is when the connection was admitted.
	Accepted time.Time

	conn    net.Conn
	sock    transport.Socket
	adapter *Adapter

	closeOnce sync.Once
	closeErr  error
}

func peerAddr(addr net.Addr) netip.AddrPort {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.AddrPort()
	}
	if addr == nil {
		return netip.AddrPort{}
	}
	ap, _ := netip.ParseAddrPort(addr.String())
	return ap
}

// PeerString renders the peer for logs. IPv4 peers of a dual-stack socket
// are shown without the ::ffff: prefix.
func (c *Connection) PeerString() string {
	if !c.Peer.IsValid() {
		return "unknown"
	}
	return netip.AddrPortFrom(c.Peer.Addr().Unmap(), c.Peer.Port()).String()
}

// Serve repeats protocol exchanges until the peer disconnects or an
// exchange fails. It closes the connection and deregisters it from the
// adapter exactly once on every exit path, a panicking handler included.
//
// Errors never leave this goroutine: they end this connection only.
func (c *Connection) Serve(ctx context.Context) {
	outcome := transport.Complete
	exchanges := 0

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler %s from %s: %v", c.ID, c.PeerString(), r)
			outcome = transport.Error
		}
		_ = c.Close()
		c.adapter.finish(c, outcome)
		logger.Destroy("connection %s from %s finished: %s after %d exchange(s)",
			c.ID, c.PeerString(), outcome, exchanges)
	}()

	logger.Create("connection %s from %s", c.ID, c.PeerString())

	handler := c.adapter.handler
	timeout := c.adapter.config.Timeout
	m := c.adapter.metrics

	for {
		start := time.Now()
		stats, err := handler.Exchange(ctx, c.sock, timeout)
		duration := time.Since(start)

		m.RecordBytesTransferred("recv", stats.Received)
		m.RecordBytesTransferred("send", stats.Sent)
		if stats.Received > 0 {
			logger.Recv("connection %s: %d bytes", c.ID, stats.Received)
		}
		if stats.Sent > 0 {
			logger.Send("connection %s: %d bytes", c.ID, stats.Sent)
		}

		outcome = transport.Classify(err)
		m.RecordExchange(outcome.String(), duration)

		if err == nil {
			exchanges++
			continue
		}

		switch outcome {
		case transport.Closed:
			logger.Recv("connection %s: peer %s disconnected", c.ID, c.PeerString())
		case transport.Timeout:
			logger.Info("connection %s from %s idle for %s, closing",
				c.ID, c.PeerString(), describeTimeout(timeout))
		default:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Debug("connection %s cancelled: %v", c.ID, err)
			} else {
				logger.Warn("connection %s from %s: %v", c.ID, c.PeerString(), err)
			}
		}
		return
	}
}

// Close closes the socket. Safe to call from the shutdown path while Serve
// is running; the handler then fails its current wait and exits.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
