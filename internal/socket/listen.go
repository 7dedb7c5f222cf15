// Package socket builds the listening endpoint of the server.
//
// Listen resolves the bind address for the selected family, tries each
// candidate in resolution order and returns the first one that can be
// created, configured (address reuse, dual-stack) and bound. Stream sockets
// are additionally placed in the listening state with the configured
// backlog. The resulting descriptor is handed to the runtime netpoller.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/sockd/internal/logger"
)

// Options selects what Listen binds.
type Options struct {
	// Address is a host name or literal. Empty means the wildcard address
	// of the selected family.
	Address string

	// Port to bind. 0 lets the kernel choose.
	Port int

	// IPv6 selects AF_INET6 (dual-stack where the platform permits)
	// instead of AF_INET.
	IPv6 bool

	// UDP selects a datagram socket instead of a stream socket.
	UDP bool

	// Backlog is the accept queue length for stream sockets.
	Backlog int
}

// FamilyName is "IPv6" or "IPv4".
func (o Options) FamilyName() string {
	if o.IPv6 {
		return "IPv6"
	}
	return "IPv4"
}

// ProtocolName is "UDP" or "TCP".
func (o Options) ProtocolName() string {
	if o.UDP {
		return "UDP"
	}
	return "TCP"
}

// Listener owns the bound socket for the lifetime of the server. Exactly
// one of the stream or packet sides is set. Close is idempotent.
type Listener struct {
	opts     Options
	addr     netip.AddrPort
	dualMode bool

	stream net.Listener
	packet net.PacketConn

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Listen creates, configures and binds a socket according to opts.
func Listen(ctx context.Context, opts Options) (*Listener, error) {
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrResolution, opts.Port)
	}
	if opts.Backlog <= 0 {
		opts.Backlog = 1
	}

	candidates, err := resolve(ctx, opts)
	if err != nil {
		return nil, err
	}

	var failures []error
	for _, candidate := range candidates {
		l, err := bindCandidate(opts, netip.AddrPortFrom(candidate, uint16(opts.Port)))
		if err == nil {
			logger.Create("listening on port %d (%s/%s)", l.Port(), opts.FamilyName(), opts.ProtocolName())
			return l, nil
		}
		if errors.Is(err, ErrListen) {
			return nil, err
		}
		logger.Debug("bind candidate %s rejected: %v", candidate, err)
		failures = append(failures, fmt.Errorf("%s: %w", candidate, err))
	}

	return nil, fmt.Errorf("%w: port %d (%s/%s): %w", ErrBind, opts.Port,
		opts.FamilyName(), opts.ProtocolName(), errors.Join(failures...))
}

// resolve returns the bind candidates for the selected family in resolver
// order.
func resolve(ctx context.Context, opts Options) ([]netip.Addr, error) {
	network := "ip4"
	if opts.IPv6 {
		network = "ip6"
	}

	if opts.Address == "" {
		if opts.IPv6 {
			return []netip.Addr{netip.IPv6Unspecified()}, nil
		}
		return []netip.Addr{netip.IPv4Unspecified()}, nil
	}

	if addr, err := netip.ParseAddr(opts.Address); err == nil {
		if !opts.IPv6 {
			addr = addr.Unmap()
			if !addr.Is4() {
				return nil, fmt.Errorf("%w: %s is not an IPv4 address", ErrResolution, opts.Address)
			}
		}
		return []netip.Addr{addr}, nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, network, opts.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrResolution, opts.Address, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s has no %s address", ErrResolution, opts.Address, network)
	}
	if !opts.IPv6 {
		for i := range addrs {
			addrs[i] = addrs[i].Unmap()
		}
	}
	return addrs, nil
}

// Accept waits for the next stream connection.
func (l *Listener) Accept() (net.Conn, error) {
	if l.stream == nil {
		return nil, fmt.Errorf("accept on %s listener", l.opts.ProtocolName())
	}
	return l.stream.Accept()
}

// SetDeadline bounds pending and future Accept calls. A deadline in the past
// wakes a blocked Accept with a timeout error while keeping the socket open.
func (l *Listener) SetDeadline(t time.Time) error {
	type deadliner interface{ SetDeadline(time.Time) error }

	var target any = l.stream
	if l.stream == nil {
		target = l.packet
	}
	d, ok := target.(deadliner)
	if !ok {
		return fmt.Errorf("listener %T does not support deadlines", target)
	}
	return d.SetDeadline(t)
}

// Close releases the socket. Later calls return the first result.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		if l.stream != nil {
			l.closeErr = l.stream.Close()
		} else {
			l.closeErr = l.packet.Close()
		}
		l.closed.Store(true)
		logger.Destroy("released port %d (%s/%s)", l.Port(), l.opts.FamilyName(), l.opts.ProtocolName())
	})
	return l.closeErr
}

// Closed reports whether Close has run.
func (l *Listener) Closed() bool {
	return l.closed.Load()
}

// Addr is the bound local address.
func (l *Listener) Addr() netip.AddrPort {
	return l.addr
}

// Port is the bound port, resolved by the kernel when 0 was requested.
func (l *Listener) Port() int {
	return int(l.addr.Port())
}

// DualStack reports whether an IPv6 socket also accepts IPv4-mapped peers.
func (l *Listener) DualStack() bool {
	return l.dualMode
}

// PacketConn returns the datagram side, nil for stream listeners.
func (l *Listener) PacketConn() net.PacketConn {
	return l.packet
}

// Options returns the options the listener was created with.
func (l *Listener) Options() Options {
	return l.opts
}

// boundAddr reads the local address back from the wrapped socket.
func boundAddr(addr net.Addr) netip.AddrPort {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.AddrPort()
	case *net.UDPAddr:
		return a.AddrPort()
	default:
		ap, _ := netip.ParseAddrPort(addr.String())
		return ap
	}
}
