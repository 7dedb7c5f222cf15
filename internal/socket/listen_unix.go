//go:build unix

package socket

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"github.com/marmos91/sockd/internal/logger"
	"golang.org/x/sys/unix"
)

func sockaddr(ap netip.AddrPort, ipv6 bool) unix.Sockaddr {
	if ipv6 {
		sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
		return sa
	}
	return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
}

// bindCandidate runs socket, setsockopt, bind and (for streams) listen on a
// single candidate address, then wraps the descriptor for the netpoller.
func bindCandidate(opts Options, ap netip.AddrPort) (*Listener, error) {
	family, typ := unix.AF_INET, unix.SOCK_STREAM
	if opts.IPv6 {
		family = unix.AF_INET6
	}
	if opts.UDP {
		typ = unix.SOCK_DGRAM
	}

	fd, err := unix.Socket(family, typ, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	keep := false
	defer func() {
		if !keep {
			_ = unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	dual := false
	if opts.IPv6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			logger.Warn("dual-stack unavailable on %s, continuing IPv6-only: %v", ap, err)
		} else {
			dual = true
		}
	}

	if err := unix.Bind(fd, sockaddr(ap, opts.IPv6)); err != nil {
		return nil, fmt.Errorf("bind %s: %w", ap, err)
	}

	if !opts.UDP {
		if err := unix.Listen(fd, opts.Backlog); err != nil {
			return nil, fmt.Errorf("%w: %s backlog %d: %w", ErrListen, ap, opts.Backlog, err)
		}
	}

	// net.FileListener and net.FilePacketConn duplicate the descriptor; the
	// os.File owns the original from here on.
	f := os.NewFile(uintptr(fd), fmt.Sprintf("%s-%s", opts.ProtocolName(), ap))
	defer f.Close()
	keep = true

	l := &Listener{opts: opts, dualMode: dual}
	if opts.UDP {
		pc, err := net.FilePacketConn(f)
		if err != nil {
			return nil, fmt.Errorf("%w: wrap datagram socket: %w", ErrBind, err)
		}
		l.packet = pc
		l.addr = boundAddr(pc.LocalAddr())
		return l, nil
	}

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap stream socket: %w", ErrListen, err)
	}
	l.stream = ln
	l.addr = boundAddr(ln.Addr())
	return l, nil
}
