//go:build !unix

package socket

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// bindCandidate falls back to the standard listener on platforms without
// raw descriptor control. Dual-stack follows the platform default.
func bindCandidate(opts Options, ap netip.AddrPort) (*Listener, error) {
	network := "tcp4"
	if opts.IPv6 {
		network = "tcp"
	}
	if opts.UDP {
		network = "udp" + network[3:]
	}

	var lc net.ListenConfig
	l := &Listener{opts: opts, dualMode: opts.IPv6}

	if opts.UDP {
		pc, err := lc.ListenPacket(context.Background(), network, ap.String())
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", ap, err)
		}
		l.packet = pc
		l.addr = boundAddr(pc.LocalAddr())
		return l, nil
	}

	ln, err := lc.Listen(context.Background(), network, ap.String())
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", ap, err)
	}
	l.stream = ln
	l.addr = boundAddr(ln.Addr())
	return l, nil
}
