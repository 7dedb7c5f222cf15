// Package lifecycle holds the process-wide shutdown state shared by the
// accept loop, every connection handler and the shutdown coordinator.
//
// The termination cause and the live-handler counter live in one 64-bit
// word so that "admit a handler only while running" is a single
// compare-and-swap. No operation takes a lock, so Terminate is safe to call
// from a signal-delivery goroutine while handlers are mid-flight.
package lifecycle

import (
	"fmt"
	"sync/atomic"
)

const (
	causeShift  = 32
	counterMask = 1<<causeShift - 1
)

// Signal is the shutdown flag plus the live-handler counter.
//
// Layout of the word:
//
//	bits 63..32  termination cause (0 while running)
//	bits 31..0   number of live handlers
//
// The zero value is a running signal with no handlers.
type Signal struct {
	state atomic.Uint64
}

// New returns a running Signal with a zero counter.
func New() *Signal {
	return &Signal{}
}

// Admit registers one handler. It returns false once Terminate has been
// called; the caller must then drop the connection it was about to hand off.
func (s *Signal) Admit() bool {
	for {
		old := s.state.Load()
		if old>>causeShift != 0 {
			return false
		}
		if old&counterMask == counterMask {
			panic("lifecycle: live handler counter overflow")
		}
		if s.state.CompareAndSwap(old, old+1) {
			return true
		}
	}
}

// Release deregisters one handler. Releasing more handlers than were
// admitted is a programming error and panics.
func (s *Signal) Release() {
	for {
		old := s.state.Load()
		if old&counterMask == 0 {
			panic("lifecycle: Release called with no live handlers")
		}
		if s.state.CompareAndSwap(old, old-1) {
			return
		}
	}
}

// Terminate sets the termination cause. Only the first call with a nonzero
// cause changes state; it reports whether this call was that one.
func (s *Signal) Terminate(cause uint32) bool {
	if cause == 0 {
		panic("lifecycle: termination cause must be nonzero")
	}
	for {
		old := s.state.Load()
		if old>>causeShift != 0 {
			return false
		}
		next := uint64(cause)<<causeShift | old&counterMask
		if s.state.CompareAndSwap(old, next) {
			return true
		}
	}
}

// Terminated reports whether Terminate has been called.
func (s *Signal) Terminated() bool {
	return s.state.Load()>>causeShift != 0
}

// Cause returns the termination cause, or 0 while running.
func (s *Signal) Cause() uint32 {
	return uint32(s.state.Load() >> causeShift)
}

// Live returns the number of handlers currently registered.
func (s *Signal) Live() int {
	return int(s.state.Load() & counterMask)
}

func (s *Signal) String() string {
	v := s.state.Load()
	return fmt.Sprintf("cause=%d live=%d", v>>causeShift, v&counterMask)
}

// Causes that do not come from a process signal. Signal numbers are small
// positive integers, so these never collide with them.
const (
	// CauseRequested marks a programmatic shutdown (Stop or a cancelled
	// context).
	CauseRequested uint32 = 1 << 16

	// CauseListenerLost marks a listening socket that stopped working.
	CauseListenerLost uint32 = 1<<16 + 1
)
