package socket

import "errors"

// Startup failures of Listen. None of them is retried: the process cannot
// serve without a listening socket.
var (
	// ErrResolution indicates the bind address could not be resolved to any
	// candidate of the requested family.
	ErrResolution = errors.New("address resolution failed")

	// ErrBind indicates no resolved candidate could be created, configured
	// and bound.
	ErrBind = errors.New("bind failed")

	// ErrListen indicates a bound stream socket could not enter the
	// listening state.
	ErrListen = errors.New("listen failed")
)
