package tcp

import "errors"

var (
	// ErrAccept wraps a failed accept call. The loop logs it and continues.
	ErrAccept = errors.New("accept failed")

	// ErrAllocation indicates the per-connection state could not be built or
	// its handler could not be scheduled. The connection is closed and the
	// live counter restored.
	ErrAllocation = errors.New("connection allocation failed")

	// ErrUDPUnsupported rejects a datagram configuration: the adapter runs
	// one handler per stream connection.
	ErrUDPUnsupported = errors.New("UDP is not supported by the concurrent stream server")

	// ErrDrainTimeout reports that live connections had to be force-closed
	// after the shutdown timeout.
	ErrDrainTimeout = errors.New("shutdown timeout exceeded")

	// ErrListenerLost reports that the listening socket failed on its own and
	// the adapter shut down without being asked to.
	ErrListenerLost = errors.New("listening socket lost")
)
