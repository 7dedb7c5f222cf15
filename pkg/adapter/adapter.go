package adapter

import (
	"context"
)

// Adapter represents a transport-specific server that can be managed by
// the server orchestrator.
//
// Lifecycle:
//  1. Creation: Adapter is created with its configuration, protocol handler
//     and the shared shutdown signal
//  2. Startup: Serve() binds the listening socket and blocks in the accept
//     loop
//  3. Shutdown: Stop() terminates admission, drains live handlers and
//     releases the listening socket
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve binds the listening socket and runs the accept loop until
	// shutdown. Cancelling ctx triggers the same drain as Stop.
	//
	// Returns:
	//   - nil after a clean drain
	//   - error if the listening socket could not be created or the drain
	//     did not complete
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown and waits for it to finish.
	//
	// Implementations must:
	//   - Be safe to call multiple times (idempotent)
	//   - Be safe to call concurrently with Serve()
	//   - Return ctx.Err() if ctx ends before the drain completes
	Stop(ctx context.Context) error

	// Protocol returns the human-readable name for logging and metrics.
	Protocol() string

	// Port returns the bound port, or the configured port before Serve has
	// bound it.
	Port() int
}
