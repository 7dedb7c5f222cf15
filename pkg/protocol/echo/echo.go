// Package echo is the placeholder application protocol: every chunk
// received is written back unchanged.
package echo

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/sockd/internal/transport"
	"github.com/marmos91/sockd/pkg/protocol"
)

const (
	// DefaultChunkSize is the largest read served by a single exchange.
	DefaultChunkSize = 1024

	// MaxChunkSize caps the per-exchange buffer.
	MaxChunkSize = 1 << 20
)

// Config holds the echo options decoded from the protocol section.
type Config struct {
	ChunkSize int `mapstructure:"chunk_size" validate:"min=0,max=1048576" yaml:"chunk_size" json:"chunk_size,omitempty"`
}

// Handler echoes up to ChunkSize bytes per exchange.
type Handler struct {
	chunkSize int
	pool      sync.Pool
}

var _ protocol.Handler = (*Handler)(nil)

// New returns an echo handler. A non-positive chunk size selects
// DefaultChunkSize.
func New(cfg Config) *Handler {
	size := cfg.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	if size > MaxChunkSize {
		size = MaxChunkSize
	}

	h := &Handler{chunkSize: size}
	h.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return h
}

func (h *Handler) Name() string {
	return "echo"
}

// ChunkSize returns the effective per-exchange buffer size.
func (h *Handler) ChunkSize() int {
	return h.chunkSize
}

// Exchange receives whatever the peer has sent, up to one chunk, and sends
// the same bytes back.
func (h *Handler) Exchange(ctx context.Context, s transport.Socket, timeout time.Duration) (protocol.Stats, error) {
	var stats protocol.Stats

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	bufp := h.pool.Get().(*[]byte)
	defer h.pool.Put(bufp)
	buf := *bufp

	n, err := transport.RecvSome(s, buf, timeout)
	stats.Received = n
	if err != nil {
		return stats, err
	}

	sent, err := transport.SendAll(s, buf, n, timeout)
	stats.Sent = sent
	return stats, err
}
