package ports

import (
	"context"

	"github.com/songhahaha66/inlong/internal/domain"
)

// Transport opens connections to DataProxy endpoints.
type Transport interface {
	// Dial opens a connection to addr. The context bounds connection setup.
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Conn is a live transport handle bound to one endpoint.
// A Conn is used by one sender at a time.
type Conn interface {
	// Send transmits the packet and waits for the proxy acknowledgement.
	// A rejection by the proxy is reported as *domain.RejectError; the
	// connection stays usable in that case.
	Send(ctx context.Context, packet *domain.Packet) error

	// Probe performs a lightweight liveness check.
	Probe(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
