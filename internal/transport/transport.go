// Package transport defines the abstract byte-less message pipe that the
// Protocol Core runs over.
package transport

import (
	"context"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
)

// Transport is an abstract bidirectional, decoded-message pipe. A single
// Transport instance is owned exclusively by one Protocol Core for its
// lifetime.
type Transport interface {
	// Start wires the transport's delivery loop. OnMessage/OnError/OnClose
	// must be set before Start is called.
	Start(ctx context.Context) error

	// Send writes one complete message. Implementations MUST frame the whole
	// message atomically relative to other Send calls.
	Send(ctx context.Context, msg jsonrpc.Message) error

	// Close tears the transport down. Idempotent.
	Close() error

	// SetCallbacks installs the three delivery callbacks. Must be called
	// before Start.
	SetCallbacks(onMessage func(jsonrpc.Message), onError func(error), onClose func())
}

// SessionTransport is implemented by transports that carry a server-assigned
// session identifier (e.g. Streamable HTTP).
type SessionTransport interface {
	Transport
	SessionID() string
}
