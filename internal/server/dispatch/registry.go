// Package dispatch routes deserialized packets through an ordered middleware
// chain to opcode handlers and converts every outcome, including panics,
// into exactly one response packet.
package dispatch

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gatekeeper/internal/protocol"
	"github.com/dmitrijs2005/gatekeeper/internal/server/conn"
)

// Request is the in-flight unit handed to middleware stages and handlers.
type Request struct {
	Conn   *conn.Connection
	Packet protocol.Packet

	// detached is set by the timeout stage when it gives up on a handler
	// that is still running. The stage then owns releasing the packet;
	// Dispatch must leave it alone. Only the dispatching goroutine touches
	// this field.
	detached bool
}

// HandlerFunc processes a request and returns the response packet. Errors
// are mapped to status responses at the dispatch edge; handlers never write
// to the wire themselves.
type HandlerFunc func(ctx context.Context, req *Request) (protocol.Packet, error)

// Middleware wraps a handler with one inbound processing stage. Stages
// compose like unary interceptors: the first middleware in the chain sees
// the request first and the response last.
type Middleware func(next HandlerFunc) HandlerFunc

// Registration declares a handler plus the requirements the permission and
// unwrap stages consult: the minimum permission level and whether the
// opcode demands an encrypted payload.
type Registration struct {
	Handler          HandlerFunc
	MinPermission    conn.PermissionLevel
	RequireEncrypted bool
}

// Registry is the static opcode table built once at startup.
type Registry struct {
	handlers map[uint16]Registration
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint16]Registration)}
}

// Register adds a handler for an opcode. Registering the same opcode twice
// is a wiring bug and panics at startup.
func (r *Registry) Register(op uint16, reg Registration) {
	if _, ok := r.handlers[op]; ok {
		panic(fmt.Sprintf("dispatch: opcode 0x%04X registered twice", op))
	}
	if reg.Handler == nil {
		panic(fmt.Sprintf("dispatch: opcode 0x%04X registered without handler", op))
	}
	r.handlers[op] = reg
}

func (r *Registry) lookup(op uint16) (Registration, bool) {
	reg, ok := r.handlers[op]
	return reg, ok
}

// chain composes middlewares around a handler so that mw[0] runs first on
// the way in and last on the way out.
func chain(h HandlerFunc, mw ...Middleware) HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
