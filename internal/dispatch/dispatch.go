package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"MultiBridge/internal/message"
)

// ErrNoHandler is returned when no handler is registered for a target.
var ErrNoHandler = errors.New("no handler for target")

// Meta is appended to every downstream call so the receiver can tell which
// message and origin authorized it.
type Meta struct {
	MsgID      message.ID      // MsgID is the identity of the executed message
	SrcChainID message.ChainID // SrcChainID is the chain the message came from
	Upstream   message.Address // Upstream is the aggregator that authorized it on SrcChainID
}

// Call is one downstream invocation of a quorum-approved message.
type Call struct {
	Target  message.Address // Target selects the handler
	Payload []byte          // Payload is passed through unmodified
	Meta    Meta            // Meta identifies the authorizing message
}

// Handler executes calls for one target.
// A non-nil error aborts the attestation that triggered the call.
type Handler interface {
	Invoke(ctx context.Context, call Call) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, call Call) error

// Invoke calls f(ctx, call).
func (f HandlerFunc) Invoke(ctx context.Context, call Call) error {
	return f(ctx, call)
}

// Router maps target addresses to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[message.Address]Handler // handlers maps a target to its handler
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[message.Address]Handler)}
}

// Register binds h to target, replacing any previous handler.
func (r *Router) Register(target message.Address, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[target] = h
}

// Unregister removes the handler of target.
func (r *Router) Unregister(target message.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, target)
}

// Targets returns the registered target addresses.
func (r *Router) Targets() []message.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]message.Address, 0, len(r.handlers))
	for t := range r.handlers {
		targets = append(targets, t)
	}

	return targets
}

// Dispatch invokes the handler registered for call.Target.
func (r *Router) Dispatch(ctx context.Context, call Call) error {
	r.mu.RLock()
	h, ok := r.handlers[call.Target]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, call.Target.Short())
	}

	return h.Invoke(ctx, call)
}
