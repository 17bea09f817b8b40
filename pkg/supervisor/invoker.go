package supervisor

import (
	"context"
	"encoding/json"
	"errors"
)

// Invoker resolves handler names through the registry and calls them
// over the RPC client. Workflow nodes depend on this, not on the
// registry or process table directly.
type Invoker struct {
	registry *Registry
	client   *Client
}

// NewInvoker builds an invoker over the given registry and client.
func NewInvoker(registry *Registry, client *Client) *Invoker {
	return &Invoker{registry: registry, client: client}
}

// Invoke calls one operation on the named handler. An unregistered name
// reports the handler unavailable, same as a registered-but-dead one:
// callers degrade identically either way.
func (i *Invoker) Invoke(ctx context.Context, handler, operation string, input json.RawMessage) (json.RawMessage, error) {
	d, err := i.registry.Describe(handler)
	if err != nil {
		if errors.Is(err, ErrHandlerNotFound) {
			return nil, &UnavailableError{Name: handler, Err: err}
		}
		return nil, err
	}
	return i.client.Invoke(ctx, d, operation, input)
}

// Capabilities lists the named handler's advertised operations.
func (i *Invoker) Capabilities(ctx context.Context, handler string) ([]Capability, error) {
	d, err := i.registry.Describe(handler)
	if err != nil {
		return nil, err
	}
	return i.client.Capabilities(ctx, d)
}
