// Package randrpc exposes the client builder and a per-credential registry.
//
// Every credential must map to exactly one [client.Client], since the Client
// owns the credential's pacing, back-off and quota state. Use [Lookup] (or a
// [Registry] of your own) to share that Client across call sites.
package randrpc

import (
	"sync"

	"github.com/adamwoolhether/randrpc/client"
)

// NewClient instantiates a new unregistered *Client for apiKey with the
// provided options.
func NewClient(apiKey string, opts ...client.Option) (*client.Client, error) {
	return client.Build(apiKey, opts...)
}

// Registry maps credentials to their Client.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*client.Client
	opts    []client.Option
}

// NewRegistry returns an empty Registry. opts are applied to every Client the
// registry creates, before the options passed to Lookup.
func NewRegistry(opts ...client.Option) *Registry {
	return &Registry{
		clients: make(map[string]*client.Client),
		opts:    opts,
	}
}

// Lookup returns the Client registered for apiKey, building and registering
// one on a miss. opts only take effect when the Client is built.
func (r *Registry) Lookup(apiKey string, opts ...client.Option) (*client.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[apiKey]; ok {
		return c, nil
	}

	all := make([]client.Option, 0, len(r.opts)+len(opts))
	all = append(all, r.opts...)
	all = append(all, opts...)

	c, err := client.Build(apiKey, all...)
	if err != nil {
		return nil, err
	}
	r.clients[apiKey] = c

	return c, nil
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Reset forgets every registered Client. Clients already handed out keep
// working, but subsequent lookups build fresh ones.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.clients)
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by [Lookup].
func Default() *Registry {
	return defaultRegistry
}

// Lookup returns the Client for apiKey from the process-wide registry.
func Lookup(apiKey string, opts ...client.Option) (*client.Client, error) {
	return defaultRegistry.Lookup(apiKey, opts...)
}
