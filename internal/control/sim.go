package control

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimHandle is an in-process stand-in for a real endpoint. It connects
// immediately (unless told to fail), remembers the last written value and
// accepts settings.
type SimHandle struct {
	name    string
	address string

	mu         sync.RWMutex
	value      any
	settings   map[string]any
	connected  bool
	connectErr error
	configured int
}

// SimOption configures a SimHandle.
type SimOption func(*SimHandle)

// WithInitialValue sets the value returned by Read before any Write.
func WithInitialValue(v any) SimOption {
	return func(h *SimHandle) { h.value = v }
}

// WithConnectError makes WaitConnected fail with err wrapped in ErrConnection.
func WithConnectError(err error) SimOption {
	return func(h *SimHandle) { h.connectErr = err }
}

// NewSimHandle creates a simulated handle.
func NewSimHandle(name, address string, opts ...SimOption) *SimHandle {
	h := &SimHandle{name: name, address: address}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Simulated returns a Factory producing SimHandles. It stands in for a real
// factory when a resource must be created without the control system.
func Simulated(opts ...SimOption) Factory {
	return func(name, address string) (Handle, error) {
		return NewSimHandle(name, address, opts...), nil
	}
}

// Name implements Handle.
func (h *SimHandle) Name() string { return h.name }

// Address implements Handle.
func (h *SimHandle) Address() string { return h.address }

// WaitConnected implements Handle.
func (h *SimHandle) WaitConnected(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnection, h.address, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connectErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnection, h.address, h.connectErr)
	}
	h.connected = true
	return nil
}

// Connected reports whether WaitConnected has succeeded.
func (h *SimHandle) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connected
}

// Read implements Handle.
func (h *SimHandle) Read(_ context.Context) (any, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value, nil
}

// Write implements Handle.
func (h *SimHandle) Write(_ context.Context, value any) error {
	h.mu.Lock()
	h.value = value
	h.mu.Unlock()
	return nil
}

// Configure implements Configurable. Prior settings are discarded.
func (h *SimHandle) Configure(settings map[string]any) error {
	h.mu.Lock()
	h.settings = copySettings(settings)
	h.configured++
	h.mu.Unlock()
	return nil
}

// Settings returns a copy of the current settings.
func (h *SimHandle) Settings() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copySettings(h.settings)
}

// ConfigureCount returns how many times Configure has been called.
func (h *SimHandle) ConfigureCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.configured
}
