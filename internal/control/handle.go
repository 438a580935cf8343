package control

import (
	"context"
	"fmt"
	"time"
)

// Handle is a connectable proxy to one named control-system endpoint
// (a motor axis, a detector, a shutter).
//
// Implementations must be safe for concurrent use.
type Handle interface {
	// Name is the registry key the handle was created under.
	Name() string

	// Address is the full control-system address, prefix included.
	Address() string

	// WaitConnected blocks until the endpoint is reachable or timeout
	// elapses. Failure is reported as an error wrapping ErrConnection.
	WaitConnected(ctx context.Context, timeout time.Duration) error

	// Read returns the endpoint's current value.
	Read(ctx context.Context) (any, error)

	// Write sets the endpoint's value.
	Write(ctx context.Context, value any) error
}

// Factory constructs a handle for name at address. It must not block on
// connection; callers decide whether to wait.
type Factory func(name, address string) (Handle, error)

// PostCreate customises a handle after it has been created, and again on
// every later lookup that supplies it. Hooks must replace whatever
// configuration they set rather than add to it.
type PostCreate func(Handle) error

// Configurable is implemented by handles that accept a settings block,
// such as a set of named aperture positions.
type Configurable interface {
	// Configure replaces the handle's settings with settings.
	Configure(settings map[string]any) error
}

// Configure returns a PostCreate hook applying settings to a Configurable handle.
func Configure(settings map[string]any) PostCreate {
	return func(h Handle) error {
		c, ok := h.(Configurable)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotConfigurable, h.Name())
		}
		return c.Configure(settings)
	}
}

// copySettings returns a shallow copy so callers can't mutate stored settings.
func copySettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		out[k] = v
	}
	return out
}
