package registry

import "errors"

// Domain errors for the registry package.
// Connection failures are reported with control.ErrConnection.
var (
	// ErrNotFound is returned by State lookups for names never requested.
	ErrNotFound = errors.New("registry: resource not found")

	// ErrNoFactory is returned when a new resource is requested without a factory.
	ErrNoFactory = errors.New("registry: no factory for new resource")

	// ErrPostCreate wraps a failure returned by a post-create hook.
	ErrPostCreate = errors.New("registry: post-create hook failed")

	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("registry: closed")
)
