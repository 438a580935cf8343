package control

import "errors"

// Domain errors for the control package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, control.ErrConnection) {
//	    // retry creation later
//	}
var (
	// ErrConnection is returned when a handle fails to reach the connected
	// state within its wait window.
	ErrConnection = errors.New("control: connection failed")

	// ErrNotConnected is returned when reading a handle that has no value yet.
	ErrNotConnected = errors.New("control: not connected")

	// ErrReadOnly is returned when writing to a read-only handle.
	ErrReadOnly = errors.New("control: read-only resource")

	// ErrNotConfigurable is returned when settings are applied to a handle
	// that does not accept them.
	ErrNotConfigurable = errors.New("control: handle is not configurable")

	// ErrInvalidAddress is returned when a factory is given an empty address.
	ErrInvalidAddress = errors.New("control: invalid address")
)
