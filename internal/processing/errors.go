package processing

import "errors"

// Domain errors for the processing package.
//
// Every error returned by Trigger and Collector wraps one of these, except
// session send errors, which are returned exactly as the session produced
// them.
var (
	// ErrConfiguration is returned when the named broker environment cannot
	// be resolved or is unusable.
	ErrConfiguration = errors.New("processing: configuration error")

	// ErrTransport is returned when a broker session cannot be opened,
	// used or closed.
	ErrTransport = errors.New("processing: transport error")

	// ErrTimeout is returned when no result set arrives within the read bound.
	ErrTimeout = errors.New("processing: timed out waiting for results")

	// ErrNotTriggered is returned when the collector is read without a
	// pending trigger.
	ErrNotTriggered = errors.New("processing: collector not triggered")

	// ErrInvalidEvent is returned for events other than start and end.
	ErrInvalidEvent = errors.New("processing: invalid event")

	// ErrInvalidResult is returned when a result-set message cannot be decoded.
	ErrInvalidResult = errors.New("processing: invalid result set")
)
