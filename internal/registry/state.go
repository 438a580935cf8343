package registry

import (
	"fmt"
	"time"

	"github.com/nerrad567/beamline-core/internal/control"
)

// State is the lifecycle position of one named resource.
type State int

// Record lifecycle: Uncreated -> Connecting -> Ready | Failed.
// A Failed record is treated as absent and the next request creates anew.
const (
	StateUncreated State = iota
	StateConnecting
	StateReady
	StateFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateUncreated:
		return "uncreated"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so states render by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateUncreated; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("registry: unknown state %q", text)
}

// Record is the registry's entry for one name.
//
// Handle is set only while Connecting or Ready. Err is set only when Failed.
type Record struct {
	Name      string
	Address   string
	State     State
	Simulated bool
	Handle    control.Handle
	Err       error
	CreatedAt time.Time
}

// usable reports whether the record holds a handle callers may receive.
func (r Record) usable() bool {
	return r.State == StateReady && r.Handle != nil
}

// Summary is a JSON-friendly view of a Record.
type Summary struct {
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	State     State     `json:"state"`
	Simulated bool      `json:"simulated"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary returns the diagnostic view of r.
func (r Record) Summary() Summary {
	s := Summary{
		Name:      r.Name,
		Address:   r.Address,
		State:     r.State,
		Simulated: r.Simulated,
		CreatedAt: r.CreatedAt,
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	return s
}
