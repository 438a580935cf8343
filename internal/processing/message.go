package processing

import (
	"fmt"
	"os"
	"os/user"
)

// Event marks the boundary of a collection being announced.
type Event string

const (
	EventStart Event = "start"
	EventEnd   Event = "end"
)

// Valid reports whether e is start or end.
func (e Event) Valid() bool {
	return e == EventStart || e == EventEnd
}

// ParseEvent converts a string to an Event.
func ParseEvent(s string) (Event, error) {
	e := Event(s)
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEvent, s)
	}
	return e, nil
}

// Wire constants shared with the analysis service.
const (
	// Recipe is the processing recipe every trigger requests.
	Recipe = "mimas"

	// Destination is the broker destination triggers are sent to.
	Destination = "processing_recipe"

	// HeaderUser and HeaderHost carry the sender identity.
	HeaderUser = "zocalo.go.user"
	HeaderHost = "zocalo.go.host"
)

// Message is one trigger: an event for a collection.
type Message struct {
	Event        Event `json:"event"`
	CollectionID int64 `json:"ispyb_dcid"`
}

// Envelope is what a Session sends. Headers travel out of band where the
// transport supports it.
type Envelope struct {
	Recipes    []string          `json:"recipes"`
	Parameters Message           `json:"parameters"`
	Headers    map[string]string `json:"-"`
}

// NewEnvelope builds the envelope for msg sent by id.
func NewEnvelope(msg Message, id Identity) Envelope {
	return Envelope{
		Recipes:    []string{Recipe},
		Parameters: msg,
		Headers: map[string]string{
			HeaderUser: id.User,
			HeaderHost: id.Host,
		},
	}
}

// Identity names who sent a trigger.
type Identity struct {
	User string
	Host string
}

// CurrentIdentity returns the login name and host name of this process.
//
// The login name comes from LOGNAME, USER, LNAME or USERNAME, in that order,
// then from the user database.
func CurrentIdentity() Identity {
	id := Identity{Host: "localhost"}
	for _, key := range []string{"LOGNAME", "USER", "LNAME", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			id.User = v
			break
		}
	}
	if id.User == "" {
		if u, err := user.Current(); err == nil {
			id.User = u.Username
		}
	}
	if h, err := os.Hostname(); err == nil {
		id.Host = h
	}
	return id
}
