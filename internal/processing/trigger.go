package processing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
)

// Session is one open broker connection. It is used for a single trigger
// and closed afterwards.
type Session interface {
	Send(ctx context.Context, destination string, env Envelope) error
	Close() error
}

// SessionOpener opens a session against a broker environment.
// Errors should wrap ErrConfiguration or ErrTransport.
type SessionOpener interface {
	Open(ctx context.Context, env *config.BrokerEnvironment) (Session, error)
}

// EnvironmentSource resolves broker environments by name.
// config.EnvironmentFile satisfies it.
type EnvironmentSource interface {
	Lookup(name string) (*config.BrokerEnvironment, error)
}

// Notification describes the outcome of one Notify call.
type Notification struct {
	Message     Message
	Environment string
	Err         error
	Duration    time.Duration
}

// NotificationObserver is told about every Notify outcome. Observers must
// not block; their failures are their own to report.
type NotificationObserver interface {
	ObserveNotification(ctx context.Context, n Notification)
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Trigger announces collection start and end to the analysis service.
//
// Each Notify resolves the environment, opens its own session, sends one
// envelope and closes the session on every path. Nothing is retried and
// send errors are returned unmodified.
type Trigger struct {
	environment string
	envs        EnvironmentSource
	opener      SessionOpener
	identity    Identity
	logger      Logger

	observersMu sync.RWMutex
	observers   []NotificationObserver
}

// NewTrigger creates a Trigger bound to one named environment.
func NewTrigger(environment string, envs EnvironmentSource, opener SessionOpener) *Trigger {
	return &Trigger{
		environment: environment,
		envs:        envs,
		opener:      opener,
		identity:    CurrentIdentity(),
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the trigger.
func (t *Trigger) SetLogger(logger Logger) {
	t.logger = logger
}

// SetIdentity overrides the user and host sent in headers.
func (t *Trigger) SetIdentity(id Identity) {
	t.identity = id
}

// AddObserver registers an observer for notify outcomes. It may be called
// while notifications are in flight.
func (t *Trigger) AddObserver(o NotificationObserver) {
	t.observersMu.Lock()
	t.observers = append(t.observers, o)
	t.observersMu.Unlock()
}

// Environment returns the broker environment name.
func (t *Trigger) Environment() string {
	return t.environment
}

// RunStart announces the start of collection dcid.
func (t *Trigger) RunStart(ctx context.Context, dcid int64) error {
	return t.Notify(ctx, EventStart, dcid)
}

// RunEnd announces the end of collection dcid.
func (t *Trigger) RunEnd(ctx context.Context, dcid int64) error {
	return t.Notify(ctx, EventEnd, dcid)
}

// Notify sends one trigger.
//
// Errors:
//   - ErrInvalidEvent for events other than start and end
//   - ErrConfiguration if the environment cannot be resolved
//   - the opener's error if no session could be opened
//   - the session's Send error, unmodified
//   - ErrTransport if only Close failed
func (t *Trigger) Notify(ctx context.Context, event Event, dcid int64) (err error) {
	msg := Message{Event: event, CollectionID: dcid}
	start := time.Now()
	defer func() {
		t.observe(ctx, Notification{
			Message:     msg,
			Environment: t.environment,
			Err:         err,
			Duration:    time.Since(start),
		})
	}()

	if !event.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEvent, event)
	}

	env, err := t.envs.Lookup(t.environment)
	if err != nil {
		return fmt.Errorf("%w: environment %q: %w", ErrConfiguration, t.environment, err)
	}

	session, err := t.opener.Open(ctx, env)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			if err == nil {
				err = fmt.Errorf("%w: closing session: %w", ErrTransport, cerr)
				return
			}
			t.logger.Warn("closing broker session after failed send", "error", cerr)
		}
	}()

	if err := session.Send(ctx, Destination, NewEnvelope(msg, t.identity)); err != nil {
		return err
	}

	t.logger.Info("processing trigger sent",
		"event", string(event),
		"dcid", dcid,
		"environment", t.environment,
	)
	return nil
}

func (t *Trigger) observe(ctx context.Context, n Notification) {
	t.observersMu.RLock()
	observers := t.observers
	t.observersMu.RUnlock()

	for _, o := range observers {
		o.ObserveNotification(ctx, n)
	}
}
