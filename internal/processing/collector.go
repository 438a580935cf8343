package processing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/beamline-core/internal/control"
	"github.com/nerrad567/beamline-core/internal/infrastructure/mqtt"
)

// CollectorState is the collector's position for the current collection.
type CollectorState int

// Collector lifecycle: Idle -> Triggered -> ResultReady | TimedOut.
const (
	StateIdle CollectorState = iota
	StateTriggered
	StateResultReady
	StateTimedOut
)

// String returns the lower-case state name.
func (s CollectorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTriggered:
		return "triggered"
	case StateResultReady:
		return "result_ready"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CollectorState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CollectorState) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateTimedOut; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("processing: unknown collector state %q", text)
}

// DefaultResultTimeout is used when a collector is created with no timeout.
const DefaultResultTimeout = 180 * time.Second

// ResultSink is told about every result set the collector receives.
// Sinks run on the delivering goroutine and must not block.
type ResultSink interface {
	HandleResultSet(set ResultSet)
}

// Subscriber is the subset of the MQTT client used for result delivery.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Collector waits for result sets pushed by the analysis pipeline.
//
// Delivery goes into a single-slot mailbox; a newer set replaces an unread
// one. A set becomes the collector's value only once it is taken by Await,
// and always as a whole. The collector serves one collection at a time.
//
// Once a collection is expected (see Expect), sets for any other collection
// are passed to sinks but never reach the mailbox, and starting a new
// collection empties it. Registering the collector as a NotificationObserver
// on the Trigger keeps the expectation in step with start and end
// notifications.
//
// Collector is also a read-only control.Handle so it can be registered
// alongside hardware resources.
type Collector struct {
	name    string
	timeout time.Duration

	// deliverMu guards the mailbox hand-over and the expectation.
	mailbox   chan ResultSet
	deliverMu sync.Mutex
	expected  int64
	expecting bool

	mu    sync.RWMutex
	state CollectorState
	value ResultSet
	topic string

	sinksMu sync.RWMutex
	sinks   []ResultSink

	logger Logger
}

// NewCollector creates an idle collector. A non-positive timeout selects
// DefaultResultTimeout.
func NewCollector(name string, timeout time.Duration) *Collector {
	if timeout <= 0 {
		timeout = DefaultResultTimeout
	}
	return &Collector{
		name:    name,
		timeout: timeout,
		mailbox: make(chan ResultSet, 1),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the collector.
func (c *Collector) SetLogger(logger Logger) {
	c.logger = logger
}

// AddSink registers a sink. It is safe to call while results arrive; a
// set already being delivered may not reach the new sink.
func (c *Collector) AddSink(s ResultSink) {
	c.sinksMu.Lock()
	c.sinks = append(c.sinks, s)
	c.sinksMu.Unlock()
}

// Timeout returns the bound used by Read.
func (c *Collector) Timeout() time.Duration {
	return c.timeout
}

// Trigger starts waiting for a new collection's results.
//
// The previous value stays visible until a new set replaces it. A set that
// arrived before Trigger is kept, since results may land as soon as the
// collection ends.
func (c *Collector) Trigger() {
	c.mu.Lock()
	c.state = StateTriggered
	c.mu.Unlock()
}

// Await blocks until a result set is available or timeout elapses.
//
// In Triggered it takes the next set from the mailbox. In ResultReady it
// returns the current value again. Idle and TimedOut collectors return
// ErrNotTriggered. On timeout the state moves to TimedOut and the value is
// unchanged.
//
// Returns:
//   - []Result: a copy of the set, in the order the service ranked it
//   - error: ErrTimeout, ErrNotTriggered or ctx.Err()
func (c *Collector) Await(ctx context.Context, timeout time.Duration) ([]Result, error) {
	c.mu.RLock()
	state := c.state
	value := c.value.clone()
	c.mu.RUnlock()

	switch state {
	case StateResultReady:
		return value.Results, nil
	case StateTriggered:
	default:
		return nil, fmt.Errorf("%w: state %s", ErrNotTriggered, state)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case set := <-c.mailbox:
		c.mu.Lock()
		c.value = set
		c.state = StateResultReady
		c.mu.Unlock()

		c.logger.Info("processing results received",
			"dcid", set.CollectionID,
			"count", len(set.Results),
		)
		return set.clone().Results, nil

	case <-timer.C:
		c.mu.Lock()
		c.state = StateTimedOut
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: no result set within %v", ErrTimeout, timeout)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Expect marks dcid as the collection whose results the next Await may
// return. An unread set for any other collection is discarded.
func (c *Collector) Expect(dcid int64) {
	c.expect(dcid, false)
}

// ObserveNotification implements NotificationObserver.
//
// A start notification begins a new collection: the mailbox is emptied
// and its dcid becomes the expected one. An end notification only records
// the dcid, so results published between the end and Trigger are kept.
func (c *Collector) ObserveNotification(_ context.Context, n Notification) {
	switch n.Message.Event {
	case EventStart:
		c.expect(n.Message.CollectionID, true)
	case EventEnd:
		c.expect(n.Message.CollectionID, false)
	}
}

func (c *Collector) expect(dcid int64, drainAll bool) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.expected = dcid
	c.expecting = true

	select {
	case set := <-c.mailbox:
		if !drainAll && set.CollectionID == dcid {
			c.mailbox <- set
			return
		}
		c.logger.Warn("discarding unread result set",
			"dcid", set.CollectionID,
			"expected", dcid,
		)
	default:
	}
}

// Deliver pushes a complete result set into the mailbox, replacing any
// set nobody has taken yet, and notifies sinks. A set for a collection
// other than the expected one goes to sinks only.
func (c *Collector) Deliver(set ResultSet) {
	if set.ReceivedAt.IsZero() {
		set.ReceivedAt = time.Now().UTC()
	}
	set = set.clone()

	c.deliverMu.Lock()
	if c.expecting && set.CollectionID != c.expected {
		expected := c.expected
		c.deliverMu.Unlock()
		c.logger.Warn("result set for another collection ignored",
			"dcid", set.CollectionID,
			"expected", expected,
		)
	} else {
		select {
		case <-c.mailbox:
			c.logger.Warn("unread result set replaced", "dcid", set.CollectionID)
		default:
		}
		c.mailbox <- set
		c.deliverMu.Unlock()
	}

	c.sinksMu.RLock()
	sinks := c.sinks
	c.sinksMu.RUnlock()
	for _, s := range sinks {
		s.HandleResultSet(set.clone())
	}
}

// HandleMessage decodes a result-set message and delivers it.
func (c *Collector) HandleMessage(_ string, payload []byte) error {
	set, err := DecodeResultSet(payload)
	if err != nil {
		return err
	}
	c.Deliver(set)
	return nil
}

// Subscribe feeds result-set messages on topic into the collector.
func (c *Collector) Subscribe(source Subscriber, topic string) error {
	if err := source.Subscribe(topic, 1, c.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to results on %s: %w", topic, err)
	}
	c.mu.Lock()
	c.topic = topic
	c.mu.Unlock()
	return nil
}

// State returns the collector's current state.
func (c *Collector) State() CollectorState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Value returns the last result set taken by Await.
func (c *Collector) Value() ResultSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value.clone()
}

// First returns the highest-ranked record of the current value.
func (c *Collector) First() (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value.First()
}

// Name implements control.Handle.
func (c *Collector) Name() string { return c.name }

// Address implements control.Handle. It is the results topic, empty until
// Subscribe succeeds.
func (c *Collector) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topic
}

// WaitConnected implements control.Handle. The collector has no connection
// of its own.
func (c *Collector) WaitConnected(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", control.ErrConnection, c.name, err)
	}
	return nil
}

// Read implements control.Handle using the collector's own timeout.
func (c *Collector) Read(ctx context.Context) (any, error) {
	return c.Await(ctx, c.timeout)
}

// Write implements control.Handle. Collectors are read-only.
func (c *Collector) Write(context.Context, any) error {
	return fmt.Errorf("%w: %s", control.ErrReadOnly, c.name)
}

var (
	_ control.Handle       = (*Collector)(nil)
	_ NotificationObserver = (*Collector)(nil)
)
