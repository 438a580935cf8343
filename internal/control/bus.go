package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/beamline-core/internal/infrastructure/mqtt"
)

// Bus is the subset of the MQTT client a BusHandle needs.
// *mqtt.Client satisfies it.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// busQoS is used for both state subscriptions and command publishes.
const busQoS byte = 1

// statePayload is the wire shape of device state and command messages.
type statePayload struct {
	Value any `json:"value"`
}

// BusHandle is a Handle bridged over the MQTT bus. The device bridge
// publishes retained state on beamline/state/{address} and listens for
// writes on beamline/command/{address}. Settings blocks are published
// retained on beamline/config/{address}, so the latest one always wins.
//
// The handle counts as connected once the first state message is seen.
type BusHandle struct {
	name    string
	address string
	bus     Bus

	subscribeOnce sync.Once
	subscribeErr  error

	ready     chan struct{}
	readyOnce sync.Once

	mu         sync.RWMutex
	value      any
	seen       bool
	subscribed bool
	settings   map[string]any
}

// NewBusHandle creates a handle for address on bus. No traffic is sent
// until WaitConnected, Read or Write is called.
func NewBusHandle(bus Bus, name, address string) *BusHandle {
	return &BusHandle{
		name:    name,
		address: address,
		bus:     bus,
		ready:   make(chan struct{}),
	}
}

// BusFactory returns a Factory producing BusHandles on bus.
func BusFactory(bus Bus) Factory {
	return func(name, address string) (Handle, error) {
		if address == "" {
			return nil, fmt.Errorf("%w: empty address for %q", ErrInvalidAddress, name)
		}
		return NewBusHandle(bus, name, address), nil
	}
}

// Name implements Handle.
func (h *BusHandle) Name() string { return h.name }

// Address implements Handle.
func (h *BusHandle) Address() string { return h.address }

func (h *BusHandle) subscribe() error {
	h.subscribeOnce.Do(func() {
		topic := mqtt.Topics{}.DeviceState(h.address)
		h.subscribeErr = h.bus.Subscribe(topic, busQoS, h.handleState)
		if h.subscribeErr == nil {
			h.mu.Lock()
			h.subscribed = true
			h.mu.Unlock()
		}
	})
	return h.subscribeErr
}

func (h *BusHandle) handleState(_ string, payload []byte) error {
	var msg statePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding state for %s: %w", h.address, err)
	}

	h.mu.Lock()
	h.value = msg.Value
	h.seen = true
	h.mu.Unlock()

	h.readyOnce.Do(func() { close(h.ready) })
	return nil
}

// WaitConnected implements Handle.
func (h *BusHandle) WaitConnected(ctx context.Context, timeout time.Duration) error {
	if err := h.subscribe(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnection, h.address, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.ready:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s: no state within %v", ErrConnection, h.address, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ErrConnection, h.address, ctx.Err())
	}
}

// Read implements Handle. It returns the last observed state.
func (h *BusHandle) Read(_ context.Context) (any, error) {
	if err := h.subscribe(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotConnected, h.address, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.seen {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, h.address)
	}
	return h.value, nil
}

// Write implements Handle. It publishes a command; the new value is
// visible to Read once the bridge echoes it as state.
func (h *BusHandle) Write(_ context.Context, value any) error {
	payload, err := json.Marshal(statePayload{Value: value})
	if err != nil {
		return fmt.Errorf("encoding command for %s: %w", h.address, err)
	}
	return h.bus.Publish(mqtt.Topics{}.DeviceCommand(h.address), payload, busQoS, false)
}

// Configure implements Configurable. The whole block is republished, so
// keys missing from settings are dropped on the bridge side too.
func (h *BusHandle) Configure(settings map[string]any) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings for %s: %w", h.address, err)
	}
	if err := h.bus.Publish(mqtt.Topics{}.DeviceConfig(h.address), payload, busQoS, true); err != nil {
		return fmt.Errorf("publishing settings for %s: %w", h.address, err)
	}

	h.mu.Lock()
	h.settings = copySettings(settings)
	h.mu.Unlock()
	return nil
}

// Settings returns a copy of the last settings block published.
func (h *BusHandle) Settings() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copySettings(h.settings)
}

// Close drops the state subscription.
func (h *BusHandle) Close() error {
	h.subscribeOnce.Do(func() {}) // no subscribe after Close

	h.mu.Lock()
	subscribed := h.subscribed
	h.subscribed = false
	h.mu.Unlock()
	if !subscribed {
		return nil
	}
	return h.bus.Unsubscribe(mqtt.Topics{}.DeviceState(h.address))
}
