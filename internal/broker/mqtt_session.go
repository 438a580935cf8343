package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/beamline-core/internal/processing"
)

// mqttPublisher is the part of *mqtt.Client a session uses.
type mqttPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Close() error
}

func dialMQTT(cfg config.MQTTConfig) (mqttPublisher, error) {
	client, err := mqtt.ConnectSession(cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// mqttSession sends envelopes over a short-lived MQTT connection.
type mqttSession struct {
	client mqttPublisher
	prefix string
	qos    byte
}

// mqttMessage is the MQTT payload. MQTT 3.1.1 has no message headers, so
// they ride inside the body.
type mqttMessage struct {
	Recipes    []string           `json:"recipes"`
	Parameters processing.Message `json:"parameters"`
	Headers    map[string]string  `json:"headers"`
}

func (o *Opener) openMQTT(env *config.BrokerEnvironment) (processing.Session, error) {
	cfg := env.MQTT
	cfg.Broker.ClientID = o.clientID()

	client, err := o.dialMQTT(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %w", processing.ErrTransport, env.Name, err)
	}
	return &mqttSession{
		client: client,
		prefix: env.DestinationPrefix,
		qos:    byte(cfg.QoS),
	}, nil
}

// encodeMQTT renders env as an MQTT payload.
func encodeMQTT(env processing.Envelope) ([]byte, error) {
	return json.Marshal(mqttMessage{
		Recipes:    env.Recipes,
		Parameters: env.Parameters,
		Headers:    env.Headers,
	})
}

func (s *mqttSession) Send(ctx context.Context, destination string, env processing.Envelope) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", processing.ErrTransport, err)
	}

	payload, err := encodeMQTT(env)
	if err != nil {
		return fmt.Errorf("%w: encoding envelope: %w", processing.ErrTransport, err)
	}

	topic := mqtt.Topics{}.ProcessingDestination(s.prefix, destination)
	if err := s.client.Publish(topic, payload, s.qos, false); err != nil {
		return fmt.Errorf("%w: %w", processing.ErrTransport, err)
	}
	return nil
}

func (s *mqttSession) Close() error {
	return s.client.Close()
}
