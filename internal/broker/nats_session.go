package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/processing"
)

const (
	natsConnectTimeout = 5 * time.Second

	// natsFlushTimeout bounds the round trip confirming the server has the message.
	natsFlushTimeout = 5 * time.Second
)

// natsPublisher is the part of *nats.Conn a session uses.
type natsPublisher interface {
	PublishMsg(m *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

func dialNATS(url, name, token string) (natsPublisher, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(natsConnectTimeout),
		nats.NoReconnect(),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// natsSession sends envelopes over a short-lived NATS connection, with
// headers carried as real NATS message headers.
type natsSession struct {
	conn   natsPublisher
	prefix string
}

func (o *Opener) openNATS(env *config.BrokerEnvironment) (processing.Session, error) {
	if env.NATS.URL == "" {
		return nil, fmt.Errorf("%w: environment %q: nats url is required", processing.ErrConfiguration, env.Name)
	}

	conn, err := o.dialNATS(env.NATS.URL, o.clientID(), env.NATS.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %w", processing.ErrTransport, env.Name, err)
	}
	return &natsSession{conn: conn, prefix: env.DestinationPrefix}, nil
}

// buildNATSMsg renders env as a NATS message on prefix+destination.
func buildNATSMsg(prefix, destination string, env processing.Envelope) (*nats.Msg, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	headers := nats.Header{}
	for k, v := range env.Headers {
		headers.Set(k, v)
	}

	return &nats.Msg{
		Subject: prefix + destination,
		Data:    data,
		Header:  headers,
	}, nil
}

func (s *natsSession) Send(ctx context.Context, destination string, env processing.Envelope) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", processing.ErrTransport, err)
	}

	msg, err := buildNATSMsg(s.prefix, destination, env)
	if err != nil {
		return fmt.Errorf("%w: encoding envelope: %w", processing.ErrTransport, err)
	}
	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: %w", processing.ErrTransport, err)
	}
	if err := s.conn.FlushTimeout(natsFlushTimeout); err != nil {
		return fmt.Errorf("%w: flushing: %w", processing.ErrTransport, err)
	}
	return nil
}

func (s *natsSession) Close() error {
	s.conn.Close()
	return nil
}
