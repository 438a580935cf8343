package broker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/processing"
)

// defaultClientPrefix names per-call broker clients when none is set.
const defaultClientPrefix = "beamline-trigger"

// Opener opens one broker session per processing trigger.
//
// It implements processing.SessionOpener for both MQTT and NATS
// environments. Unknown transports wrap processing.ErrConfiguration;
// connection failures wrap processing.ErrTransport.
type Opener struct {
	clientPrefix string

	// dialMQTT and dialNATS are replaced in tests.
	dialMQTT func(cfg config.MQTTConfig) (mqttPublisher, error)
	dialNATS func(url, name, token string) (natsPublisher, error)
}

// NewOpener creates an Opener backed by real broker clients.
func NewOpener() *Opener {
	return &Opener{
		clientPrefix: defaultClientPrefix,
		dialMQTT:     dialMQTT,
		dialNATS:     dialNATS,
	}
}

// SetClientPrefix sets the prefix for per-session client IDs.
func (o *Opener) SetClientPrefix(prefix string) {
	o.clientPrefix = prefix
}

// clientID returns a unique client ID so concurrent sessions never
// displace each other at the broker.
func (o *Opener) clientID() string {
	return fmt.Sprintf("%s-%s", o.clientPrefix, uuid.NewString()[:8])
}

// Open implements processing.SessionOpener.
//
// Each call dials a fresh connection with a unique client ID; nothing is
// pooled. The caller owns the returned session and must Close it.
func (o *Opener) Open(ctx context.Context, env *config.BrokerEnvironment) (processing.Session, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil broker environment", processing.ErrConfiguration)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: opening %s session: %w", processing.ErrTransport, env.Name, err)
	}

	switch env.Transport {
	case config.TransportMQTT:
		return o.openMQTT(env)
	case config.TransportNATS:
		return o.openNATS(env)
	default:
		return nil, fmt.Errorf("%w: environment %q: unknown transport %q",
			processing.ErrConfiguration, env.Name, env.Transport)
	}
}
