package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Broker transports understood by the broker package.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

var (
	// ErrUnknownEnvironment is returned when a broker environment name is not defined.
	ErrUnknownEnvironment = errors.New("config: unknown broker environment")

	// ErrInvalidEnvironment is returned when a broker environment is malformed.
	ErrInvalidEnvironment = errors.New("config: invalid broker environment")
)

// BrokerEnvironment describes one message-broker deployment that processing
// notifications can be sent through.
type BrokerEnvironment struct {
	// Name is the key the environment was found under.
	Name string `yaml:"-"`

	// Transport selects the broker client: "mqtt" or "nats".
	Transport string `yaml:"transport"`

	// MQTT holds connection settings when Transport is "mqtt".
	MQTT MQTTConfig `yaml:"mqtt"`

	// NATS holds connection settings when Transport is "nats".
	NATS NATSConfig `yaml:"nats"`

	// DestinationPrefix is prepended to every destination (topic or subject).
	DestinationPrefix string `yaml:"destination_prefix"`
}

// NATSConfig contains NATS server connection settings.
type NATSConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// environmentsFile is the on-disk shape of the environments file. Entries
// stay undecoded until looked up so defaults can be laid down first.
type environmentsFile struct {
	Environments map[string]yaml.Node `yaml:"environments"`
}

// EnvironmentFile resolves named broker environments from a YAML file.
//
// The file is read on every Lookup so that edits made during a long-running
// session are picked up by the next notification.
//
//	environments:
//	  dev_artemis:
//	    transport: mqtt
//	    destination_prefix: "zocalo/"
//	    mqtt:
//	      broker: {host: localhost, port: 1883}
//	  live:
//	    transport: nats
//	    destination_prefix: "zocalo."
//	    nats: {url: "nats://broker:4222"}
type EnvironmentFile struct {
	Path string
}

// Lookup returns the broker environment registered under name.
func (f EnvironmentFile) Lookup(name string) (*BrokerEnvironment, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading environments file: %w", err)
	}

	var file environmentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing environments file: %w", err)
	}

	node, ok := file.Environments[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownEnvironment, name, strings.Join(sortedKeys(file.Environments), ", "))
	}

	// Keys present in the file override the defaults; absent keys keep
	// them, so an explicit qos: 0 is honoured.
	env := defaultEnvironment()
	if err := node.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidEnvironment, name, err)
	}
	env.Name = name
	if env.Transport == "" {
		env.Transport = TransportMQTT
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// defaultEnvironment holds the connection defaults that are rarely set
// explicitly.
func defaultEnvironment() BrokerEnvironment {
	return BrokerEnvironment{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{Port: 1883},
			QoS:    1,
		},
	}
}

// Validate checks that the environment can be connected to.
func (e *BrokerEnvironment) Validate() error {
	switch e.Transport {
	case TransportMQTT:
		if e.MQTT.Broker.Host == "" {
			return fmt.Errorf("%w: %s: mqtt.broker.host is required", ErrInvalidEnvironment, e.Name)
		}
		if e.MQTT.QoS < 0 || e.MQTT.QoS > 2 {
			return fmt.Errorf("%w: %s: mqtt.qos must be 0, 1, or 2", ErrInvalidEnvironment, e.Name)
		}
	case TransportNATS:
		if e.NATS.URL == "" {
			return fmt.Errorf("%w: %s: nats.url is required", ErrInvalidEnvironment, e.Name)
		}
	default:
		return fmt.Errorf("%w: %s: unsupported transport %q", ErrInvalidEnvironment, e.Name, e.Transport)
	}
	return nil
}

func sortedKeys(m map[string]yaml.Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
