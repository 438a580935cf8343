package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the beamline core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Beamline   BeamlineConfig   `yaml:"beamline"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Processing ProcessingConfig `yaml:"processing"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BeamlineConfig identifies the deployment this process belongs to.
type BeamlineConfig struct {
	// Name is the beamline name (e.g. "i03", "s03").
	Name string `yaml:"name"`

	// Prefix overrides the control-system address prefix derived from Name.
	Prefix string `yaml:"prefix,omitempty"`

	// ConnectTimeout bounds how long a resource may take to report connected.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Resources is the catalogue of named resources on this beamline.
	// When the key is absent DefaultResources is used.
	Resources map[string]ResourceConfig `yaml:"resources"`
}

// ResourceConfig describes one named resource in the catalogue.
type ResourceConfig struct {
	// Address is appended to the prefix to form the full address.
	Address string `yaml:"address"`

	// Prefix replaces the beamline address prefix for this resource. An
	// empty string means Address is used as is. "{id}" expands to the
	// beamline prefix without its leading "BL", so "SR{id}" on i03 is "SR03I".
	Prefix *string `yaml:"prefix,omitempty"`

	// WaitForConnection defaults to true.
	WaitForConnection *bool `yaml:"wait_for_connection,omitempty"`

	// Settings are applied when the resource is first created, for example
	// a set of named aperture positions.
	Settings map[string]any `yaml:"settings,omitempty"`
}

// FullAddress returns the complete address of the resource on a beamline
// whose address prefix is beamlinePrefix.
func (r ResourceConfig) FullAddress(beamlinePrefix string) string {
	if r.Prefix == nil {
		return beamlinePrefix + r.Address
	}
	id := strings.TrimPrefix(beamlinePrefix, "BL")
	return strings.ReplaceAll(*r.Prefix, "{id}", id) + r.Address
}

// Waits reports whether creation should wait for the resource to connect.
func (r ResourceConfig) Waits() bool {
	return r.WaitForConnection == nil || *r.WaitForConnection
}

// DefaultResources returns the standard MX beamline catalogue.
//
// The detector never reports connected through its control interface, so
// it is created without waiting.
func DefaultResources() map[string]ResourceConfig {
	noWait := false
	storageRing := "SR{id}"
	absolute := ""
	return map[string]ResourceConfig{
		"aperture_scatterguard": {},
		"backlight":             {Address: "-EA-BL-01:"},
		"dcm":                   {},
		"eiger":                 {Address: "-EA-EIGER-01:", WaitForConnection: &noWait},
		"fast_grid_scan":        {Address: "-MO-SGON-01:FGS:"},
		"oav":                   {},
		"s4_slit_gaps":          {Address: "-AL-SLITS-04:"},
		"smargon":               {},
		"synchrotron":           {Address: "CS-CS-MSTAT-01:", Prefix: &absolute},
		"undulator":             {Address: "-MO-SERVC-01:", Prefix: &storageRing},
		"zebra":                 {Address: "-EA-ZEBRA-01:"},
	}
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// ProcessingConfig selects the analysis service deployment and how results come back.
type ProcessingConfig struct {
	// EnvironmentsFile is the YAML file listing named broker environments.
	EnvironmentsFile string `yaml:"environments_file"`

	// Environment is the broker environment used for start/end notifications.
	Environment string `yaml:"environment"`

	// ResultsTopic is the bus topic the analysis pipeline publishes result sets to.
	ResultsTopic string `yaml:"results_topic"`

	// ResultTimeout bounds how long a result read waits for a result set.
	ResultTimeout time.Duration `yaml:"result_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BEAMLINE_SECTION_KEY
// For example: BEAMLINE_DATABASE_PATH, BEAMLINE_MQTT_HOST.
// The bare BEAMLINE variable selects the beamline name.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Beamline.Resources == nil {
		cfg.Beamline.Resources = DefaultResources()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Beamline: BeamlineConfig{
			Name:           "s03",
			ConnectTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/beamline.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "beamline-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Processing: ProcessingConfig{
			EnvironmentsFile: "configs/environments.yaml",
			Environment:      "dev_artemis",
			ResultsTopic:     "beamline/processing/results",
			ResultTimeout:    180 * time.Second,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 200,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BEAMLINE"); v != "" {
		cfg.Beamline.Name = v
	}

	if v := os.Getenv("BEAMLINE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("BEAMLINE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BEAMLINE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BEAMLINE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("BEAMLINE_PROCESSING_ENVIRONMENT"); v != "" {
		cfg.Processing.Environment = v
	}
	if v := os.Getenv("BEAMLINE_PROCESSING_ENVIRONMENTS_FILE"); v != "" {
		cfg.Processing.EnvironmentsFile = v
	}

	if v := os.Getenv("BEAMLINE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Beamline.Name == "" {
		errs = append(errs, "beamline.name is required")
	}
	if c.Beamline.ConnectTimeout <= 0 {
		errs = append(errs, "beamline.connect_timeout must be positive")
	}
	names := make([]string, 0, len(c.Beamline.Resources))
	for name := range c.Beamline.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if c.Beamline.Resources[name].FullAddress(c.Beamline.AddressPrefix()) == "" {
			errs = append(errs, fmt.Sprintf("beamline.resources.%s has an empty address", name))
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Processing.Environment == "" {
		errs = append(errs, "processing.environment is required")
	}
	if c.Processing.EnvironmentsFile == "" {
		errs = append(errs, "processing.environments_file is required")
	}
	if c.Processing.ResultsTopic == "" {
		errs = append(errs, "processing.results_topic is required")
	}
	if c.Processing.ResultTimeout <= 0 {
		errs = append(errs, "processing.result_timeout must be positive")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// BeamlinePrefix derives the control-system address prefix for a beamline.
//
// A beamline name is a single letter followed by its number, and the prefix
// moves the letter to the end: "i03" becomes "BL03I", "s03" becomes "BL03S".
// Names that don't follow this shape are upper-cased unchanged.
func BeamlinePrefix(name string) string {
	if len(name) < 2 || !unicode.IsLetter(rune(name[0])) {
		return strings.ToUpper(name)
	}
	number := name[1:]
	for _, r := range number {
		if !unicode.IsDigit(r) {
			return strings.ToUpper(name)
		}
	}
	return "BL" + number + strings.ToUpper(name[:1])
}
