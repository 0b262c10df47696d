package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the fleet controller.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Discovery DiscoveryConfig `yaml:"discovery"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Events    EventsConfig    `yaml:"events"`
	Policy    PolicyConfig    `yaml:"policy"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DiscoveryConfig contains mDNS service discovery settings.
type DiscoveryConfig struct {
	// ServiceDomain is the DNS-SD service label, e.g. "tosca" for _tosca._tcp.
	ServiceDomain string `yaml:"service_domain"`

	// Transport is the DNS-SD transport label: "tcp" or "udp".
	Transport string `yaml:"transport"`

	// TopLevelDomain is the browse domain. Default: "local"
	TopLevelDomain string `yaml:"top_level_domain"`

	// Timeout bounds the total wait for replies (seconds).
	Timeout int `yaml:"timeout"`

	DisableIPv6        bool     `yaml:"disable_ipv6"`
	DisabledInterfaces []string `yaml:"disabled_interfaces"`
	DisabledIPs        []string `yaml:"disabled_ips"`

	// RefreshInterval triggers periodic rediscovery (seconds). 0 disables it.
	RefreshInterval int `yaml:"refresh_interval"`

	// StaleAfter removes devices not seen for this long (seconds). 0 disables pruning.
	StaleAfter int `yaml:"stale_after"`

	// AutoSubscribe starts event tasks for devices found while receivers run.
	AutoSubscribe bool `yaml:"auto_subscribe"`
}

// DispatchConfig contains action dispatch settings.
type DispatchConfig struct {
	RequestTimeout int `yaml:"request_timeout"`
}

// EventsConfig contains event aggregation settings.
type EventsConfig struct {
	ChannelCapacity int    `yaml:"channel_capacity"`
	ConnectTimeout  int    `yaml:"connect_timeout"`
	ReconnectDelay  int    `yaml:"reconnect_delay"`
	QoS             int    `yaml:"qos"`
	TopicPrefix     string `yaml:"topic_prefix"`
	TopicSuffix     string `yaml:"topic_suffix"`

	// ClientIDPrefix must be unique per controller sharing a broker. Each
	// device session connects as "<prefix>-<hash of device ID>".
	ClientIDPrefix string `yaml:"client_id_prefix"`

	// KeepAlive is the MQTT keepalive in seconds. A consumer stalled for
	// longer than 1.5x this loses the broker connection.
	KeepAlive int `yaml:"keep_alive"`

	// PersistentSession keeps the broker-side session across reconnects, so
	// QoS 1 and 2 events queued while disconnected are still delivered.
	PersistentSession bool `yaml:"persistent_session"`

	TLS  bool           `yaml:"tls"`
	Auth MQTTAuthConfig `yaml:"auth"`
}

// PolicyConfig is the hazard policy applied at startup.
type PolicyConfig struct {
	// Block lists hazards blocked on every device.
	Block []string `yaml:"block"`

	// Devices lists hazards blocked per device ID.
	Devices map[string][]string `yaml:"devices"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains the settings for one MQTT broker connection.
// Event sessions derive one per device from EventsConfig and the device's broker endpoint.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// KeepAlive in seconds; zero takes the client default.
	KeepAlive int `yaml:"keep_alive"`

	// PersistentSession connects without clean session.
	PersistentSession bool `yaml:"persistent_session"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
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

// WebSocketConfig contains WebSocket event stream settings.
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT bearer token settings.
// An empty secret leaves the API unauthenticated.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// minJWTSecretLength applies only when a secret is configured.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FLEET_SECTION_KEY
// For example: FLEET_DISCOVERY_SERVICE_DOMAIN, FLEET_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			ServiceDomain:      "tosca",
			Transport:          "tcp",
			TopLevelDomain:     "local",
			Timeout:            2,
			DisableIPv6:        true,
			DisabledInterfaces: []string{"docker0"},
		},
		Dispatch: DispatchConfig{
			RequestTimeout: 5,
		},
		Events: EventsConfig{
			ChannelCapacity:   100,
			ConnectTimeout:    2,
			ReconnectDelay:    2,
			QoS:               1,
			TopicPrefix:       "tosca",
			TopicSuffix:       "events",
			ClientIDPrefix:    "fleet",
			KeepAlive:         30,
			PersistentSession: true,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/fleet.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FLEET_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Discovery
	if v := os.Getenv("FLEET_DISCOVERY_SERVICE_DOMAIN"); v != "" {
		cfg.Discovery.ServiceDomain = v
	}
	if v := os.Getenv("FLEET_DISCOVERY_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Discovery.Timeout = n
		}
	}
	if v := os.Getenv("FLEET_DISCOVERY_AUTO_SUBSCRIBE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Discovery.AutoSubscribe = b
		}
	}

	// Events
	if v := os.Getenv("FLEET_EVENTS_USERNAME"); v != "" {
		cfg.Events.Auth.Username = v
	}
	if v := os.Getenv("FLEET_EVENTS_PASSWORD"); v != "" {
		cfg.Events.Auth.Password = v
	}

	// Database
	if v := os.Getenv("FLEET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("FLEET_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FLEET_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}

	// InfluxDB
	if v := os.Getenv("FLEET_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("FLEET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("FLEET_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected so a single run reports every bad field.
func (c *Config) Validate() error {
	var errs []string

	// Discovery validation
	if c.Discovery.ServiceDomain == "" {
		errs = append(errs, "discovery.service_domain is required")
	}
	if c.Discovery.Transport != "tcp" && c.Discovery.Transport != "udp" {
		errs = append(errs, "discovery.transport must be tcp or udp")
	}
	if c.Discovery.Timeout < 1 {
		errs = append(errs, "discovery.timeout must be at least 1 second")
	}
	if c.Discovery.RefreshInterval < 0 || c.Discovery.StaleAfter < 0 {
		errs = append(errs, "discovery.refresh_interval and discovery.stale_after must not be negative")
	}
	for _, ip := range c.Discovery.DisabledIPs {
		if net.ParseIP(ip) == nil {
			errs = append(errs, fmt.Sprintf("discovery.disabled_ips: %q is not an IP address", ip))
		}
	}

	if c.Dispatch.RequestTimeout < 1 {
		errs = append(errs, "dispatch.request_timeout must be at least 1 second")
	}

	// Events validation
	if c.Events.ChannelCapacity < 1 {
		errs = append(errs, "events.channel_capacity must be at least 1")
	}
	if c.Events.QoS < 0 || c.Events.QoS > 2 {
		errs = append(errs, "events.qos must be 0, 1, or 2")
	}
	if c.Events.ConnectTimeout < 1 {
		errs = append(errs, "events.connect_timeout must be at least 1 second")
	}
	if c.Events.ReconnectDelay < 0 {
		errs = append(errs, "events.reconnect_delay must not be negative")
	}
	if c.Events.KeepAlive < 1 {
		errs = append(errs, "events.keep_alive must be at least 1 second")
	}

	for id, hazards := range c.Policy.Devices {
		if id == "" {
			errs = append(errs, "policy.devices: device id must not be empty")
		}
		if len(hazards) == 0 {
			errs = append(errs, fmt.Sprintf("policy.devices.%s: at least one hazard is required", id))
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetDiscoveryTimeout returns the discovery reply window as a Duration.
func (c *Config) GetDiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.Timeout) * time.Second
}

// GetRefreshInterval returns the rediscovery interval; zero means disabled.
func (c *Config) GetRefreshInterval() time.Duration {
	return time.Duration(c.Discovery.RefreshInterval) * time.Second
}

// GetStaleAfter returns the staleness window; zero means disabled.
func (c *Config) GetStaleAfter() time.Duration {
	return time.Duration(c.Discovery.StaleAfter) * time.Second
}

// GetRequestTimeout returns the per-dispatch HTTP timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Dispatch.RequestTimeout) * time.Second
}

// GetConnectTimeout returns the broker connect timeout.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Events.ConnectTimeout) * time.Second
}

// GetReconnectDelay returns the fixed delay between broker reconnect attempts.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.Events.ReconnectDelay) * time.Second
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

// ParsedDisabledIPs returns DisabledIPs as net.IP values, skipping invalid entries.
func (c *DiscoveryConfig) ParsedDisabledIPs() []net.IP {
	ips := make([]net.IP, 0, len(c.DisabledIPs))
	for _, s := range c.DisabledIPs {
		if ip := net.ParseIP(s); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}
