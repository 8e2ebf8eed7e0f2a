package config

import (
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the home gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Queue      QueueConfig      `yaml:"queue"`
	Devices    DevicesConfig    `yaml:"devices"`
	Workflows  WorkflowsConfig  `yaml:"workflows"`
	Reminders  []ReminderConfig `yaml:"reminders"`
	Alarm      AlarmConfig      `yaml:"alarm"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	// HistoryRetentionDays bounds the append-only state history. 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	// BaseTopic is the device bridge prefix, "zigbee2mqtt" by default.
	BaseTopic string `yaml:"base_topic"`
	// NotifyTopic receives outbound notifications.
	NotifyTopic string `yaml:"notify_topic"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
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

// SecurityConfig contains authentication settings for the ingestion routes.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
	// WebhookSecretHash is an argon2id PHC hash of the shared secret
	// presented in the X-Webhook-Secret header.
	WebhookSecretHash string `yaml:"webhook_secret_hash"`
	// AllowedIPs lists source addresses or CIDR ranges that skip credential checks.
	AllowedIPs []string `yaml:"allowed_ips"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// RuntimeConfig sizes the worker pools and bounds request/reply waits.
type RuntimeConfig struct {
	DispatcherWorkers int           `yaml:"dispatcher_workers"`
	DeviceWorkers     int           `yaml:"device_workers"`
	WorkflowWorkers   int           `yaml:"workflow_workers"`
	AskTimeout        time.Duration `yaml:"ask_timeout"`
}

// SupervisorConfig controls restart behaviour for supervised actors.
type SupervisorConfig struct {
	RestartDelay    time.Duration `yaml:"restart_delay"`
	MaxRestartDelay time.Duration `yaml:"max_restart_delay"`
	StableThreshold time.Duration `yaml:"stable_threshold"`
	// MaxRestartAttempts is the restart ceiling. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// QueueConfig controls the durable delay queue consumers.
type QueueConfig struct {
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// DevicesConfig holds per-device settings keyed by IEEE address.
type DevicesConfig struct {
	Doors      map[string]DoorConfig      `yaml:"doors"`
	Appliances map[string]ApplianceConfig `yaml:"appliances"`
	Switches   map[string]TriggerConfig   `yaml:"switches"`
	Presence   map[string]TriggerConfig   `yaml:"presence"`
	// DoorQuietWindow suppresses repeated open-door alerts.
	DoorQuietWindow time.Duration `yaml:"door_quiet_window"`
}

// DoorConfig configures the open-door alert for one sensor.
type DoorConfig struct {
	Name        string        `yaml:"name"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// TriggerConfig maps the actions one switch or presence sensor reports
// to workflow names. Presence sensors use the presence_detected and
// no_presence_detected actions.
type TriggerConfig struct {
	Name    string            `yaml:"name"`
	Actions map[string]string `yaml:"actions"`
}

// ApplianceConfig configures on/off inference for one smart plug.
// Thresholds are average current in amps.
type ApplianceConfig struct {
	Name         string        `yaml:"name"`
	OnThreshold  float64       `yaml:"on_threshold"`
	OffThreshold float64       `yaml:"off_threshold"`
	Window       time.Duration `yaml:"window"`
}

// WorkflowsConfig points at the workflow definition directory.
type WorkflowsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// ReminderConfig is a recurring reminder driven by a cron expression.
type ReminderConfig struct {
	Schedule string `yaml:"schedule"`
	Message  string `yaml:"message"`
}

// AlarmConfig links the alarm-time ingestion to a workflow.
type AlarmConfig struct {
	Workflow string        `yaml:"workflow"`
	Lead     time.Duration `yaml:"lead"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HOMEGW_SECTION_KEY
// For example: HOMEGW_DATABASE_PATH, HOMEGW_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
	cfg.applyDeviceDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "home",
			Name:     "Home Gateway",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:                 "./data/homegateway.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "homegateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			BaseTopic:   "zigbee2mqtt",
			NotifyTopic: "homegateway/notify",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
		Runtime: RuntimeConfig{
			DispatcherWorkers: 5,
			DeviceWorkers:     5,
			WorkflowWorkers:   5,
			AskTimeout:        10 * time.Second,
		},
		Supervisor: SupervisorConfig{
			RestartDelay:       500 * time.Millisecond,
			MaxRestartDelay:    time.Minute,
			StableThreshold:    2 * time.Minute,
			MaxRestartAttempts: 10,
		},
		Queue: QueueConfig{
			VisibilityTimeout: 30 * time.Second,
			PollInterval:      time.Second,
		},
		Devices: DevicesConfig{
			DoorQuietWindow: 60 * time.Second,
		},
		Workflows: WorkflowsConfig{
			Dir:   "./configs/workflows",
			Watch: true,
		},
	}
}

// applyDeviceDefaults fills per-device settings left empty in the file.
func (c *Config) applyDeviceDefaults() {
	for ieee, d := range c.Devices.Doors {
		if d.OpenTimeout == 0 {
			d.OpenTimeout = 5 * time.Minute
		}
		if d.Name == "" {
			d.Name = ieee
		}
		c.Devices.Doors[ieee] = d
	}
	for ieee, a := range c.Devices.Appliances {
		if a.OffThreshold == 0 {
			a.OffThreshold = a.OnThreshold
		}
		if a.Window == 0 {
			a.Window = 5 * time.Minute
		}
		if a.Name == "" {
			a.Name = ieee
		}
		c.Devices.Appliances[ieee] = a
	}
	for ieee, sw := range c.Devices.Switches {
		if sw.Name == "" {
			sw.Name = ieee
			c.Devices.Switches[ieee] = sw
		}
	}
	for ieee, p := range c.Devices.Presence {
		if p.Name == "" {
			p.Name = ieee
			c.Devices.Presence[ieee] = p
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HOMEGW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOMEGW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("HOMEGW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HOMEGW_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HOMEGW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HOMEGW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("HOMEGW_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HOMEGW_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("HOMEGW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("HOMEGW_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("HOMEGW_WEBHOOK_SECRET_HASH"); v != "" {
		cfg.Security.WebhookSecretHash = v
	}
	if v := os.Getenv("HOMEGW_ALLOWED_IPS"); v != "" {
		cfg.Security.AllowedIPs = strings.Split(v, ",")
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Ingestion routes accept bearer tokens, so a forgeable secret is a hard error.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set HOMEGW_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}
	for _, entry := range c.Security.AllowedIPs {
		if !validAllowEntry(strings.TrimSpace(entry)) {
			errs = append(errs, fmt.Sprintf("security.allowed_ips: %q is not an IP or CIDR", entry))
		}
	}

	if c.Runtime.DispatcherWorkers < 1 || c.Runtime.DeviceWorkers < 1 || c.Runtime.WorkflowWorkers < 1 {
		errs = append(errs, "runtime worker counts must be at least 1")
	}
	if c.Runtime.AskTimeout <= 0 {
		errs = append(errs, "runtime.ask_timeout must be positive")
	}

	if c.Supervisor.RestartDelay <= 0 {
		errs = append(errs, "supervisor.restart_delay must be positive")
	}
	if c.Supervisor.MaxRestartDelay < c.Supervisor.RestartDelay {
		errs = append(errs, "supervisor.max_restart_delay must not be below restart_delay")
	}
	if c.Supervisor.MaxRestartAttempts < 0 {
		errs = append(errs, "supervisor.max_restart_attempts must not be negative")
	}

	if c.Queue.VisibilityTimeout <= 0 {
		errs = append(errs, "queue.visibility_timeout must be positive")
	}
	if c.Queue.PollInterval <= 0 {
		errs = append(errs, "queue.poll_interval must be positive")
	}

	for ieee, a := range c.Devices.Appliances {
		if a.OnThreshold <= 0 {
			errs = append(errs, fmt.Sprintf("devices.appliances.%s.on_threshold must be positive", ieee))
		}
		if a.OffThreshold > a.OnThreshold {
			errs = append(errs, fmt.Sprintf("devices.appliances.%s.off_threshold must not exceed on_threshold", ieee))
		}
	}

	for ieee, sw := range c.Devices.Switches {
		errs = append(errs, validateActions("devices.switches."+ieee, sw.Actions, nil)...)
	}
	for ieee, p := range c.Devices.Presence {
		errs = append(errs, validateActions("devices.presence."+ieee, p.Actions,
			[]string{"presence_detected", "no_presence_detected"})...)
	}

	for i, r := range c.Reminders {
		if r.Schedule == "" || r.Message == "" {
			errs = append(errs, fmt.Sprintf("reminders[%d] needs schedule and message", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validAllowEntry(entry string) bool {
	if net.ParseIP(entry) != nil {
		return true
	}
	_, _, err := net.ParseCIDR(entry)
	return err == nil
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

// validateActions checks an action map. When allowed is non-nil only
// those action keys are accepted.
func validateActions(path string, actions map[string]string, allowed []string) []string {
	var errs []string
	if len(actions) == 0 {
		errs = append(errs, path+".actions must not be empty")
	}
	for action, wf := range actions {
		if allowed != nil && !slices.Contains(allowed, action) {
			errs = append(errs, fmt.Sprintf("%s.actions.%s is not one of %s", path, action, strings.Join(allowed, ", ")))
		}
		if wf == "" {
			errs = append(errs, fmt.Sprintf("%s.actions.%s needs a workflow name", path, action))
		}
	}
	slices.Sort(errs)
	return errs
}
