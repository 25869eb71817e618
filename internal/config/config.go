package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	MQTT            MQTTConfig     `yaml:"mqtt"`
	PWM             PWMConfig      `yaml:"pwm"`
	Database        DatabaseConfig `yaml:"database"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	HTTP            HTTPConfig     `yaml:"http"`
	Log             LogConfig      `yaml:"log"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// MQTTConfig contains broker connection settings
type MQTTConfig struct {
	Server         string   `yaml:"server"`       // e.g. tcp://broker.local:1883
	ClientID       string   `yaml:"client_id"`    // MQTT client identifier
	Topic          string   `yaml:"topic"`        // Topic commands are received on
	StatusTopic    string   `yaml:"status_topic"` // Topic status reports go to (default: topic)
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	QoS            byte     `yaml:"qos"`
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// Reconnect settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max connect attempts, 0 = infinite (default: 0)

	RateLimitRPS float64 `yaml:"rate_limit_rps"` // Inbound messages per second, 0 = unlimited
}

// PWMConfig selects the PWM driver and maps channels to hardware outputs
type PWMConfig struct {
	Driver   string         `yaml:"driver"` // memory or sysfs
	Chip     int            `yaml:"chip"`   // sysfs pwmchip number
	Channels map[string]int `yaml:"channels"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains command ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HTTPConfig contains the local HTTP server settings
type HTTPConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	CommandEndpoint   bool     `yaml:"command_endpoint"`   // Accept POST /command
	WebsocketInterval Duration `yaml:"websocket_interval"` // Status push interval on /ws
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the configured level
func (c *LogConfig) GetLevel() string {
	return c.Level
}

// Retention returns the ledger retention as a duration
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Addr returns host:port for the HTTP server
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetStatusTopic returns the status topic, falling back to the command topic
func (c *MQTTConfig) GetStatusTopic() string {
	if c.StatusTopic == "" {
		return c.Topic
	}
	return c.StatusTopic
}

// GetShutdownTimeout returns the shutdown timeout
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultChannels maps channel names to sysfs PWM indexes when none are configured
var DefaultChannels = map[string]int{
	"red":    0,
	"green":  1,
	"blue":   2,
	"purple": 3,
	"white":  4,
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration data and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./treelight.sqlite"
	}

	// MQTT defaults
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.MQTT.MinRetryBackoff == 0 {
		cfg.MQTT.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.MQTT.MaxRetryBackoff == 0 {
		cfg.MQTT.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.MQTT.RetryMultiplier == 0 {
		cfg.MQTT.RetryMultiplier = 2.0
	}
	// MaxReconnects and RateLimitRPS default to 0 (unlimited), no need to set

	// PWM defaults
	if cfg.PWM.Driver == "" {
		cfg.PWM.Driver = "memory"
	}
	if cfg.PWM.Channels == nil {
		cfg.PWM.Channels = make(map[string]int, len(DefaultChannels))
	}
	for name, idx := range DefaultChannels {
		if _, ok := cfg.PWM.Channels[name]; !ok {
			cfg.PWM.Channels[name] = idx
		}
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// HTTP defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9090
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.WebsocketInterval == 0 {
		cfg.HTTP.WebsocketInterval = Duration(1 * time.Second)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks that the settings needed to subscribe are present
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.MQTT.Server == "" {
		errs = append(errs, errors.New("mqtt.server is required"))
	}
	if cfg.MQTT.ClientID == "" {
		errs = append(errs, errors.New("mqtt.client_id is required"))
	}
	if cfg.MQTT.Topic == "" {
		errs = append(errs, errors.New("mqtt.topic is required"))
	}
	if cfg.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS))
	}
	if cfg.MQTT.RateLimitRPS < 0 {
		errs = append(errs, errors.New("mqtt.rate_limit_rps must not be negative"))
	}
	return errors.Join(errs...)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
