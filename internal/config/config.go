package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath                = "/etc/robovacd/config.yaml"
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultPollIntervalSeconds = 30
	DefaultLogLevel            = "info"
	DefaultDiscoveryPrefix     = "homeassistant"
	DefaultTopicRoot           = "robovac"
	DefaultMQTTClientID        = "robovacd"
)

type Config struct {
	HTTPAddr            string   `yaml:"http_addr"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
	LogLevel            string   `yaml:"log_level"`
	MQTT                MQTT     `yaml:"mqtt"`
	Devices             []Device `yaml:"devices"`
}

// MQTT configures the Home Assistant bridge. An empty broker disables
// the bridge; the daemon then only polls and serves metrics.
type MQTT struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	TopicRoot       string `yaml:"topic_root"`
}

// Device identifies one vacuum on the LAN. Rooms maps friendly room IDs
// to the raw base64 selection payloads captured from the vendor app.
type Device struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Host     string            `yaml:"host"`
	LocalKey string            `yaml:"local_key"`
	Rooms    map[string]string `yaml:"rooms"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err = Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.PollIntervalSeconds == 0 {
		cfg.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultMQTTClientID
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if cfg.MQTT.TopicRoot == "" {
		cfg.MQTT.TopicRoot = DefaultTopicRoot
	}
	for i := range cfg.Devices {
		if cfg.Devices[i].Name == "" {
			cfg.Devices[i].Name = cfg.Devices[i].ID
		}
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.PollIntervalSeconds < 0 {
		return fmt.Errorf("poll_interval_seconds must not be negative")
	}
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("at least one device is required")
	}

	seen := make(map[string]bool)
	for i, dev := range cfg.Devices {
		if dev.ID == "" {
			return fmt.Errorf("devices[%d].id is required", i)
		}
		if seen[dev.ID] {
			return fmt.Errorf("devices[%d].id %q is duplicated", i, dev.ID)
		}
		seen[dev.ID] = true
		if dev.Host == "" {
			return fmt.Errorf("device %s: host is required", dev.ID)
		}
		if len(dev.LocalKey) != 16 {
			return fmt.Errorf("device %s: local_key must be 16 characters", dev.ID)
		}
	}
	return nil
}

// PollInterval returns the configured poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// BridgeEnabled reports whether an MQTT broker is configured.
func (c *Config) BridgeEnabled() bool {
	return c.MQTT.Broker != ""
}
