// SPDX-License-Identifier: Apache-2.0

// Package config loads the daemon configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ttrushin/ha-aromatech-scent-diffuser/internal/session"
)

// Config is the application configuration.
type Config struct {
	Gateway GatewayConfig  `yaml:"gateway"`
	Devices []DeviceConfig `yaml:"devices"`
	Link    LinkConfig     `yaml:"link"`
	API     APIConfig      `yaml:"api"`
	Log     LogConfig      `yaml:"log"`
}

// GatewayConfig selects and configures the wire to the BLE gateway.
type GatewayConfig struct {
	// Mode is "serial" or "websocket".
	Mode string `yaml:"mode"`

	Serial    SerialConfig    `yaml:"serial"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// SerialConfig configures a directly attached gateway.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// WebSocketConfig configures a networked gateway.
type WebSocketConfig struct {
	URL           string `yaml:"url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SkipSSLVerify bool   `yaml:"skip_ssl_verify"`
}

// DeviceConfig describes one diffuser to manage.
type DeviceConfig struct {
	Address   string `yaml:"address"`
	Name      string `yaml:"name"`
	Password  string `yaml:"password"`
	PairCode  string `yaml:"pair_code"`
	AromaSlot int    `yaml:"aroma_slot"`
}

// LinkConfig carries the session timing tunables, shared by all
// devices. Zero values use the session defaults.
type LinkConfig struct {
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	LoginTimeout      time.Duration `yaml:"login_timeout"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ConnectRetries    int           `yaml:"connect_retries"`
	BurstSettle       time.Duration `yaml:"burst_settle"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
}

// APIConfig configures the HTTP control API.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates a configuration file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if mode := os.Getenv("AROMALINK_GATEWAY_MODE"); mode != "" {
		c.Gateway.Mode = mode
	}
	if url := os.Getenv("AROMALINK_GATEWAY_URL"); url != "" {
		c.Gateway.WebSocket.URL = url
	}
	if user := os.Getenv("AROMALINK_GATEWAY_USERNAME"); user != "" {
		c.Gateway.WebSocket.Username = user
	}
	if pw := os.Getenv("AROMALINK_GATEWAY_PASSWORD"); pw != "" {
		c.Gateway.WebSocket.Password = pw
	}
	if port := os.Getenv("AROMALINK_SERIAL_PORT"); port != "" {
		c.Gateway.Serial.Port = port
	}
	if level := os.Getenv("AROMALINK_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

func (c *Config) setDefaults() {
	if c.Gateway.Mode == "" {
		if c.Gateway.Serial.Port != "" {
			c.Gateway.Mode = "serial"
		} else {
			c.Gateway.Mode = "websocket"
		}
	}
	if c.Gateway.Serial.BaudRate == 0 {
		c.Gateway.Serial.BaudRate = 115200
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8099
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

func (c *Config) validate() error {
	switch c.Gateway.Mode {
	case "serial":
		if c.Gateway.Serial.Port == "" {
			return fmt.Errorf("gateway mode serial requires serial.port")
		}
	case "websocket":
		if c.Gateway.WebSocket.URL == "" {
			return fmt.Errorf("gateway mode websocket requires websocket.url")
		}
	default:
		return fmt.Errorf("invalid gateway mode: %s", c.Gateway.Mode)
	}

	if len(c.Devices) == 0 {
		return fmt.Errorf("no devices configured")
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, dev := range c.Devices {
		if dev.Address == "" {
			return fmt.Errorf("device %d has no address", i)
		}
		if seen[dev.Address] {
			return fmt.Errorf("duplicate device address %s", dev.Address)
		}
		seen[dev.Address] = true
	}
	return nil
}

// SessionConfig builds the session configuration for one device by
// combining the shared link tunables with the device entry.
func (c *Config) SessionConfig(dev DeviceConfig) session.Config {
	return session.Config{
		Address:           dev.Address,
		Password:          dev.Password,
		PairCode:          dev.PairCode,
		AromaSlot:         dev.AromaSlot,
		CommandTimeout:    c.Link.CommandTimeout,
		LoginTimeout:      c.Link.LoginTimeout,
		ConnectTimeout:    c.Link.ConnectTimeout,
		ConnectRetries:    c.Link.ConnectRetries,
		BurstSettle:       c.Link.BurstSettle,
		IdleTimeout:       c.Link.IdleTimeout,
		ReconnectBase:     c.Link.ReconnectBase,
		ReconnectMax:      c.Link.ReconnectMax,
		ReconnectAttempts: c.Link.ReconnectAttempts,
	}
}
