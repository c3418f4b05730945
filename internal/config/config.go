// Package config loads the canflash tool configuration from a YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Transport names accepted in the configuration.
const (
	TransportSocketCAN = "socketcan"
	TransportSLCAN     = "slcan"
	TransportSim       = "sim"
)

// Config collects the runtime settings of the flash tool.
type Config struct {
	Transport string `yaml:"transport"`
	Interface string `yaml:"interface"` // socketcan interface, e.g. can0
	Port      string `yaml:"port"`      // slcan serial device
	Baud      int    `yaml:"baud"`      // slcan serial baud rate
	Bitrate   uint32 `yaml:"bitrate"`   // CAN bitrate for slcan setup
	BoardID   uint8  `yaml:"board_id"`
	History   string `yaml:"history"` // session database path; empty disables
	LogLevel  string `yaml:"log_level"`
	LogFrames bool   `yaml:"log_frames"` // wrap the bus in a frame logger
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Transport: TransportSocketCAN,
		Interface: "can0",
		Baud:      115200,
		Bitrate:   125000,
		LogLevel:  "info",
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportSocketCAN:
		if c.Interface == "" {
			return fmt.Errorf("config: socketcan transport needs an interface")
		}
	case TransportSLCAN:
		if c.Port == "" {
			return fmt.Errorf("config: slcan transport needs a port")
		}
	case TransportSim:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel converts the textual log level into a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", level)
}
