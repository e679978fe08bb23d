// Package config loads the host-side link configuration: which serial
// device to open, at what MTU, and how long an invoke may wait for a reply.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/amken3d/motorlink/framing"
)

// LinkConfig describes how the host should talk to the motor controller.
type LinkConfig struct {
	Device        string
	Baud          int
	MTU           int
	InvokeTimeout time.Duration
	LogLevel      string
}

// rawConfig mirrors the TOML file on disk. InvokeTimeout is parsed
// separately with time.ParseDuration: github.com/BurntSushi/toml has no
// special-cased support for time.Duration, so decoding straight into that
// type would fail (or silently misdecode) a value like "5s".
type rawConfig struct {
	Device        string `toml:"device"`
	Baud          int    `toml:"baud"`
	MTU           int    `toml:"mtu"`
	InvokeTimeout string `toml:"invoke_timeout"`
	LogLevel      string `toml:"log_level"`
}

// Default returns the out-of-the-box configuration: the framer's own wire
// constants (MTU 127) and a five second invoke timeout.
func Default() LinkConfig {
	return LinkConfig{
		Device:        "/dev/ttyACM0",
		Baud:          115200,
		MTU:           framing.MaxPayload,
		InvokeTimeout: 5 * time.Second,
		LogLevel:      "info",
	}
}

// Load reads and validates a TOML configuration file at path, filling in
// defaults for any field left unset.
func Load(path string) (LinkConfig, error) {
	cfg := Default()

	var raw rawConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return LinkConfig{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	if raw.Device != "" {
		cfg.Device = raw.Device
	}
	if raw.Baud != 0 {
		cfg.Baud = raw.Baud
	}
	if raw.MTU != 0 {
		cfg.MTU = raw.MTU
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.InvokeTimeout != "" {
		d, err := time.ParseDuration(raw.InvokeTimeout)
		if err != nil {
			return LinkConfig{}, fmt.Errorf("config: %s: invalid invoke_timeout %q: %w", path, raw.InvokeTimeout, err)
		}
		cfg.InvokeTimeout = d
	}

	if err := validate(cfg); err != nil {
		return LinkConfig{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func validate(cfg LinkConfig) error {
	if strings.TrimSpace(cfg.Device) == "" {
		return fmt.Errorf("missing device")
	}
	if cfg.MTU <= 0 || cfg.MTU > framing.MaxPayload {
		return fmt.Errorf("mtu must be in (0, %d], got %d", framing.MaxPayload, cfg.MTU)
	}
	if cfg.InvokeTimeout <= 0 {
		return fmt.Errorf("invoke_timeout must be positive")
	}
	return nil
}
