// Package config loads the w77qctl bootstrap configuration: which SPI
// device/pins to drive, the bus mode to connect at, and where key
// material lives on disk.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Keys    KeysConfig    `yaml:"keys"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

// DeviceConfig names the physical SPI resource and the bus mode to
// bring it up in.
type DeviceConfig struct {
	SPIPort string `yaml:"spi_port"`
	HoldPin string `yaml:"hold_pin"`
	SpeedHz int64  `yaml:"speed_hz"`
	BusMode string `yaml:"bus_mode"` // "single", "dual-io", "quad-io", "qpi"
	DTR     bool   `yaml:"dtr"`
}

// KeysConfig points at hex-encoded key files rather than embedding key
// material in the config itself.
type KeysConfig struct {
	DeviceMasterKeyFile string            `yaml:"device_master_key_file"`
	SectionKeyFiles     map[string]string `yaml:"section_key_files"` // section index (as string) -> path
}

type RuntimeConfig struct {
	Section *int `yaml:"section"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.SPIPort) == "" {
		return fmt.Errorf("config.device.spi_port is required")
	}
	if c.Device.SpeedHz <= 0 {
		return fmt.Errorf("config.device.speed_hz must be > 0")
	}
	switch c.Device.BusMode {
	case "single", "dual-io", "quad-io", "qpi":
	default:
		return fmt.Errorf("config.device.bus_mode must be one of single, dual-io, quad-io, qpi, got %q", c.Device.BusMode)
	}

	if strings.TrimSpace(c.Keys.DeviceMasterKeyFile) == "" {
		return fmt.Errorf("config.keys.device_master_key_file is required")
	}
	if err := validateReadableFile(c.Keys.DeviceMasterKeyFile, "config.keys.device_master_key_file"); err != nil {
		return err
	}
	for section, path := range c.Keys.SectionKeyFiles {
		if err := validateReadableFile(path, fmt.Sprintf("config.keys.section_key_files[%s]", section)); err != nil {
			return err
		}
	}

	if c.Runtime.Section == nil {
		return fmt.Errorf("config.runtime.section is required")
	}
	if *c.Runtime.Section < 0 || *c.Runtime.Section > 7 {
		return fmt.Errorf("config.runtime.section must be 0-7")
	}

	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Keys.DeviceMasterKeyFile = resolvePath(configDir, c.Keys.DeviceMasterKeyFile)
	for section, path := range c.Keys.SectionKeyFiles {
		c.Keys.SectionKeyFiles[section] = resolvePath(configDir, path)
	}
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
