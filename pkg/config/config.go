// Package config holds the runtime configuration of the protractor CLI and
// the build version injected by the dev tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/protractor"
	"github.com/mklimuk/protractor/uart"
)

// Version is set at build time.
var Version = "latest"

const (
	TransportUART    = "uart"
	TransportI2C     = "i2c"
	TransportMCP2221 = "mcp2221"
	TransportGobot   = "gobot"
)

var Transports = []string{TransportUART, TransportI2C, TransportMCP2221, TransportGobot}

var ErrInvalid = errors.New("invalid configuration")

type Timeouts struct {
	// Comm is the inter-byte timeout while the sensor scans continuously.
	Comm time.Duration `yaml:"comm"`
	// Scan is added to Comm when the sensor only scans on request.
	Scan time.Duration `yaml:"scan"`
}

type Config struct {
	Transport string `yaml:"transport"`
	// Device is the serial port path for uart, the bus name for i2c
	// ("1", "/dev/i2c-1") and is ignored otherwise.
	Device  string `yaml:"device"`
	Address int    `yaml:"address"`
	// Bus is the gobot I2C bus number.
	Bus int `yaml:"bus"`
	// Speed is the I2C clock in Hz.
	Speed    int              `yaml:"speed"`
	Serial   uart.PortOptions `yaml:"serial"`
	Timeouts Timeouts         `yaml:"timeouts"`
}

func Default() Config {
	return Config{
		Transport: TransportUART,
		Device:    "/dev/ttyUSB0",
		Address:   protractor.DefaultAddress,
		Speed:     100_000,
		Serial:    uart.PortOptions{BaudRate: protractor.DefaultBaudRate},
		Timeouts: Timeouts{
			Comm: 20 * time.Millisecond,
			Scan: 20 * time.Millisecond,
		},
	}
}

// Load reads the YAML file at path on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	err := yaml.Unmarshal(data, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("could not parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if !slices.Contains(Transports, c.Transport) {
		return fmt.Errorf("%w: unknown transport %q, expected one of %v", ErrInvalid, c.Transport, Transports)
	}
	if c.Address < 2 || c.Address > 127 {
		return fmt.Errorf("%w: i2c address %d out of range", ErrInvalid, c.Address)
	}
	if c.Transport == TransportUART && c.Device == "" {
		return fmt.Errorf("%w: serial device is required", ErrInvalid)
	}
	if c.Speed <= 0 {
		return fmt.Errorf("%w: i2c speed must be positive", ErrInvalid)
	}
	if c.Timeouts.Comm <= 0 || c.Timeouts.Scan < 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	}
	if _, err := c.Serial.Normalize(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
