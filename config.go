// SPDX-License-Identifier: GPL-3.0-or-later

package udpdnstun

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultIdleTimeout is the default [Config.IdleTimeout].
	DefaultIdleTimeout = 60 * time.Second

	// DefaultChannelCapacity is the default [Config.ChannelCapacity].
	DefaultChannelCapacity = 20

	// DefaultLogLevel is the default [Config.LogLevel].
	DefaultLogLevel = "warn"
)

// Config contains the tunnel configuration.
//
// Construct using [NewConfig] or [LoadConfig].
type Config struct {
	// ListenAddr is the address of the listening socket.
	ListenAddr string `yaml:"listen"`

	// Destination is the tunnel destination as host:port.
	Destination string `yaml:"destination"`

	// Role is the tunnel role.
	Role Role `yaml:"role"`

	// LogLevel is one of debug, info, warn, and error.
	LogLevel string `yaml:"log_level"`

	// TimeoutSeconds is the idle timeout in seconds, as written
	// in the configuration file. Use IdleTimeout in code.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// IdleTimeout is the time after which a flow that has seen no
	// traffic in either direction ends.
	IdleTimeout time.Duration `yaml:"-"`

	// ChannelCapacity is the capacity of each flow inbound channel
	// and of the shared outbound channel.
	ChannelCapacity int `yaml:"channel_capacity"`

	// RawRequests disables the request transform so that datagrams
	// from peers reach the destination unchanged.
	RawRequests bool `yaml:"raw_requests"`

	// DestinationAddr is the resolved Destination.
	//
	// Set by [*Config.Resolve] or directly by the caller.
	DestinationAddr netip.AddrPort `yaml:"-"`
}

// NewConfig returns a [*Config] initialized with the default values.
func NewConfig() *Config {
	return &Config{
		Role:            RoleServer,
		LogLevel:        DefaultLogLevel,
		IdleTimeout:     DefaultIdleTimeout,
		ChannelCapacity: DefaultChannelCapacity,
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration data on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	config := NewConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if config.TimeoutSeconds != 0 {
		config.IdleTimeout = time.Duration(config.TimeoutSeconds) * time.Second
	}
	return config, nil
}

// Validate checks the configuration and returns an error wrapping
// [ErrInvalidConfig] when something is wrong.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: missing listen address", ErrInvalidConfig)
	}
	if c.Destination == "" && !c.DestinationAddr.IsValid() {
		return fmt.Errorf("%w: missing destination", ErrInvalidConfig)
	}
	if c.Role != RoleClient && c.Role != RoleServer {
		return fmt.Errorf("%w: invalid role %s", ErrInvalidConfig, c.Role)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle timeout must be positive", ErrInvalidConfig)
	}
	if c.ChannelCapacity <= 0 {
		return fmt.Errorf("%w: channel capacity must be positive", ErrInvalidConfig)
	}
	return nil
}

// Resolve resolves Destination into DestinationAddr using resolver, which
// is typically [*net.Resolver]. It is a no-op when DestinationAddr is set.
func (c *Config) Resolve(ctx context.Context, resolver Resolver) error {
	if c.DestinationAddr.IsValid() {
		return nil
	}
	addr, err := resolveAddrPort(ctx, resolver, c.Destination)
	if err != nil {
		return fmt.Errorf("resolving destination %q: %w", c.Destination, err)
	}
	c.DestinationAddr = addr
	return nil
}
