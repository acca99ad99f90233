// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for packagefs.
//
// Configuration is loaded from a single file specified by:
//   - PACKAGEFS_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery: if neither is set,
// loading fails rather than guessing. This keeps a mount's behavior
// fully determined by one file the operator can inspect.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for a packagefs mount.
type Config struct {
	// MountPoint is the directory the filesystem is mounted at. Must
	// already exist.
	MountPoint string `yaml:"mount_point"`

	// BlockSize is the fixed block size for the session, in bytes.
	// Must satisfy 4096 <= BlockSize <= 2^22.
	BlockSize uint32 `yaml:"block_size"`

	// Provider selects and configures the block data source.
	Provider ProviderConfig `yaml:"provider"`

	// Cache configures the retention cache's memory budget.
	Cache CacheConfig `yaml:"cache"`
}

// ProviderKind identifies which Provider implementation to construct.
type ProviderKind string

const (
	ProviderFile   ProviderKind = "file"
	ProviderSocket ProviderKind = "socket"
)

// ProviderConfig configures the block data source. Exactly the fields
// relevant to Kind need be set; the rest are ignored.
type ProviderConfig struct {
	Kind ProviderKind `yaml:"kind"`

	// FilePath is the local file to serve when Kind is "file".
	FilePath string `yaml:"file_path,omitempty"`

	// SocketNetwork and SocketAddress dial a peer when Kind is
	// "socket" (network is typically "unix").
	SocketNetwork string `yaml:"socket_network,omitempty"`
	SocketAddress string `yaml:"socket_address,omitempty"`
}

// CacheConfig configures the retention cache's memory budget.
type CacheConfig struct {
	// ReservationBytes is held back from the cache budget for a
	// co-resident process that also needs free memory to do its own
	// work; defaults to 500 MiB but is configurable per deployment.
	ReservationBytes uint64 `yaml:"reservation_bytes"`

	// Disable forces the retention cache off regardless of available
	// memory, useful for reproducing tamper scenarios deterministically.
	Disable bool `yaml:"disable"`
}

// EnvVar is the environment variable Load reads the config path from.
const EnvVar = "PACKAGEFS_CONFIG"

// DefaultReservationBytes mirrors packagefuse.DefaultReservationBytes;
// duplicated here (rather than imported) so that config stays free of
// a dependency on the Linux-only packagefuse package.
const DefaultReservationBytes = 500 * 1024 * 1024

// Default returns a Config with zero-value-safe defaults. MountPoint
// and the provider's source are left empty: there is no sane default
// for "which package to serve", so Validate rejects an unconfigured
// Config rather than silently picking one.
func Default() *Config {
	return &Config{
		BlockSize: 4096,
		Provider: ProviderConfig{
			Kind: ProviderFile,
		},
		Cache: CacheConfig{
			ReservationBytes: DefaultReservationBytes,
		},
	}
}

// Load reads the config path from PACKAGEFS_CONFIG. There is no
// fallback: an unset variable is an error, not an implicit default
// file location.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("config: %s not set; set it to the path of your packagefs.yaml, or pass --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads and validates configuration from a specific file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// varPattern expands ${VAR} and ${VAR:-default} patterns, same
// convention used for Bureau's own path expansion.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

func (c *Config) expandVariables() {
	c.MountPoint = expandVars(c.MountPoint)
	c.Provider.FilePath = expandVars(c.Provider.FilePath)
	c.Provider.SocketAddress = expandVars(c.Provider.SocketAddress)
}

// Validate checks the configuration for errors a running mount would
// otherwise discover the hard way.
func (c *Config) Validate() error {
	var errs []error

	if c.MountPoint == "" {
		errs = append(errs, fmt.Errorf("mount_point is required"))
	}
	if c.BlockSize < 4096 || c.BlockSize > 1<<22 {
		errs = append(errs, fmt.Errorf("block_size %d out of range [4096, %d]", c.BlockSize, 1<<22))
	}

	switch c.Provider.Kind {
	case ProviderFile:
		if c.Provider.FilePath == "" {
			errs = append(errs, fmt.Errorf("provider.file_path is required for provider.kind = file"))
		}
	case ProviderSocket:
		if c.Provider.SocketAddress == "" {
			errs = append(errs, fmt.Errorf("provider.socket_address is required for provider.kind = socket"))
		}
		if c.Provider.SocketNetwork == "" {
			c.Provider.SocketNetwork = "unix"
		}
	default:
		errs = append(errs, fmt.Errorf("provider.kind %q must be %q or %q", c.Provider.Kind, ProviderFile, ProviderSocket))
	}

	if len(errs) == 0 {
		return nil
	}
	joined := errs[0]
	for _, e := range errs[1:] {
		joined = fmt.Errorf("%w; %s", joined, e)
	}
	return fmt.Errorf("config: invalid configuration: %w", joined)
}
