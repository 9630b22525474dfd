// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default address settings. MaxSizeBytes <= 0 means the address never pages.
const (
	DefaultPageSizeBytes  = 10 * 1024 * 1024
	DefaultMaxSizeBytes   = -1
	DefaultDedupCacheSize = 2000
)

// Config holds all configuration for the address layer daemon.
type Config struct {
	Log       LogConfig         `yaml:"log"`
	Paging    PagingConfig      `yaml:"paging"`
	Dedup     DedupConfig       `yaml:"dedup"`
	API       APIConfig         `yaml:"api"`
	Addresses []AddressSettings `yaml:"addresses"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// PagingConfig holds paging store configuration.
type PagingConfig struct {
	// Directory for page files, one subdirectory per paged address.
	Dir string `yaml:"dir"`

	// Compress page records with s2 when it shrinks them.
	Compression bool `yaml:"compression"`
}

// DedupConfig holds duplicate-detection cache configuration.
type DedupConfig struct {
	// Persist ID caches to disk so bounded eviction order survives restarts.
	Persist bool `yaml:"persist"`

	// Directory for the persistent ID cache database.
	Dir string `yaml:"dir"`
}

// APIConfig holds the management API listener configuration.
type APIConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AddressSettings holds per-address-match settings. Match is a hierarchical
// pattern over "/"-separated address names: "+" matches one level, a trailing
// "#" matches the rest. The most specific matching entry wins; "#" alone is
// the catch-all.
type AddressSettings struct {
	Match          string `yaml:"match"`
	MaxSizeBytes   int64  `yaml:"max_size_bytes"`
	PageSizeBytes  int64  `yaml:"page_size_bytes"`
	DedupCacheSize int    `yaml:"dedup_cache_size"`
}

// DefaultAddressSettings returns the settings applied when no match entry exists.
func DefaultAddressSettings() AddressSettings {
	return AddressSettings{
		Match:          "#",
		MaxSizeBytes:   DefaultMaxSizeBytes,
		PageSizeBytes:  DefaultPageSizeBytes,
		DedupCacheSize: DefaultDedupCacheSize,
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Paging: PagingConfig{
			Dir:         "data/paging",
			Compression: true,
		},
		Dedup: DedupConfig{
			Persist: false,
			Dir:     "data/dedup",
		},
		API: APIConfig{
			Enabled:         true,
			Addr:            ":8181",
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults for
// anything the file does not set. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Log.Level)
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Log.Format)
	}

	for i, as := range c.Addresses {
		if as.Match == "" {
			return fmt.Errorf("addresses[%d]: match must not be empty", i)
		}
		if as.PageSizeBytes < 0 {
			return fmt.Errorf("addresses[%d]: page_size_bytes must not be negative", i)
		}
		if as.DedupCacheSize < 0 {
			return fmt.Errorf("addresses[%d]: dedup_cache_size must not be negative", i)
		}
	}

	return nil
}

// ResolveAddress returns the settings for an address name. The most specific
// matching entry wins; unset fields of the winner inherit the defaults.
func (c *Config) ResolveAddress(name string) AddressSettings {
	resolved := DefaultAddressSettings()

	best := -1
	bestSpecificity := -1
	for i, as := range c.Addresses {
		if !MatchAddress(as.Match, name) {
			continue
		}
		spec := specificity(as.Match)
		if spec > bestSpecificity {
			best = i
			bestSpecificity = spec
		}
	}
	if best < 0 {
		return resolved
	}

	as := c.Addresses[best]
	resolved.Match = as.Match
	if as.MaxSizeBytes != 0 {
		resolved.MaxSizeBytes = as.MaxSizeBytes
	}
	if as.PageSizeBytes != 0 {
		resolved.PageSizeBytes = as.PageSizeBytes
	}
	if as.DedupCacheSize != 0 {
		resolved.DedupCacheSize = as.DedupCacheSize
	}
	return resolved
}

// specificity ranks a match pattern: literal levels beat "+" levels, which
// beat a trailing "#".
func specificity(pattern string) int {
	score := 0
	for _, level := range strings.Split(pattern, "/") {
		switch level {
		case "#":
		case "+":
			score += 1
		default:
			score += 2
		}
	}
	return score
}
