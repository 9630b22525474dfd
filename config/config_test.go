// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.Paging.Compression)
	assert.False(t, cfg.Dedup.Persist)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, 5*time.Second, cfg.API.ShutdownTimeout)
	assert.Empty(t, cfg.Addresses)
}

func TestLoadFile(t *testing.T) {
	content := `
log:
  level: debug
  format: json
paging:
  dir: /tmp/pages
  compression: false
dedup:
  persist: true
  dir: /tmp/dedup
api:
  enabled: false
addresses:
  - match: "orders/#"
    max_size_bytes: 10240
    page_size_bytes: 1024
    dedup_cache_size: 10
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/pages", cfg.Paging.Dir)
	assert.False(t, cfg.Paging.Compression)
	assert.True(t, cfg.Dedup.Persist)
	assert.False(t, cfg.API.Enabled)

	require.Len(t, cfg.Addresses, 1)
	assert.Equal(t, "orders/#", cfg.Addresses[0].Match)
	assert.Equal(t, int64(10240), cfg.Addresses[0].MaxSizeBytes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
		},
		{
			name: "empty address match",
			mutate: func(c *Config) {
				c.Addresses = []AddressSettings{{Match: ""}}
			},
			wantErr: true,
		},
		{
			name: "negative page size",
			mutate: func(c *Config) {
				c.Addresses = []AddressSettings{{Match: "#", PageSizeBytes: -1}}
			},
			wantErr: true,
		},
		{
			name: "negative dedup cache size",
			mutate: func(c *Config) {
				c.Addresses = []AddressSettings{{Match: "#", DedupCacheSize: -1}}
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveAddressDefaults(t *testing.T) {
	cfg := DefaultConfig()

	as := cfg.ResolveAddress("anything")
	assert.Equal(t, int64(DefaultMaxSizeBytes), as.MaxSizeBytes)
	assert.Equal(t, int64(DefaultPageSizeBytes), as.PageSizeBytes)
	assert.Equal(t, DefaultDedupCacheSize, as.DedupCacheSize)
}

func TestResolveAddressMostSpecificWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addresses = []AddressSettings{
		{Match: "#", MaxSizeBytes: 100},
		{Match: "orders/#", MaxSizeBytes: 200},
		{Match: "orders/eu", MaxSizeBytes: 300},
	}

	assert.Equal(t, int64(300), cfg.ResolveAddress("orders/eu").MaxSizeBytes)
	assert.Equal(t, int64(200), cfg.ResolveAddress("orders/us").MaxSizeBytes)
	assert.Equal(t, int64(100), cfg.ResolveAddress("other").MaxSizeBytes)
}

func TestResolveAddressInheritsUnsetFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addresses = []AddressSettings{
		{Match: "orders", MaxSizeBytes: 10240},
	}

	as := cfg.ResolveAddress("orders")
	assert.Equal(t, int64(10240), as.MaxSizeBytes)
	// Fields the entry does not set inherit the defaults.
	assert.Equal(t, int64(DefaultPageSizeBytes), as.PageSizeBytes)
	assert.Equal(t, DefaultDedupCacheSize, as.DedupCacheSize)
}
