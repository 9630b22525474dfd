// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package paging

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// Resolver supplies the paging settings for an address.
type Resolver func(address string) Settings

// Manager owns one paging store per address under a shared base directory.
// Address names are path-escaped to form subdirectory names, so reload on
// restart recovers the exact address set that was paging.
type Manager struct {
	mu sync.RWMutex

	dir     string
	resolve Resolver
	logger  *slog.Logger

	stores map[string]*Store
}

// NewManager creates a paging manager rooted at dir and reopens stores for
// every address that has page files on disk.
func NewManager(dir string, resolve Resolver, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if resolve == nil {
		resolve = func(string) Settings { return Settings{} }
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create paging root: %w", err)
	}

	m := &Manager{
		dir:     dir,
		resolve: resolve,
		logger:  logger,
		stores:  make(map[string]*Store),
	}

	if err := m.reload(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) reload() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("failed to read paging root: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		address, err := url.PathUnescape(e.Name())
		if err != nil {
			m.logger.Warn("paging_dir_skipped", slog.String("dir", e.Name()))
			continue
		}
		store, err := m.open(address)
		if err != nil {
			return err
		}
		m.stores[address] = store
	}
	return nil
}

func (m *Manager) storeDir(address string) string {
	return filepath.Join(m.dir, url.PathEscape(address))
}

func (m *Manager) open(address string) (*Store, error) {
	return NewStore(m.storeDir(address), address, m.resolve(address), m.logger)
}

// Store returns the paging store for an address, creating it on first use.
func (m *Manager) Store(address string) (*Store, error) {
	m.mu.RLock()
	store, ok := m.stores[address]
	m.mu.RUnlock()
	if ok {
		return store, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if store, ok := m.stores[address]; ok {
		return store, nil
	}

	store, err := m.open(address)
	if err != nil {
		return nil, err
	}
	m.stores[address] = store
	return store, nil
}

// Lookup returns the store for an address without creating one.
func (m *Manager) Lookup(address string) (*Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	store, ok := m.stores[address]
	return store, ok
}

// Remove drops an address's store and deletes its page files. Called when
// the address's last binding goes away.
func (m *Manager) Remove(address string) error {
	m.mu.Lock()
	store, ok := m.stores[address]
	delete(m.stores, address)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return store.Drop()
}

// Addresses returns the addresses with live paging stores.
func (m *Manager) Addresses() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	return names
}
