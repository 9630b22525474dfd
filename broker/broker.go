// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/flaremq/flaremq/config"
	"github.com/flaremq/flaremq/dedup"
	"github.com/flaremq/flaremq/otel"
	"github.com/flaremq/flaremq/paging"
)

// Internal address namespace. The management address always exists;
// retroactive resources are internal addresses derived from a base name.
const (
	internalPrefix = "$sys"

	// ManagementAddress is the internal address management clients target.
	ManagementAddress = "$sys/management"

	retroactivePrefix = "$sys/retro/"
)

// RetroactiveAddressName derives the internal retroactive-resource address
// for a base address name.
func RetroactiveAddressName(base string) string {
	return retroactivePrefix + base
}

func isInternalAddress(name string) bool {
	return strings.HasPrefix(name, internalPrefix)
}

// Broker is the address layer core: it owns every address record and is the
// dispatch decision point all inbound messages pass through.
type Broker struct {
	mu        sync.RWMutex
	addresses map[string]*addressRecord

	cfg     *config.Config
	paging  *paging.Manager
	dedupDB *badger.DB // nil unless dedup persistence is configured

	logger  *slog.Logger
	stats   *Stats
	metrics *otel.Metrics // nil if metrics disabled
}

// New creates a broker. The paging manager reloads any page files found
// under the configured directory, and addresses that were paging resume in
// paging mode. metrics may be nil.
func New(cfg *config.Config, logger *slog.Logger, metrics *otel.Metrics) (*Broker, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pm, err := paging.NewManager(cfg.Paging.Dir, func(address string) paging.Settings {
		as := cfg.ResolveAddress(address)
		return paging.Settings{
			MaxSizeBytes:  as.MaxSizeBytes,
			PageSizeBytes: as.PageSizeBytes,
			Compression:   cfg.Paging.Compression,
		}
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create paging manager: %w", err)
	}

	var db *badger.DB
	if cfg.Dedup.Persist {
		db, err = dedup.OpenDB(cfg.Dedup.Dir)
		if err != nil {
			return nil, err
		}
	}

	b := &Broker{
		addresses: make(map[string]*addressRecord),
		cfg:       cfg,
		paging:    pm,
		dedupDB:   db,
		logger:    logger,
		stats:     NewStats(),
		metrics:   metrics,
	}

	// The management address always exists.
	b.addresses[ManagementAddress] = newAddressRecord(ManagementAddress, true, Multicast)

	// Addresses that were paging at shutdown come back as known addresses so
	// their pages and counters stay observable.
	for _, name := range pm.Addresses() {
		if _, ok := b.addresses[name]; !ok {
			rec := newAddressRecord(name, false)
			if store, ok := pm.Lookup(name); ok {
				rec.store = store
			}
			b.addresses[name] = rec
		}
	}

	return b, nil
}

// Close releases the broker's resources.
func (b *Broker) Close() error {
	if b.dedupDB != nil {
		if err := b.dedupDB.Close(); err != nil {
			return fmt.Errorf("failed to close duplicate ID database: %w", err)
		}
	}
	return nil
}

// Stats returns the broker-wide statistics.
func (b *Broker) Stats() *Stats {
	return b.stats
}

func (b *Broker) lookup(address string) *addressRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.addresses[address]
}

// ensureRecord returns the record for an address, creating it if absent.
// Explicitly created addresses are pinned; auto-created ones are removed
// with their last binding.
func (b *Broker) ensureRecord(address string, pinned bool) *addressRecord {
	b.mu.RLock()
	rec := b.addresses[address]
	b.mu.RUnlock()
	if rec != nil {
		return rec
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if rec := b.addresses[address]; rec != nil {
		return rec
	}
	rec = newAddressRecord(address, pinned)
	b.addresses[address] = rec
	b.logger.Debug("address_created",
		slog.String("address", address),
		slog.Bool("pinned", pinned))
	return rec
}

// CreateAddress explicitly creates an address with the given routing types.
// Explicit addresses persist until deleted even with no bindings.
func (b *Broker) CreateAddress(address string, types ...RoutingType) error {
	if address == "" {
		return fmt.Errorf("address name must not be empty")
	}
	rec := b.ensureRecord(address, true)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.pinned = true
	for _, t := range types {
		rec.routingTypes[t] = struct{}{}
	}
	return nil
}

// AddressExists reports whether the address is known.
func (b *Broker) AddressExists(address string) bool {
	return b.lookup(address) != nil
}

// ListAddresses enumerates all known address names, sorted.
func (b *Broker) ListAddresses() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.addresses))
	for name := range b.addresses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRetroactiveResource reports whether the address is an internal
// retroactive resource.
func (b *Broker) IsRetroactiveResource(address string) bool {
	return strings.HasPrefix(address, retroactivePrefix)
}

// dedupCache returns the address's duplicate-ID cache, creating it on first
// use with the configured capacity. Caller holds rec.mu.
func (b *Broker) dedupCache(rec *addressRecord) (*dedup.Cache, error) {
	if rec.dedup != nil {
		return rec.dedup, nil
	}

	var store dedup.Store
	if b.dedupDB != nil {
		store = dedup.NewBadgerStore(b.dedupDB, rec.name)
	}

	cache, err := dedup.NewCache(b.cfg.ResolveAddress(rec.name).DedupCacheSize, store)
	if err != nil {
		return nil, err
	}
	rec.dedup = cache
	return cache, nil
}

// pagingStore returns the address's paging store, creating it on first use.
// Caller holds rec.mu.
func (b *Broker) pagingStore(rec *addressRecord) (*paging.Store, error) {
	if rec.store != nil {
		return rec.store, nil
	}
	store, err := b.paging.Store(rec.name)
	if err != nil {
		return nil, err
	}
	rec.store = store
	return store, nil
}
