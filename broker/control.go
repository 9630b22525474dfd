// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Management operations over a single address. This is the contract the
// control surface consumes; it only reads derived state through these
// methods and never touches the records directly.

// RoutingTypes returns the address's enabled routing types.
func (b *Broker) RoutingTypes(address string) ([]RoutingType, error) {
	rec := b.lookup(address)
	if rec == nil {
		return nil, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	var types []RoutingType
	for _, t := range []RoutingType{Anycast, Multicast} {
		if _, ok := rec.routingTypes[t]; ok {
			types = append(types, t)
		}
	}
	return types, nil
}

// RoutingTypesJSON returns the routing types as a JSON array of strings.
func (b *Broker) RoutingTypesJSON(address string) (string, error) {
	types, err := b.RoutingTypes(address)
	if err != nil {
		return "", err
	}

	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	data, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("failed to encode routing types: %w", err)
	}
	return string(data), nil
}

// MessageCount returns the number of messages currently held by the
// address's local queues, paged messages included.
func (b *Broker) MessageCount(address string) (int64, error) {
	rec := b.lookup(address)
	if rec == nil {
		return 0, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	var count int64
	for _, qb := range rec.localQueues() {
		count += int64(qb.Queue().Depth())
	}
	return count, nil
}

// RoutedMessageCount returns how many messages at least one binding accepted.
func (b *Broker) RoutedMessageCount(address string) (uint64, error) {
	rec := b.lookup(address)
	if rec == nil {
		return 0, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}
	return rec.routed.Load(), nil
}

// UnRoutedMessageCount returns how many messages found zero matching
// bindings at dispatch time.
func (b *Broker) UnRoutedMessageCount(address string) (uint64, error) {
	rec := b.lookup(address)
	if rec == nil {
		return 0, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}
	return rec.unrouted.Load(), nil
}

// NumberOfPages returns the address's page file count, 0 while not paging.
func (b *Broker) NumberOfPages(address string) (int, error) {
	rec := b.lookup(address)
	if rec == nil {
		return 0, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}

	rec.mu.Lock()
	store := rec.store
	rec.mu.Unlock()

	if store == nil {
		return 0, nil
	}
	return store.PageCount(), nil
}

// AddressSize returns the address's resident byte size.
func (b *Broker) AddressSize(address string) (int64, error) {
	rec := b.lookup(address)
	if rec == nil {
		return 0, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}

	rec.mu.Lock()
	store := rec.store
	rec.mu.Unlock()

	if store == nil {
		return 0, nil
	}
	return store.Size(), nil
}

// NumberOfBytesPerPage returns the address's configured page size.
func (b *Broker) NumberOfBytesPerPage(address string) (int64, error) {
	rec := b.lookup(address)
	if rec == nil {
		return 0, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}
	return b.cfg.ResolveAddress(address).PageSizeBytes, nil
}

// CurrentDuplicateIDCacheSize returns the number of resident dedup IDs.
func (b *Broker) CurrentDuplicateIDCacheSize(address string) (int, error) {
	rec := b.lookup(address)
	if rec == nil {
		return 0, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.dedup == nil {
		return 0, nil
	}
	return rec.dedup.Size(), nil
}

// ClearDuplicateIDCache empties the address's dedup cache. The clear is
// synchronous: a subsequent size query observes 0 and previously seen IDs
// are treated as new.
func (b *Broker) ClearDuplicateIDCache(address string) (bool, error) {
	rec := b.lookup(address)
	if rec == nil {
		return false, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.dedup == nil {
		return true, nil
	}
	if err := rec.dedup.Clear(); err != nil {
		return false, err
	}
	return true, nil
}

// SendMessage injects a message through the management surface and routes it.
func (b *Broker) SendMessage(ctx context.Context, address string, headers map[string]string, body []byte, durable bool) (RouteOutcome, error) {
	msg := NewMessage(address, body, headers)
	msg.Durable = durable
	return b.Route(ctx, msg)
}

// Purge removes all currently queued and paged messages across every local
// binding of the address and returns how many were removed. All-or-nothing
// per binding, not atomic across bindings.
func (b *Broker) Purge(address string) (int, error) {
	rec := b.lookup(address)
	if rec == nil {
		return 0, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	removed := 0
	for _, qb := range rec.localQueues() {
		removed += qb.Queue().Purge()
	}
	if rec.store != nil {
		rec.store.Purge()
	}

	b.logger.Info("address_purged",
		slog.String("address", address),
		slog.Int("removed", removed))
	return removed, nil
}

// ResetPaging clears an address's failed-paging state after operator
// intervention (e.g. disk space recovered).
func (b *Broker) ResetPaging(address string) error {
	rec := b.lookup(address)
	if rec == nil {
		return fmt.Errorf("%w: address %q", ErrNotFound, address)
	}

	rec.mu.Lock()
	store := rec.store
	rec.mu.Unlock()

	if store != nil {
		store.Reset()
	}
	return nil
}
