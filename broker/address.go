// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync"
	"sync/atomic"

	"github.com/flaremq/flaremq/dedup"
	"github.com/flaremq/flaremq/paging"
)

// addressRecord is the single per-address record holding all of an address's
// mutable state: its registry entry, routing types, duplicate cache, paging
// store handle and counters. The record's mutex is the per-address critical
// section: dedup check-then-insert, binding changes and the paging decision
// are atomic with respect to concurrent sends to the same address, while
// sends to different addresses proceed fully in parallel.
type addressRecord struct {
	mu sync.Mutex

	name         string
	routingTypes map[RoutingType]struct{}

	// pinned addresses survive the removal of their last binding
	// (explicitly created or internal system addresses).
	pinned   bool
	internal bool

	bindings []Binding // insertion order
	byName   map[string]Binding

	// round-robin position for anycast distribution
	rrPos uint64

	routed   atomic.Uint64
	unrouted atomic.Uint64

	// lazily created
	dedup *dedup.Cache
	store *paging.Store
}

func newAddressRecord(name string, pinned bool, types ...RoutingType) *addressRecord {
	rec := &addressRecord{
		name:         name,
		pinned:       pinned,
		internal:     isInternalAddress(name),
		routingTypes: make(map[RoutingType]struct{}),
		byName:       make(map[string]Binding),
	}
	for _, t := range types {
		rec.routingTypes[t] = struct{}{}
	}
	return rec
}

// routingTypeEnabled reports whether the address accepts the routing type.
// Caller holds rec.mu.
func (rec *addressRecord) routingTypeEnabled(t RoutingType) bool {
	_, ok := rec.routingTypes[t]
	return ok
}

// localQueues returns the local queue bindings in insertion order.
// Caller holds rec.mu.
func (rec *addressRecord) localQueues() []*QueueBinding {
	var out []*QueueBinding
	for _, b := range rec.bindings {
		if qb, ok := b.(*QueueBinding); ok {
			out = append(out, qb)
		}
	}
	return out
}
