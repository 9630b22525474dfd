// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync/atomic"
	"time"
)

// Stats tracks broker-wide routing statistics. Per-address routed/unrouted
// counters live on the address records; these are the global totals.
type Stats struct {
	startTime time.Time

	// Routing outcomes
	routed     atomic.Uint64
	unrouted   atomic.Uint64
	duplicates atomic.Uint64

	// Paging
	pagedWrites atomic.Uint64
	pagedBytes  atomic.Uint64

	// Registry churn
	bindingsAdded   atomic.Uint64
	bindingsRemoved atomic.Uint64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{
		startTime: time.Now(),
	}
}

// Uptime returns how long the broker has been running.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

func (s *Stats) IncrementRouted() {
	s.routed.Add(1)
}

func (s *Stats) IncrementUnrouted() {
	s.unrouted.Add(1)
}

func (s *Stats) IncrementDuplicates() {
	s.duplicates.Add(1)
}

func (s *Stats) AddPagedWrite(bytes int) {
	s.pagedWrites.Add(1)
	s.pagedBytes.Add(uint64(bytes))
}

func (s *Stats) IncrementBindingsAdded() {
	s.bindingsAdded.Add(1)
}

func (s *Stats) IncrementBindingsRemoved() {
	s.bindingsRemoved.Add(1)
}

func (s *Stats) GetRouted() uint64 {
	return s.routed.Load()
}

func (s *Stats) GetUnrouted() uint64 {
	return s.unrouted.Load()
}

func (s *Stats) GetDuplicates() uint64 {
	return s.duplicates.Load()
}

func (s *Stats) GetPagedWrites() uint64 {
	return s.pagedWrites.Load()
}

func (s *Stats) GetPagedBytes() uint64 {
	return s.pagedBytes.Load()
}

func (s *Stats) GetBindingsAdded() uint64 {
	return s.bindingsAdded.Load()
}

func (s *Stats) GetBindingsRemoved() uint64 {
	return s.bindingsRemoved.Load()
}
