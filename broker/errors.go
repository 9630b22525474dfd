// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"

	"github.com/flaremq/flaremq/filter"
	"github.com/flaremq/flaremq/paging"
)

// Common errors.
var (
	// ErrNotFound reports an unknown address or binding.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateBinding reports a binding name collision on an address.
	ErrDuplicateBinding = errors.New("binding already exists")

	// ErrQueueFull reports that a queue's in-memory depth limit is reached.
	// The routing engine treats it as recoverable and falls back to paging.
	ErrQueueFull = errors.New("queue is full")

	// ErrCapacityExceeded reports that the paging store cannot open a new
	// page. Fatal for the address's paging until operator intervention;
	// surfaced so callers can apply producer backpressure.
	ErrCapacityExceeded = paging.ErrCapacityExceeded

	// ErrFilterInvalid reports a malformed binding filter expression.
	ErrFilterInvalid = filter.ErrInvalid
)
