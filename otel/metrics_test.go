// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()
	m.RecordRouted(ctx, "orders")
	m.RecordUnrouted(ctx, "orders")
	m.RecordDuplicate(ctx, "orders")
	m.RecordPagedWrite(ctx, "orders", 1024)
	m.RecordMessageSize(ctx, "orders", 896)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	// Every record method must be a no-op on a nil receiver so callers never
	// branch on whether metrics are enabled.
	m.RecordRouted(ctx, "orders")
	m.RecordUnrouted(ctx, "orders")
	m.RecordDuplicate(ctx, "orders")
	m.RecordPagedWrite(ctx, "orders", 1)
	m.RecordMessageSize(ctx, "orders", 1)
}
