// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

// Package otel holds the OpenTelemetry metric instruments for the address
// layer. All record methods are safe on a nil *Metrics so callers need no
// metrics-enabled checks.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the routing and paging instruments.
type Metrics struct {
	meter metric.Meter

	// Counters
	messagesRouted    metric.Int64Counter
	messagesUnrouted  metric.Int64Counter
	messagesDuplicate metric.Int64Counter
	pagedWrites       metric.Int64Counter
	pagedBytes        metric.Int64Counter

	// Histograms
	messageSize metric.Int64Histogram
}

// NewMetrics creates a Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("flaremq-address-layer"),
	}

	var err error

	m.messagesRouted, err = m.meter.Int64Counter(
		"flaremq.messages.routed.total",
		metric.WithDescription("Messages accepted by at least one binding"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesRouted counter: %w", err)
	}

	m.messagesUnrouted, err = m.meter.Int64Counter(
		"flaremq.messages.unrouted.total",
		metric.WithDescription("Messages with zero matching bindings at dispatch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesUnrouted counter: %w", err)
	}

	m.messagesDuplicate, err = m.meter.Int64Counter(
		"flaremq.messages.duplicate.total",
		metric.WithDescription("Messages suppressed by duplicate detection"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesDuplicate counter: %w", err)
	}

	m.pagedWrites, err = m.meter.Int64Counter(
		"flaremq.paging.writes.total",
		metric.WithDescription("Records written to page files"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pagedWrites counter: %w", err)
	}

	m.pagedBytes, err = m.meter.Int64Counter(
		"flaremq.paging.bytes.total",
		metric.WithDescription("Bytes written to page files"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pagedBytes counter: %w", err)
	}

	m.messageSize, err = m.meter.Int64Histogram(
		"flaremq.message.size.bytes",
		metric.WithDescription("Routed message payload sizes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageSize histogram: %w", err)
	}

	return m, nil
}

func addressAttr(address string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("address", address))
}

// RecordRouted records a routed message.
func (m *Metrics) RecordRouted(ctx context.Context, address string) {
	if m == nil {
		return
	}
	m.messagesRouted.Add(ctx, 1, addressAttr(address))
}

// RecordUnrouted records an unrouted message.
func (m *Metrics) RecordUnrouted(ctx context.Context, address string) {
	if m == nil {
		return
	}
	m.messagesUnrouted.Add(ctx, 1, addressAttr(address))
}

// RecordDuplicate records a suppressed duplicate.
func (m *Metrics) RecordDuplicate(ctx context.Context, address string) {
	if m == nil {
		return
	}
	m.messagesDuplicate.Add(ctx, 1, addressAttr(address))
}

// RecordPagedWrite records one page-store write of the given size.
func (m *Metrics) RecordPagedWrite(ctx context.Context, address string, bytes int) {
	if m == nil {
		return
	}
	m.pagedWrites.Add(ctx, 1, addressAttr(address))
	m.pagedBytes.Add(ctx, int64(bytes), addressAttr(address))
}

// RecordMessageSize records a routed message's payload size.
func (m *Metrics) RecordMessageSize(ctx context.Context, address string, bytes int) {
	if m == nil {
		return
	}
	m.messageSize.Record(ctx, int64(bytes), addressAttr(address))
}
