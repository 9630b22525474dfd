// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync"

	"github.com/flaremq/flaremq/paging"
)

// Queue is a local message container. Messages arrive either directly in
// memory or, while the owning address pages, through the queue's own cursor
// over the address's page sequence.
type Queue struct {
	mu sync.Mutex

	name        string
	routingType RoutingType
	durable     bool
	maxDepth    int // 0 = unlimited

	messages []*Message
	cursor   *paging.Cursor

	consumers map[string]struct{}

	// onRelease runs when a queue drops its reference to a message; the
	// broker uses it to return the message's bytes to the address size.
	onRelease func(*Message)
}

// QueueOption configures a queue at creation.
type QueueOption func(*Queue)

// WithMaxDepth bounds the queue's in-memory depth. Exceeding it while the
// address is not paging forces the address into paging mode instead of
// failing the route.
func WithMaxDepth(n int) QueueOption {
	return func(q *Queue) { q.maxDepth = n }
}

// WithDurable marks the queue durable.
func WithDurable() QueueOption {
	return func(q *Queue) { q.durable = true }
}

// NewQueue creates an empty queue.
func NewQueue(name string, rt RoutingType, opts ...QueueOption) *Queue {
	q := &Queue{
		name:        name,
		routingType: rt,
		consumers:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// RoutingType returns the routing semantics the queue participates in.
func (q *Queue) RoutingType() RoutingType { return q.routingType }

// Durable reports whether the queue is durable.
func (q *Queue) Durable() bool { return q.durable }

// AddConsumer registers a consumer by ID.
func (q *Queue) AddConsumer(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consumers[id] = struct{}{}
}

// RemoveConsumer deregisters a consumer.
func (q *Queue) RemoveConsumer(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.consumers, id)
}

// ConsumerCount returns the number of registered consumers.
func (q *Queue) ConsumerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.consumers)
}

// Full reports whether the queue's in-memory depth limit is reached.
func (q *Queue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxDepth > 0 && len(q.messages) >= q.maxDepth
}

// Enqueue appends a message to the in-memory tail.
func (q *Queue) Enqueue(m *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxDepth > 0 && len(q.messages) >= q.maxDepth {
		return ErrQueueFull
	}
	q.messages = append(q.messages, m)
	return nil
}

// attachCursor gives the queue its read cursor into the address's page
// sequence. Idempotent.
func (q *Queue) attachCursor(c *paging.Cursor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cursor == nil {
		q.cursor = c
	}
}

// Consume removes and returns the queue's head message. In-memory messages
// drain first; paged messages become visible as the queue's cursor reads
// them back off the page sequence.
func (q *Queue) Consume() (*Message, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) > 0 {
		m := q.messages[0]
		q.messages = q.messages[1:]
		if q.onRelease != nil {
			q.onRelease(m)
		}
		return m, true, nil
	}

	if q.cursor == nil {
		return nil, false, nil
	}

	data, ok, err := q.cursor.Next()
	if err != nil || !ok {
		return nil, false, err
	}
	m, err := decodeMessage(data)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Depth returns the number of messages visible to the queue: in-memory plus
// paged records its cursor has not read yet.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := len(q.messages)
	if q.cursor != nil {
		depth += q.cursor.Remaining()
	}
	return depth
}

// Purge removes every message visible to the queue and returns how many
// were removed. All-or-nothing for this queue.
func (q *Queue) Purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := len(q.messages)
	for _, m := range q.messages {
		if q.onRelease != nil {
			q.onRelease(m)
		}
	}
	q.messages = nil

	if q.cursor != nil {
		removed += q.cursor.SkipAll()
	}
	return removed
}

// dropAll discards in-memory messages without counting them, releasing their
// size contribution. Used when the queue's binding is removed.
func (q *Queue) dropAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.messages {
		if q.onRelease != nil {
			q.onRelease(m)
		}
	}
	q.messages = nil
}
