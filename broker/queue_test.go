// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueConsumeFIFO(t *testing.T) {
	q := NewQueue("q1", Anycast)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(NewMessage("a", []byte(fmt.Sprintf("m-%d", i)), nil)))
	}
	assert.Equal(t, 3, q.Depth())

	for i := 0; i < 3; i++ {
		m, ok, err := q.Consume()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("m-%d", i), string(m.Payload))
	}

	_, ok, err := q.Consume()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, q.Depth())
}

func TestQueueMaxDepth(t *testing.T) {
	q := NewQueue("q1", Anycast, WithMaxDepth(2))

	require.NoError(t, q.Enqueue(NewMessage("a", nil, nil)))
	assert.False(t, q.Full())
	require.NoError(t, q.Enqueue(NewMessage("a", nil, nil)))
	assert.True(t, q.Full())

	assert.ErrorIs(t, q.Enqueue(NewMessage("a", nil, nil)), ErrQueueFull)
}

func TestQueuePurge(t *testing.T) {
	q := NewQueue("q1", Multicast)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(NewMessage("a", nil, nil)))
	}

	assert.Equal(t, 4, q.Purge())
	assert.Equal(t, 0, q.Depth())
	assert.Equal(t, 0, q.Purge())
}

func TestQueueConsumers(t *testing.T) {
	q := NewQueue("q1", Anycast)
	assert.Equal(t, 0, q.ConsumerCount())

	q.AddConsumer("c1")
	q.AddConsumer("c2")
	q.AddConsumer("c1") // idempotent
	assert.Equal(t, 2, q.ConsumerCount())

	q.RemoveConsumer("c1")
	assert.Equal(t, 1, q.ConsumerCount())
}

func TestQueueOptions(t *testing.T) {
	q := NewQueue("q1", Multicast, WithDurable())
	assert.Equal(t, "q1", q.Name())
	assert.Equal(t, Multicast, q.RoutingType())
	assert.True(t, q.Durable())
}
