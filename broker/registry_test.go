// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateBindingRejected(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.CreateQueue("orders", "q1", Anycast, "")
	require.NoError(t, err)

	_, err = b.CreateQueue("orders", "q1", Anycast, "")
	assert.ErrorIs(t, err, ErrDuplicateBinding)
}

func TestRemoveBindingUnknown(t *testing.T) {
	b := newTestBroker(t)

	assert.ErrorIs(t, b.RemoveBinding("nowhere", "q1"), ErrNotFound)

	_, err := b.CreateQueue("orders", "q1", Anycast, "")
	require.NoError(t, err)
	assert.ErrorIs(t, b.RemoveBinding("orders", "other"), ErrNotFound)
}

func TestCreateQueueInvalidFilter(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.CreateQueue("orders", "q1", Anycast, "headers[")
	assert.ErrorIs(t, err, ErrFilterInvalid)

	// The failed create must not leave a half-registered binding behind.
	assert.False(t, b.AddressExists("orders"))
}

func TestCreateDivertInvalidFilter(t *testing.T) {
	b := newTestBroker(t)
	assert.ErrorIs(t, b.CreateDivert("d1", "src", "dst", false, "1 +"), ErrFilterInvalid)
}

func TestBindingAndQueueNameScoping(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.CreateQueue("orders", "local-q", Multicast, "")
	require.NoError(t, err)
	_, err = b.AddRemoteBinding("orders", "remote-q", "node-2", Multicast, "", LoadBalancingRoundRobin)
	require.NoError(t, err)
	require.NoError(t, b.CreateDivert("divert-1", "orders", "audit", false, ""))

	all, err := b.BindingNames("orders", ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, []string{"local-q", "remote-q", "divert-1"}, all)

	local, err := b.QueueNames("orders", ScopeLocal)
	require.NoError(t, err)
	assert.Equal(t, []string{"local-q"}, local)

	remote, err := b.QueueNames("orders", ScopeRemote)
	require.NoError(t, err)
	assert.Equal(t, []string{"remote-q"}, remote)

	// Diverts are bindings but never queues.
	queues, err := b.QueueNames("orders", ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, []string{"local-q", "remote-q"}, queues)

	_, err = b.QueueNames("nowhere", ScopeAll)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocateQueue(t *testing.T) {
	b := newTestBroker(t)

	created, err := b.CreateQueue("orders", "q1", Anycast, "")
	require.NoError(t, err)

	located, err := b.LocateQueue("orders", "q1")
	require.NoError(t, err)
	assert.Same(t, created, located)

	_, err = b.LocateQueue("orders", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = b.LocateQueue("nowhere", "q1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueueRoutingTypeRegistersOnAddress(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.CreateQueue("orders", "q1", Anycast, "")
	require.NoError(t, err)
	_, err = b.CreateQueue("orders", "q2", Multicast, "")
	require.NoError(t, err)

	types, err := b.RoutingTypes("orders")
	require.NoError(t, err)
	assert.Equal(t, []RoutingType{Anycast, Multicast}, types)
}

func TestDivertDoesNotRegisterRoutingType(t *testing.T) {
	b := newTestBroker(t)

	require.NoError(t, b.CreateDivert("d1", "src", "dst", false, ""))

	types, err := b.RoutingTypes("src")
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestAddressStateDiscardedOnRemoval(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.CreateQueue("orders", "q1", Anycast, "")
	require.NoError(t, err)

	outcome := mustRoute(t, b, "orders", []byte("m"), map[string]string{HeaderDedupID: "dup-1"})
	assert.Equal(t, OutcomeRouted, outcome.Kind)

	size, err := b.CurrentDuplicateIDCacheSize("orders")
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	// Removing the last binding removes the address and all its state.
	require.NoError(t, b.RemoveBinding("orders", "q1"))
	require.False(t, b.AddressExists("orders"))

	// A recreated address starts fresh: the old dedup ID routes again.
	_, err = b.CreateQueue("orders", "q1", Anycast, "")
	require.NoError(t, err)

	size, err = b.CurrentDuplicateIDCacheSize("orders")
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	outcome = mustRoute(t, b, "orders", []byte("m"), map[string]string{HeaderDedupID: "dup-1"})
	assert.Equal(t, OutcomeRouted, outcome.Kind)
}

func TestRemoveBindingDropsQueuedMessages(t *testing.T) {
	b := newTestBroker(t)

	require.NoError(t, b.CreateAddress("orders", Anycast))
	_, err := b.CreateQueue("orders", "q1", Anycast, "")
	require.NoError(t, err)
	mustRoute(t, b, "orders", []byte("m"), nil)

	require.NoError(t, b.RemoveBinding("orders", "q1"))

	// The pinned address survives with zero messages.
	count, err := b.MessageCount("orders")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	size, err := b.AddressSize("orders")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestBindingChurnStats(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.CreateQueue("orders", "q1", Anycast, "")
	require.NoError(t, err)
	_, err = b.CreateQueue("orders", "q2", Anycast, "")
	require.NoError(t, err)
	require.NoError(t, b.RemoveBinding("orders", "q1"))

	assert.Equal(t, uint64(2), b.Stats().GetBindingsAdded())
	assert.Equal(t, uint64(1), b.Stats().GetBindingsRemoved())
}
