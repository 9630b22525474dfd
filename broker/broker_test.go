// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flaremq/flaremq/config"
)

func newTestBroker(t *testing.T, mutate ...func(*config.Config)) *Broker {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Paging.Dir = t.TempDir()
	cfg.Dedup.Dir = t.TempDir()
	for _, m := range mutate {
		m(cfg)
	}

	b, err := New(cfg, discardLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustRoute(t *testing.T, b *Broker, address string, payload []byte, headers map[string]string) RouteOutcome {
	t.Helper()
	outcome, err := b.Route(context.Background(), NewMessage(address, payload, headers))
	require.NoError(t, err)
	return outcome
}

func TestManagementAddressAlwaysExists(t *testing.T) {
	b := newTestBroker(t)

	assert.True(t, b.AddressExists(ManagementAddress))
	assert.Contains(t, b.ListAddresses(), ManagementAddress)

	types, err := b.RoutingTypes(ManagementAddress)
	require.NoError(t, err)
	assert.Equal(t, []RoutingType{Multicast}, types)
}

func TestCreateAddressPersistsWithoutBindings(t *testing.T) {
	b := newTestBroker(t)

	require.NoError(t, b.CreateAddress("orders", Anycast))
	assert.True(t, b.AddressExists("orders"))

	_, err := b.CreateQueue("orders", "orders-q", Anycast, "")
	require.NoError(t, err)
	require.NoError(t, b.RemoveBinding("orders", "orders-q"))

	// Explicitly created addresses survive the removal of their last binding.
	assert.True(t, b.AddressExists("orders"))
}

func TestAutoCreatedAddressRemovedWithLastBinding(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.CreateQueue("transient", "q1", Anycast, "")
	require.NoError(t, err)
	assert.True(t, b.AddressExists("transient"))

	require.NoError(t, b.RemoveBinding("transient", "q1"))
	assert.False(t, b.AddressExists("transient"))
	assert.NotContains(t, b.ListAddresses(), "transient")
}

func TestCreateAddressEmptyName(t *testing.T) {
	b := newTestBroker(t)
	assert.Error(t, b.CreateAddress(""))
}

func TestListAddressesSorted(t *testing.T) {
	b := newTestBroker(t)

	require.NoError(t, b.CreateAddress("zebra"))
	require.NoError(t, b.CreateAddress("alpha"))
	require.NoError(t, b.CreateAddress("mango"))

	assert.Equal(t,
		[]string{"$sys/management", "alpha", "mango", "zebra"},
		b.ListAddresses())
}

func TestRetroactiveResourceNaming(t *testing.T) {
	b := newTestBroker(t)

	name := RetroactiveAddressName("orders")
	assert.Equal(t, "$sys/retro/orders", name)
	assert.True(t, b.IsRetroactiveResource(name))
	assert.False(t, b.IsRetroactiveResource("orders"))
	assert.False(t, b.IsRetroactiveResource(ManagementAddress))
}

func TestRestartRecoversPagingAddress(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paging.Dir = t.TempDir()
	cfg.Dedup.Dir = t.TempDir()
	cfg.Paging.Compression = false
	cfg.Addresses = []config.AddressSettings{
		{Match: "orders", MaxSizeBytes: 1024, PageSizeBytes: 4096},
	}

	b1, err := New(cfg, discardLogger(), nil)
	require.NoError(t, err)

	_, err = b1.CreateQueue("orders", "orders-q", Anycast, "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		mustRoute(t, b1, "orders", make([]byte, 600), nil)
	}
	pages, err := b1.NumberOfPages("orders")
	require.NoError(t, err)
	require.Greater(t, pages, 0)
	require.NoError(t, b1.Close())

	// A fresh broker over the same directories knows the address and its
	// pages again.
	b2, err := New(cfg, discardLogger(), nil)
	require.NoError(t, err)
	defer b2.Close()

	assert.True(t, b2.AddressExists("orders"))
	recovered, err := b2.NumberOfPages("orders")
	require.NoError(t, err)
	assert.Equal(t, pages, recovered)
}
