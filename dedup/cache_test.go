// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheInsertAndCheck(t *testing.T) {
	c, err := NewCache(10, nil)
	require.NoError(t, err)

	assert.False(t, c.Check("a"))
	require.NoError(t, c.Insert("a"))
	assert.True(t, c.Check("a"))
	assert.Equal(t, 1, c.Size())
}

func TestCacheDefaultCapacity(t *testing.T) {
	c, err := NewCache(0, nil)
	require.NoError(t, err)

	for i := 0; i < DefaultCacheSize+5; i++ {
		require.NoError(t, c.Insert(fmt.Sprintf("id-%d", i)))
	}
	assert.Equal(t, DefaultCacheSize, c.Size())
}

func TestCacheEvictsOldestFirst(t *testing.T) {
	c, err := NewCache(3, nil)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.Insert(id))
	}
	assert.Equal(t, 3, c.Size())

	// Fourth insert evicts "a", the oldest.
	require.NoError(t, c.Insert("d"))
	assert.Equal(t, 3, c.Size())
	assert.False(t, c.Check("a"))
	assert.True(t, c.Check("b"))
	assert.True(t, c.Check("c"))
	assert.True(t, c.Check("d"))

	// Fifth evicts "b".
	require.NoError(t, c.Insert("e"))
	assert.False(t, c.Check("b"))
	assert.True(t, c.Check("c"))
}

func TestCacheAddIfAbsent(t *testing.T) {
	c, err := NewCache(10, nil)
	require.NoError(t, err)

	seen, err := c.AddIfAbsent("a")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = c.AddIfAbsent("a")
	require.NoError(t, err)
	assert.True(t, seen)

	assert.Equal(t, 1, c.Size())
}

func TestCacheClear(t *testing.T) {
	c, err := NewCache(10, nil)
	require.NoError(t, err)

	require.NoError(t, c.Insert("a"))
	require.NoError(t, c.Insert("b"))
	require.NoError(t, c.Clear())

	assert.Equal(t, 0, c.Size())
	assert.False(t, c.Check("a"))

	// Previously seen IDs are new again after a clear.
	seen, err := c.AddIfAbsent("a")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestCacheEvictionContinuesAfterWrap(t *testing.T) {
	c, err := NewCache(2, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Insert(fmt.Sprintf("id-%d", i)))
	}
	assert.Equal(t, 2, c.Size())
	assert.True(t, c.Check("id-8"))
	assert.True(t, c.Check("id-9"))
	assert.False(t, c.Check("id-7"))
}
