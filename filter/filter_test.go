// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileEmptyMatchesEverything(t *testing.T) {
	for _, expr := range []string{"", "   ", "\n\t"} {
		f, err := Compile(expr)
		require.NoError(t, err)

		ok, err := f.Matches("orders", nil, []byte("anything"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, f.String())
	}
}

func TestNilFilterMatchesEverything(t *testing.T) {
	var f *Filter
	ok, err := f.Matches("orders", nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompileInvalid(t *testing.T) {
	for _, expr := range []string{
		"headers[",
		"1 +",
		"unknown_var == 1",
	} {
		_, err := Compile(expr)
		require.Error(t, err, "expression %q", expr)
		assert.True(t, errors.Is(err, ErrInvalid))
	}
}

func TestMatchesHeaders(t *testing.T) {
	f, err := Compile(`"type" in headers && headers["type"] == "order"`)
	require.NoError(t, err)

	ok, err := f.Matches("a", map[string]string{"type": "order"}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Matches("a", map[string]string{"type": "refund"}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// No headers at all still evaluates cleanly.
	ok, err = f.Matches("a", nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchesAddressAndSize(t *testing.T) {
	f, err := Compile(`address.startsWith("orders/") && size > 2`)
	require.NoError(t, err)

	ok, err := f.Matches("orders/eu", nil, []byte("abc"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Matches("invoices/eu", nil, []byte("abc"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.Matches("orders/eu", nil, []byte("ab"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchesJSONPayload(t *testing.T) {
	f, err := Compile(`json.kind == "order"`)
	require.NoError(t, err)

	ok, err := f.Matches("a", nil, []byte(`{"kind":"order","total":12}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Matches("a", nil, []byte(`{"kind":"refund"}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchesText(t *testing.T) {
	f, err := Compile(`text.contains("urgent")`)
	require.NoError(t, err)

	ok, err := f.Matches("a", nil, []byte("this is urgent"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Matches("a", nil, []byte("routine"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluationErrorSurfaced(t *testing.T) {
	// Indexing a missing key fails at evaluation time; callers decide what
	// to do with the binding, so the error must come back, not a silent false.
	f, err := Compile(`headers["absent"] == "v"`)
	require.NoError(t, err)

	_, err = f.Matches("a", map[string]string{}, nil)
	assert.Error(t, err)
}

func TestNonBoolResultIsError(t *testing.T) {
	f, err := Compile(`size`)
	require.NoError(t, err)

	_, err = f.Matches("a", nil, []byte("abc"))
	assert.Error(t, err)
}
