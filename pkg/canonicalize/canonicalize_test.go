package canonicalize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/data-agents/pkg/canonicalize"
)

func TestHashIgnoresKeyOrderAndWhitespace(t *testing.T) {
	a, err := canonicalize.Hash([]byte(`{"b": 1, "a": "x"}`))
	require.NoError(t, err)
	b, err := canonicalize.Hash([]byte("{\n  \"a\": \"x\",\n  \"b\": 1\n}"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashDistinguishesValues(t *testing.T) {
	a, err := canonicalize.Hash([]byte(`{"a": 1}`))
	require.NoError(t, err)
	b, err := canonicalize.Hash([]byte(`{"a": 2}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashAnyMatchesHash(t *testing.T) {
	a, err := canonicalize.HashAny(map[string]any{"k": "v", "n": 3})
	require.NoError(t, err)
	b, err := canonicalize.Hash([]byte(`{"n": 3, "k": "v"}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashRejectsInvalidJSON(t *testing.T) {
	_, err := canonicalize.Hash([]byte(`{"a":`))
	assert.Error(t, err)
}
