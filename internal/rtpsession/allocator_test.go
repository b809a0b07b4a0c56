// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package rtpsession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPortAllocatorOnlyHandsOutEvenPorts(t *testing.T) {
	a := NewLocalPortAllocator(10001, 10010)
	for i := 0; i < 4; i++ {
		port, err := a.Allocate()
		require.NoError(t, err)
		assert.Equal(t, 0, port%2, "port %d must be even", port)
	}
}

func TestLocalPortAllocatorReleaseAllowsReuse(t *testing.T) {
	a := NewLocalPortAllocator(10000, 10004)
	first, err := a.Allocate()
	require.NoError(t, err)
	second, err := a.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	a.Release(first)

	// Only the released port is free now; the next allocation must return it.
	p, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, first, p)
}

func TestLocalPortAllocatorExhaustion(t *testing.T) {
	a := NewLocalPortAllocator(20000, 20002)
	_, err := a.Allocate()
	require.NoError(t, err)
	// Range [20000, 20002) has exactly one even port; it's now in use.
	_, err = a.Allocate()
	assert.Error(t, err)
}
