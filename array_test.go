// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestArray(t *testing.T) *DynamicArray[uint64] {
	t.Helper()
	e, a := newTestAllocator(t)
	var anchor ArrayAnchor
	h := InMemoryAnchorHandle(&anchor, nil)
	return NewDynamicArray[uint64](e, a, h)
}

func TestDynamicArrayPushGetSet(t *testing.T) {
	arr := newTestArray(t)
	require.True(t, arr.Empty())

	for i := uint64(0); i < 500; i++ {
		require.NoError(t, arr.PushBack(i*3))
	}
	require.Equal(t, uint64(500), arr.Size())

	for i := uint64(0); i < 500; i++ {
		v, err := arr.Get(i)
		require.NoError(t, err)
		require.Equal(t, i*3, v)
	}

	require.NoError(t, arr.Set(10, 999))
	v, err := arr.Get(10)
	require.NoError(t, err)
	require.Equal(t, uint64(999), v)
}

func TestDynamicArrayPopBack(t *testing.T) {
	arr := newTestArray(t)
	require.NoError(t, arr.PushBack(1))
	require.NoError(t, arr.PushBack(2))
	require.NoError(t, arr.PopBack())
	require.Equal(t, uint64(1), arr.Size())

	require.NoError(t, arr.PopBack())
	require.Error(t, arr.PopBack())
}

func TestDynamicArrayGetOutOfBounds(t *testing.T) {
	arr := newTestArray(t)
	_, err := arr.Get(0)
	require.Error(t, err)
}

func TestDynamicArrayResizeGrowFillsAndShrinkTruncates(t *testing.T) {
	arr := newTestArray(t)
	require.NoError(t, arr.Resize(10, 7))
	require.Equal(t, uint64(10), arr.Size())
	for i := uint64(0); i < 10; i++ {
		v, err := arr.Get(i)
		require.NoError(t, err)
		require.Equal(t, uint64(7), v)
	}

	require.NoError(t, arr.Resize(3, 0))
	require.Equal(t, uint64(3), arr.Size())
}

func TestDynamicArrayLinearGrowth(t *testing.T) {
	arr := newTestArray(t)
	arr.Growth(LinearGrowth{ChunkBlocks: 2})
	require.NoError(t, arr.Reserve(1))
	require.Equal(t, uint64(2), arr.Blocks())
}

func TestDynamicArrayResetFreesStorage(t *testing.T) {
	arr := newTestArray(t)
	require.NoError(t, arr.PushBack(1))
	require.NoError(t, arr.Reset())
	require.True(t, arr.Empty())
	require.Equal(t, uint64(0), arr.Blocks())
}
