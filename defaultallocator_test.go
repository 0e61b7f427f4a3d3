// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultAllocatorAllocateFree(t *testing.T) {
	_, a := newTestAllocator(t)

	b1, err := a.Allocate(4)
	require.NoError(t, err)
	require.True(t, b1.Valid())

	b2, err := a.Allocate(4)
	require.NoError(t, err)
	require.NotEqual(t, b1, b2)

	require.NoError(t, a.Free(b1, 4))
	require.NoError(t, a.Validate())

	stats := a.Stats()
	require.Equal(t, stats.TotalBlocks, stats.UsedBlocks+stats.FreeBlocks+stats.MetaBlocks)
}

func TestDefaultAllocatorReusesFreedExtent(t *testing.T) {
	_, a := newTestAllocator(t)

	b1, err := a.Allocate(8)
	require.NoError(t, err)
	require.NoError(t, a.Free(b1, 8))

	b2, err := a.Allocate(8)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}

func TestDefaultAllocatorMergesAdjacentFreeExtents(t *testing.T) {
	_, a := newTestAllocator(t)

	b1, err := a.Allocate(4)
	require.NoError(t, err)
	b2, err := a.Allocate(4)
	require.NoError(t, err)
	require.Equal(t, b1.Add(4), b2)

	require.NoError(t, a.Free(b1, 4))
	require.NoError(t, a.Free(b2, 4))

	b3, err := a.Allocate(8)
	require.NoError(t, err)
	require.Equal(t, b1, b3)
}

func TestDefaultAllocatorReallocateGrowShrink(t *testing.T) {
	_, a := newTestAllocator(t)

	b, err := a.Allocate(4)
	require.NoError(t, err)

	grown, err := a.Reallocate(b, 4, 8)
	require.NoError(t, err)
	require.True(t, grown.Valid())

	shrunk, err := a.Reallocate(grown, 8, 2)
	require.NoError(t, err)
	require.Equal(t, grown, shrunk)
	require.NoError(t, a.Validate())
}

// TestDefaultAllocatorReallocateGrowIntoLeftNeighborPreservesData forces
// the left-neighbor-consuming branch of Reallocate (as opposed to the
// right-neighbor or allocate-fresh-and-copy branches) and verifies the
// preserved blocks' content actually moved down to the new start, not just
// that the returned block index and allocator stats look right.
func TestDefaultAllocatorReallocateGrowIntoLeftNeighborPreservesData(t *testing.T) {
	e, a := newTestAllocator(t)

	left, err := a.Allocate(4)
	require.NoError(t, err)
	b, err := a.Allocate(4)
	require.NoError(t, err)
	require.Equal(t, left.Add(4), b)
	// Blocks right after b must stay allocated so Reallocate cannot take
	// the right-neighbor-merge branch instead.
	_, err = a.Allocate(4)
	require.NoError(t, err)

	want := make([][]byte, 4)
	for i := int64(0); i < 4; i++ {
		data := make([]byte, allocBlockSize)
		for j := range data {
			data[j] = byte(i + 1)
		}
		want[i] = data
		wh, err := e.Overwrite(b.Add(i), data)
		require.NoError(t, err)
		wh.Release()
	}

	require.NoError(t, a.Free(left, 4))

	grown, err := a.Reallocate(b, 4, 6)
	require.NoError(t, err)
	require.Equal(t, b.Add(-2), grown)

	for i := int64(0); i < 4; i++ {
		rh, err := e.Read(grown.Add(i))
		require.NoError(t, err)
		require.Equal(t, want[i], append([]byte(nil), rh.Data()...))
		rh.Release()
	}
	require.NoError(t, a.Validate())
}

func TestDefaultAllocatorNoAllowGrowReturnsOutOfSpace(t *testing.T) {
	e := newAllocTestEngine(t)
	require.NoError(t, e.Grow(8))
	var anchor AllocatorAnchor
	a := NewDefaultAllocator(e, InMemoryAnchorHandle(&anchor, nil), false)
	require.NoError(t, a.AddRegion(BlockIndex(0), 8))

	_, err := a.Allocate(4)
	require.NoError(t, err)
	_, err = a.Allocate(100)
	require.Error(t, err)
}
