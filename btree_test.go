// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

type kvEntry struct {
	Key   uint64
	Value uint64
}

func newTestBTree(t *testing.T) *BTree[kvEntry, uint64] {
	t.Helper()
	e, a := newTestAllocator(t)
	_ = e
	var anchor TreeAnchor
	h := InMemoryAnchorHandle(&anchor, nil)
	return NewBTree[kvEntry, uint64](e, a, h, func(v kvEntry) uint64 { return v.Key }, func(a, b uint64) bool { return a < b })
}

func TestBTreeInsertFindOrdered(t *testing.T) {
	tree := newTestBTree(t)
	const n = 500
	perm := rand.New(rand.NewSource(1)).Perm(n)
	for _, k := range perm {
		_, inserted, err := tree.Insert(kvEntry{Key: uint64(k), Value: uint64(k) * 2})
		require.NoError(t, err)
		require.True(t, inserted)
	}
	require.Equal(t, uint64(n), tree.Size())
	require.NoError(t, tree.Validate())

	for k := 0; k < n; k++ {
		c, err := tree.Find(uint64(k))
		require.NoError(t, err)
		require.True(t, c.Valid())
		v, err := c.Get()
		require.NoError(t, err)
		require.Equal(t, uint64(k)*2, v.Value)
	}

	c, err := tree.Find(uint64(n + 1))
	require.NoError(t, err)
	require.False(t, c.Valid())
}

func TestBTreeInsertDuplicateRejected(t *testing.T) {
	tree := newTestBTree(t)
	_, ok, err := tree.Insert(kvEntry{Key: 1, Value: 1})
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = tree.Insert(kvEntry{Key: 1, Value: 2})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, uint64(1), tree.Size())
}

func TestBTreeEraseAll(t *testing.T) {
	tree := newTestBTree(t)
	const n = 300
	for k := 0; k < n; k++ {
		_, _, err := tree.Insert(kvEntry{Key: uint64(k), Value: uint64(k)})
		require.NoError(t, err)
	}

	order := rand.New(rand.NewSource(2)).Perm(n)
	for _, k := range order {
		c, err := tree.Find(uint64(k))
		require.NoError(t, err)
		require.True(t, c.Valid())
		require.NoError(t, tree.Erase(c))
		require.NoError(t, tree.Validate())
	}
	require.Equal(t, uint64(0), tree.Size())
	require.Equal(t, uint32(0), tree.Height())
}

func TestBTreeCursorRangeTraversal(t *testing.T) {
	tree := newTestBTree(t)
	const n = 100
	for k := 0; k < n; k++ {
		_, _, err := tree.Insert(kvEntry{Key: uint64(k), Value: uint64(k)})
		require.NoError(t, err)
	}

	c, err := tree.MoveMin()
	require.NoError(t, err)
	count := 0
	var prev uint64
	for c.Valid() {
		v, err := c.Get()
		require.NoError(t, err)
		if count > 0 {
			require.Less(t, prev, v.Key)
		}
		prev = v.Key
		count++
		require.NoError(t, c.MoveNext())
	}
	require.Equal(t, n, count)
}

func TestBTreeLowerBound(t *testing.T) {
	tree := newTestBTree(t)
	for _, k := range []uint64{10, 20, 30, 40} {
		_, _, err := tree.Insert(kvEntry{Key: k, Value: k})
		require.NoError(t, err)
	}

	c, err := tree.LowerBound(25)
	require.NoError(t, err)
	require.True(t, c.Valid())
	v, err := c.Get()
	require.NoError(t, err)
	require.Equal(t, uint64(30), v.Key)
}

func TestBTreeCursorSurvivesStructuralChange(t *testing.T) {
	tree := newTestBTree(t)
	for k := 0; k < 200; k++ {
		_, _, err := tree.Insert(kvEntry{Key: uint64(k), Value: uint64(k)})
		require.NoError(t, err)
	}

	c, err := tree.Find(uint64(100))
	require.NoError(t, err)
	require.True(t, c.Valid())

	for k := 200; k < 1000; k++ {
		_, _, err := tree.Insert(kvEntry{Key: uint64(k), Value: uint64(k)})
		require.NoError(t, err)
	}

	v, err := c.Get()
	require.NoError(t, err)
	require.Equal(t, uint64(100), v.Key)
}

// TestBTreeCursorObservesEraseThroughAnotherCursor guards against a
// second cursor's Erase of the value a first cursor points to silently
// handing the first cursor an unrelated, larger-keyed value instead of
// reporting that its value is gone.
func TestBTreeCursorObservesEraseThroughAnotherCursor(t *testing.T) {
	tree := newTestBTree(t)
	for _, k := range []uint64{10, 20, 30} {
		_, _, err := tree.Insert(kvEntry{Key: k, Value: k})
		require.NoError(t, err)
	}

	c1, err := tree.Find(uint64(20))
	require.NoError(t, err)
	require.True(t, c1.Valid())

	c2, err := tree.Find(uint64(20))
	require.NoError(t, err)
	require.NoError(t, tree.Erase(c2))

	_, err = c1.Get()
	require.Error(t, err)

	// Set must likewise refuse once the underlying value is gone.
	require.Error(t, c1.Set(kvEntry{Key: 20, Value: 99}))
}

// TestBTreeCursorMoveNextAfterEraseThroughAnotherCursor checks that
// MoveNext on a cursor whose value was erased by a different cursor
// still lands on the correct former successor, matching the documented
// deleted-cursor navigation contract.
func TestBTreeCursorMoveNextAfterEraseThroughAnotherCursor(t *testing.T) {
	tree := newTestBTree(t)
	for _, k := range []uint64{10, 20, 30} {
		_, _, err := tree.Insert(kvEntry{Key: k, Value: k})
		require.NoError(t, err)
	}

	c1, err := tree.Find(uint64(20))
	require.NoError(t, err)

	c2, err := tree.Find(uint64(20))
	require.NoError(t, err)
	require.NoError(t, tree.Erase(c2))

	require.NoError(t, c1.MoveNext())
	require.True(t, c1.Valid())
	v, err := c1.Get()
	require.NoError(t, err)
	require.Equal(t, uint64(30), v.Key)
}
