// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBulkLoaderBuildsValidSortedTree(t *testing.T) {
	tree := newTestBTree(t)
	loader, err := NewBulkLoader[kvEntry, uint64](tree)
	require.NoError(t, err)

	const n = 1000
	for k := 0; k < n; k++ {
		require.NoError(t, loader.Insert(kvEntry{Key: uint64(k), Value: uint64(k)}))
	}
	require.NoError(t, loader.Finish())
	require.NoError(t, tree.Validate())
	require.Equal(t, uint64(n), tree.Size())

	c, err := tree.MoveMin()
	require.NoError(t, err)
	count := 0
	for c.Valid() {
		v, err := c.Get()
		require.NoError(t, err)
		require.Equal(t, uint64(count), v.Key)
		count++
		require.NoError(t, c.MoveNext())
	}
	require.Equal(t, n, count)
}

func TestBulkLoaderDiscard(t *testing.T) {
	tree := newTestBTree(t)
	loader, err := NewBulkLoader[kvEntry, uint64](tree)
	require.NoError(t, err)

	for k := 0; k < 50; k++ {
		require.NoError(t, loader.Insert(kvEntry{Key: uint64(k), Value: uint64(k)}))
	}
	require.NoError(t, loader.Discard())
	require.Equal(t, uint64(0), tree.Size())
}
