// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type htEntry struct {
	Key   uint64
	Value uint64
}

func fnv1a(k uint64) uint64 {
	h := uint64(14695981039346656037)
	for i := 0; i < 8; i++ {
		h ^= (k >> (8 * i)) & 0xff
		h *= 1099511628211
	}
	return h
}

func newTestHashTable(t *testing.T) *HashTable[htEntry, uint64] {
	t.Helper()
	e, a := newTestAllocator(t)
	var anchor HashTableAnchor
	h := InMemoryAnchorHandle(&anchor, nil)
	return NewHashTable[htEntry, uint64](e, a, h, func(v htEntry) uint64 { return v.Key }, fnv1a)
}

func TestHashTableInsertFind(t *testing.T) {
	ht := newTestHashTable(t)
	const n = 500
	for i := uint64(0); i < n; i++ {
		ok, err := ht.Insert(htEntry{Key: i, Value: i * 7})
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, uint64(n), ht.Size())

	for i := uint64(0); i < n; i++ {
		v, ok, err := ht.Find(i)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, i*7, v.Value)
	}

	_, ok, err := ht.Find(n + 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashTableInsertDuplicateRejected(t *testing.T) {
	ht := newTestHashTable(t)
	ok, err := ht.Insert(htEntry{Key: 1, Value: 1})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ht.Insert(htEntry{Key: 1, Value: 2})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, uint64(1), ht.Size())
}

func TestHashTableInsertOrUpdate(t *testing.T) {
	ht := newTestHashTable(t)
	overwrote, err := ht.InsertOrUpdate(htEntry{Key: 1, Value: 1})
	require.NoError(t, err)
	require.False(t, overwrote)

	overwrote, err = ht.InsertOrUpdate(htEntry{Key: 1, Value: 2})
	require.NoError(t, err)
	require.True(t, overwrote)

	v, ok, err := ht.Find(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), v.Value)
}

func TestHashTableErase(t *testing.T) {
	ht := newTestHashTable(t)
	_, err := ht.Insert(htEntry{Key: 1, Value: 1})
	require.NoError(t, err)

	erased, err := ht.Erase(1)
	require.NoError(t, err)
	require.True(t, erased)

	_, ok, err := ht.Find(1)
	require.NoError(t, err)
	require.False(t, ok)

	erased, err = ht.Erase(1)
	require.NoError(t, err)
	require.False(t, erased)
}

func TestHashTableGrowsAndStaysConsistent(t *testing.T) {
	ht := newTestHashTable(t)
	const n = 2000
	for i := uint64(0); i < n; i++ {
		_, err := ht.Insert(htEntry{Key: i, Value: i})
		require.NoError(t, err)
	}
	require.Greater(t, ht.BucketCount(), uint64(1))

	seen := 0
	require.NoError(t, ht.Each(func(v htEntry) error {
		seen++
		return nil
	}))
	require.Equal(t, n, seen)
}

func TestHashTableClear(t *testing.T) {
	ht := newTestHashTable(t)
	for i := uint64(0); i < 10; i++ {
		_, err := ht.Insert(htEntry{Key: i, Value: i})
		require.NoError(t, err)
	}
	require.NoError(t, ht.Clear())
	require.Equal(t, uint64(0), ht.Size())
}
