// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Hash table, grounded on the original design's
// include/prequel/raw_hash_table.hpp, but simplified from that design's
// incremental linear hashing (primary_buckets/step/level, growing one
// bucket at a time to spread out rehash cost) to a plain separate-chaining
// table that doubles its bucket count outright once the load factor gets
// too high (see DESIGN.md). Each bucket is a List of its own, and the
// buckets themselves live in a DynamicArray, so the table is built
// entirely out of the other containers in this package rather than out of
// raw blocks.
package prequel

const hashTableMaxLoadFactor = 2.0

// HashTableAnchor is the persistent root of a HashTable.
type HashTableAnchor struct {
	Size    uint64
	Buckets ArrayAnchor
}

const fieldHashTableBuckets = 1

// HashTable is an unordered association of values of type V keyed by K,
// implemented as a separate-chaining hash table. Unlike BTree, a HashTable
// has no ordering guarantees and no cursor-based range traversal; callers
// that need either should use a BTree instead.
type HashTable[V any, K comparable] struct {
	engine Engine
	alloc  Allocator

	buckets *DynamicArray[ListAnchor]

	keyOf func(V) K
	hash  func(K) uint64
}

// NewHashTable builds an accessor for a hash table rooted at anchor.
// keyOf projects a value's key; hash computes a key's hash (equal keys
// must hash equally; Go's comparable constraint on K supplies equality).
func NewHashTable[V any, K comparable](engine Engine, alloc Allocator, anchor AnchorHandle[HashTableAnchor], keyOf func(V) K, hash func(K) uint64) *HashTable[V, K] {
	bucketsAnchor := AnchorMember[HashTableAnchor, ArrayAnchor](anchor, fieldHashTableBuckets)
	return &HashTable[V, K]{
		engine:  engine,
		alloc:   alloc,
		buckets: NewDynamicArray[ListAnchor](engine, alloc, bucketsAnchor),
		keyOf:   keyOf,
		hash:    hash,
	}
}

// Empty reports whether the table holds zero values.
func (t *HashTable[V, K]) Empty() bool { return t.Size() == 0 }

// Size returns the number of values in the table.
func (t *HashTable[V, K]) Size() uint64 { return t.size() }

func (t *HashTable[V, K]) size() uint64 {
	total := uint64(0)
	n := t.buckets.Size()
	for i := uint64(0); i < n; i++ {
		a, err := t.buckets.Get(i)
		if err != nil {
			return total
		}
		total += a.Size
	}
	return total
}

// BucketCount returns the number of buckets currently allocated.
func (t *HashTable[V, K]) BucketCount() uint64 { return t.buckets.Size() }

// ByteSize returns the total size of the table's storage, in bytes.
func (t *HashTable[V, K]) ByteSize() uint64 {
	total := t.buckets.ByteSize()
	n := t.buckets.Size()
	for i := uint64(0); i < n; i++ {
		a, _ := t.buckets.Get(i)
		total += a.Nodes * uint64(t.engine.BlockSize())
	}
	return total
}

// FillFactor returns the table's average bucket occupancy.
func (t *HashTable[V, K]) FillFactor() float64 {
	n := t.buckets.Size()
	if n == 0 {
		return 0
	}
	return float64(t.size()) / float64(n)
}

func (t *HashTable[V, K]) bucketAnchorHandle(index uint64) AnchorHandle[ListAnchor] {
	return NewAnchorHandle(
		func() ListAnchor {
			v, err := t.buckets.Get(index)
			if err != nil {
				return ListAnchor{}
			}
			return v
		},
		func(v ListAnchor) {
			// Set only fails on an out-of-bounds index, which cannot
			// happen here: callers always derive index from BucketCount.
			_ = t.buckets.Set(index, v)
		},
		nil,
	)
}

func (t *HashTable[V, K]) bucketFor(key K, bucketCount uint64) uint64 {
	if bucketCount == 0 {
		return 0
	}
	return t.hash(key) & (bucketCount - 1)
}

func (t *HashTable[V, K]) bucketList(index uint64) *List[V] {
	return NewList[V](t.engine, t.alloc, t.bucketAnchorHandle(index))
}

// Contains reports whether the table holds a value with the given key.
func (t *HashTable[V, K]) Contains(key K) (bool, error) {
	_, ok, err := t.Find(key)
	return ok, err
}

// Find returns the value associated with key, if any.
func (t *HashTable[V, K]) Find(key K) (V, bool, error) {
	var zero V
	n := t.buckets.Size()
	if n == 0 {
		return zero, false, nil
	}
	list := t.bucketList(t.bucketFor(key, n))
	c := list.MoveFirst()
	for c.Valid() {
		v, err := c.Get()
		if err != nil {
			return zero, false, err
		}
		if t.keyOf(v) == key {
			return v, true, nil
		}
		if err := c.MoveNext(); err != nil {
			return zero, false, err
		}
	}
	return zero, false, nil
}

// ensureCapacity grows the bucket array to at least minBuckets (rounded up
// to a power of two) and rehashes every existing value into it.
func (t *HashTable[V, K]) ensureCapacity(minBuckets uint64) error {
	current := t.buckets.Size()
	if current >= minBuckets {
		return nil
	}
	target := uint64(1)
	for target < minBuckets {
		target <<= 1
	}
	return t.rehash(target)
}

func (t *HashTable[V, K]) rehash(newCount uint64) error {
	oldCount := t.buckets.Size()
	var chains []V
	for i := uint64(0); i < oldCount; i++ {
		list := t.bucketList(i)
		c := list.MoveFirst()
		for c.Valid() {
			v, err := c.Get()
			if err != nil {
				return err
			}
			chains = append(chains, v)
			if err := c.MoveNext(); err != nil {
				return err
			}
		}
		if err := list.Reset(); err != nil {
			return err
		}
	}
	if err := t.buckets.Resize(newCount, ListAnchor{}); err != nil {
		return err
	}
	for _, v := range chains {
		b := t.bucketFor(t.keyOf(v), newCount)
		if err := t.bucketList(b).PushBack(v); err != nil {
			return err
		}
	}
	return nil
}

func (t *HashTable[V, K]) maybeGrow() error {
	n := t.buckets.Size()
	if n == 0 {
		return t.ensureCapacity(1)
	}
	if float64(t.size())/float64(n) > hashTableMaxLoadFactor {
		return t.rehash(n * 2)
	}
	return nil
}

// Insert adds value to the table. Does nothing and returns false if a
// value with the same key already exists.
func (t *HashTable[V, K]) Insert(value V) (bool, error) {
	if err := t.ensureCapacity(1); err != nil {
		return false, err
	}
	key := t.keyOf(value)
	if _, ok, err := t.Find(key); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}
	if err := t.maybeGrow(); err != nil {
		return false, err
	}
	b := t.bucketFor(key, t.buckets.Size())
	if err := t.bucketList(b).PushBack(value); err != nil {
		return false, err
	}
	return true, nil
}

// InsertOrUpdate inserts value, overwriting any existing value with the
// same key. Returns true if an old value was overwritten.
func (t *HashTable[V, K]) InsertOrUpdate(value V) (bool, error) {
	if err := t.ensureCapacity(1); err != nil {
		return false, err
	}
	key := t.keyOf(value)
	n := t.buckets.Size()
	b := t.bucketFor(key, n)
	list := t.bucketList(b)
	c := list.MoveFirst()
	for c.Valid() {
		v, err := c.Get()
		if err != nil {
			return false, err
		}
		if t.keyOf(v) == key {
			return true, c.Set(value)
		}
		if err := c.MoveNext(); err != nil {
			return false, err
		}
	}
	if err := t.maybeGrow(); err != nil {
		return false, err
	}
	b = t.bucketFor(key, t.buckets.Size())
	return false, t.bucketList(b).PushBack(value)
}

// Erase removes the value associated with key, if any. Returns true if a
// value was removed.
func (t *HashTable[V, K]) Erase(key K) (bool, error) {
	n := t.buckets.Size()
	if n == 0 {
		return false, nil
	}
	list := t.bucketList(t.bucketFor(key, n))
	c := list.MoveFirst()
	for c.Valid() {
		v, err := c.Get()
		if err != nil {
			return false, err
		}
		if t.keyOf(v) == key {
			return true, list.Erase(c)
		}
		if err := c.MoveNext(); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Clear removes every value from the table without shrinking bucket
// storage.
func (t *HashTable[V, K]) Clear() error {
	n := t.buckets.Size()
	for i := uint64(0); i < n; i++ {
		if err := t.bucketList(i).Reset(); err != nil {
			return err
		}
	}
	return nil
}

// Each calls fn once per value in the table, in unspecified order.
// Stops and returns fn's error, if any, without visiting further values.
func (t *HashTable[V, K]) Each(fn func(V) error) error {
	n := t.buckets.Size()
	for i := uint64(0); i < n; i++ {
		c := t.bucketList(i).MoveFirst()
		for c.Valid() {
			v, err := c.Get()
			if err != nil {
				return err
			}
			if err := fn(v); err != nil {
				return err
			}
			if err := c.MoveNext(); err != nil {
				return err
			}
		}
	}
	return nil
}
