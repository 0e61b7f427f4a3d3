// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Bulk loader for building a BTree directly from a stream of values
// already in ascending key order, grounded on the original design's
// src/prequel/btree/loader.hpp: it assembles each level's internal nodes
// in memory as it goes ("proto" nodes) and only ever writes a node to
// disk once it is full, so a bulk load produces a tree with no
// underfull internal nodes (leaves may still be underfull, same as the
// original -- the tree format already tolerates that).
package prequel

// allocatedBlock remembers whether a block the loader allocated is a
// leaf or an internal node, so Discard can release it through the
// matching free path (the two node kinds cost the same one block each,
// but freeLeaf/freeInternal also maintain the anchor's separate leaf and
// internal counters).
type allocatedBlock struct {
	idx    BlockIndex
	isLeaf bool
}

// protoInternal accumulates (key, child) pairs for one level of internal
// nodes while a BulkLoader is running; it is flushed to a real on-disk
// node once full.
type protoInternal struct {
	keys     [][]byte
	children []BlockIndex
}

// BulkLoader builds a BTree's on-disk structure directly, without the
// split/merge machinery Insert and Erase use. It requires its target
// tree to be empty and its input to arrive in strictly ascending key
// order.
type BulkLoader[V any, K any] struct {
	tree *BTree[V, K]

	leaf    leafNode
	leafIdx BlockIndex

	leftmost, rightmost BlockIndex
	size                uint64

	haveLast bool
	lastKey  K

	parents []*protoInternal

	// allocated records every block this loader has handed out, so that
	// Discard can free them all regardless of which proto-node list (if
	// any) still references them.
	allocated []allocatedBlock

	done bool
}

// NewBulkLoader creates a loader for tree, which must currently be empty.
func NewBulkLoader[V any, K any](tree *BTree[V, K]) (*BulkLoader[V, K], error) {
	if tree.anchor.Get().Height != 0 {
		return nil, &BadOperation{Msg: "bulk loader requires an empty tree"}
	}
	return &BulkLoader[V, K]{tree: tree, leftmost: InvalidBlockIndex, rightmost: InvalidBlockIndex}, nil
}

func (l *BulkLoader[V, K]) ensureLeaf() error {
	if l.leafIdx.Valid() {
		return nil
	}
	n, idx, err := l.tree.newLeaf()
	if err != nil {
		return err
	}
	l.allocated = append(l.allocated, allocatedBlock{idx: idx, isLeaf: true})
	if !l.leftmost.Valid() {
		l.leftmost = idx
	}
	if l.rightmost.Valid() {
		pn, ph, err := l.tree.loadLeaf(l.rightmost)
		if err != nil {
			return err
		}
		pn.setNext(idx)
		ph.Release()
		n.setPrev(l.rightmost)
	}
	l.leaf = n
	l.leafIdx = idx
	l.rightmost = idx
	return nil
}

// Insert appends v to the tree under construction. Its key must be
// strictly greater than every previously inserted value's key.
func (l *BulkLoader[V, K]) Insert(v V) error {
	if l.done {
		return &BadOperation{Msg: "bulk loader already finished or discarded"}
	}
	k := l.tree.keyOf(v)
	if l.haveLast && !l.tree.less(l.lastKey, k) {
		return &BadArgument{Msg: "bulk loader requires strictly increasing keys", Arg: k}
	}
	if err := l.ensureLeaf(); err != nil {
		return err
	}
	if l.leaf.count() == l.tree.leafCap {
		if err := l.flushLeaf(); err != nil {
			return err
		}
		if err := l.ensureLeaf(); err != nil {
			return err
		}
	}
	l.leaf.insertAt(l.leaf.count(), l.tree.encodeValue(v))
	l.lastKey, l.haveLast = k, true
	l.size++
	return nil
}

func (l *BulkLoader[V, K]) flushLeaf() error {
	maxKey := l.tree.keyOf(l.tree.decodeValue(l.leaf.rawValue(l.leaf.count() - 1)))
	idx := l.leafIdx
	l.leafIdx = InvalidBlockIndex
	return l.pushChild(0, maxKey, idx)
}

// pushChild records child (whose subtree's maximum key is key) as the
// next pending entry at level. Each level's proto node is allowed to
// grow up to internalCap+internalMin entries before it must flush: once
// it does, only the first internalCap entries are written out (filling
// the emitted node exactly), and the remaining internalMin entries carry
// over into the next proto node rather than starting it from scratch.
// This is what guarantees every internal node a bulk load writes before
// Finish -- other than the very last, partial one at each level -- never
// dips below minimum occupancy.
func (l *BulkLoader[V, K]) pushChild(level int, key K, child BlockIndex) error {
	for len(l.parents) <= level {
		l.parents = append(l.parents, &protoInternal{})
	}
	p := l.parents[level]
	p.keys = append(p.keys, l.tree.encodeKey(key))
	p.children = append(p.children, child)
	if len(p.children) == l.tree.internalCap+l.tree.internalMin {
		return l.flushFullProto(level)
	}
	return nil
}

func (l *BulkLoader[V, K]) flushFullProto(level int) error {
	p := l.parents[level]
	n, idx, err := l.tree.newInternal()
	if err != nil {
		return err
	}
	l.allocated = append(l.allocated, allocatedBlock{idx: idx})
	cut := l.tree.internalCap
	for i := 0; i < cut; i++ {
		n.setRawKey(i, p.keys[i])
		n.setChild(i, p.children[i])
	}
	n.setCount(cut)
	maxKey := l.tree.decodeKey(p.keys[cut-1])
	n.block.Release()
	l.parents[level] = &protoInternal{
		keys:     append([][]byte(nil), p.keys[cut:]...),
		children: append([]BlockIndex(nil), p.children[cut:]...),
	}
	return l.pushChild(level+1, maxKey, idx)
}

// Finish writes out every remaining partial node and installs the
// resulting tree into the anchor. The loader must not be used again
// afterwards.
func (l *BulkLoader[V, K]) Finish() error {
	if l.done {
		return &BadOperation{Msg: "bulk loader already finished or discarded"}
	}
	l.done = true
	if l.size == 0 {
		return nil
	}
	if l.leafIdx.Valid() {
		if err := l.flushLeaf(); err != nil {
			return err
		}
	}

	root, levels, err := l.finishLevel(0)
	if err != nil {
		return err
	}

	a := l.tree.anchor.Get()
	a.Root = root
	a.Height = levels + 1
	a.Leftmost = l.leftmost
	a.Rightmost = l.rightmost
	a.Size = l.size
	l.tree.anchor.Set(a)
	return nil
}

// finishLevel folds the pending entries at level and above into a single
// root, returning that root and the number of internal levels between it
// and the leaves. A level with exactly one pending entry and nothing
// above it contributes no wrapping node: that entry simply becomes the
// root, avoiding the single-child internal nodes the original design's
// loader comment warns against. A level with more entries than fit in
// one node (possible here since a proto node is allowed to grow past
// internalCap, up to internalCap+internalMin, before pushChild flushes
// it) is written out as two nodes instead of one, each still within
// [internalMin, internalCap].
func (l *BulkLoader[V, K]) finishLevel(level int) (BlockIndex, uint32, error) {
	if level >= len(l.parents) {
		return InvalidBlockIndex, 0, nil
	}
	p := l.parents[level]
	if level == len(l.parents)-1 && len(p.children) == 1 {
		return p.children[0], uint32(level), nil
	}

	offset := 0
	for _, c := range splitIntoNodeSizedChunks(len(p.children), l.tree.internalCap) {
		n, idx, err := l.tree.newInternal()
		if err != nil {
			return InvalidBlockIndex, 0, err
		}
		l.allocated = append(l.allocated, allocatedBlock{idx: idx})
		for i := 0; i < c; i++ {
			n.setRawKey(i, p.keys[offset+i])
			n.setChild(i, p.children[offset+i])
		}
		n.setCount(c)
		maxKey := l.tree.decodeKey(p.keys[offset+c-1])
		n.block.Release()
		if err := l.pushChild(level+1, maxKey, idx); err != nil {
			return InvalidBlockIndex, 0, err
		}
		offset += c
	}
	return l.finishLevel(level + 1)
}

// splitIntoNodeSizedChunks divides total pending entries into one or two
// roughly-even groups, each no larger than cap. Two groups suffice
// because pushChild never lets a proto node exceed internalCap+internalMin
// entries.
func splitIntoNodeSizedChunks(total, cap int) []int {
	if total <= cap {
		return []int{total}
	}
	left := (total + 1) / 2
	return []int{left, total - left}
}

// Discard abandons the loader, freeing every block it has written so
// far. The target tree is left empty.
func (l *BulkLoader[V, K]) Discard() error {
	if l.done {
		return nil
	}
	l.done = true
	for i := len(l.allocated) - 1; i >= 0; i-- {
		b := l.allocated[i]
		var err error
		if b.isLeaf {
			err = l.tree.freeLeaf(b.idx)
		} else {
			err = l.tree.freeInternal(b.idx)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
