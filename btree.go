// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Generic ordered B+ tree index, grounded on the original design's split
// src/btree tree (base/leaf_node/internal_node/iterator) but collapsed
// into a single Go file following this package's flatter,
// few-files-per-concern layout (see e.g. falloc.go in the original lldb
// package, which holds an entire allocator in one file).
package prequel

import (
	"sort"

	"github.com/cznic/mathutil"
)

// TreeAnchor is the persistent root of a BTree: its size, height, node
// counts, and the indices of its root and of the first/last leaf.
type TreeAnchor struct {
	Size          uint64
	Height        uint32
	InternalCount uint64
	LeafCount     uint64
	Root          BlockIndex
	Leftmost      BlockIndex
	Rightmost     BlockIndex
}

// BTree is an ordered index over values of type V, keyed by K via a
// user-supplied projection and comparator. K must be no larger than V:
// in practice K is almost always a prefix of V.
type BTree[V any, K any] struct {
	engine Engine
	alloc  Allocator
	anchor AnchorHandle[TreeAnchor]

	keyOf func(V) K
	less  func(a, b K) bool

	valueSize, keySize           int
	leafCap, internalCap         int
	leafMin, internalMin         int
}

// NewBTree builds an accessor for a tree rooted at anchor. Containers are
// transient: constructing or discarding a BTree value never touches disk;
// the persistent state lives entirely in the anchor.
func NewBTree[V any, K any](engine Engine, alloc Allocator, anchor AnchorHandle[TreeAnchor], keyOf func(V) K, less func(a, b K) bool) *BTree[V, K] {
	valueSize := SerializedSize[V]()
	keySize := SerializedSize[K]()
	leafCap := leafCapacity(engine.BlockSize(), valueSize)
	internalCap := internalCapacity(engine.BlockSize(), keySize)
	return &BTree[V, K]{
		engine: engine, alloc: alloc, anchor: anchor,
		keyOf: keyOf, less: less,
		valueSize: valueSize, keySize: keySize,
		leafCap: leafCap, internalCap: internalCap,
		leafMin: (leafCap + 1) / 2, internalMin: (internalCap + 1) / 2,
	}
}

func (t *BTree[V, K]) equal(a, b K) bool { return !t.less(a, b) && !t.less(b, a) }

// Size returns the number of values stored in the tree.
func (t *BTree[V, K]) Size() uint64 { return t.anchor.Get().Size }

// Height returns the tree's height (0 for an empty tree, 1 when the root
// is a leaf).
func (t *BTree[V, K]) Height() uint32 { return t.anchor.Get().Height }

func (t *BTree[V, K]) encodeValue(v V) []byte {
	buf := make([]byte, t.valueSize)
	Serialize(v, buf)
	return buf
}

func (t *BTree[V, K]) decodeValue(raw []byte) V {
	var v V
	Deserialize(raw, &v)
	return v
}

func (t *BTree[V, K]) encodeKey(k K) []byte {
	buf := make([]byte, t.keySize)
	Serialize(k, buf)
	return buf
}

func (t *BTree[V, K]) decodeKey(raw []byte) K {
	var k K
	Deserialize(raw, &k)
	return k
}

func (t *BTree[V, K]) loadLeaf(idx BlockIndex) (leafNode, BlockHandle, error) {
	h, err := t.engine.Read(idx)
	if err != nil {
		return leafNode{}, BlockHandle{}, err
	}
	return leafNode{block: h, valueSize: t.valueSize}, h, nil
}

func (t *BTree[V, K]) loadInternal(idx BlockIndex) (internalNode, BlockHandle, error) {
	h, err := t.engine.Read(idx)
	if err != nil {
		return internalNode{}, BlockHandle{}, err
	}
	return internalNode{block: h, keySize: t.keySize, maxKeys: t.internalCap}, h, nil
}

func (t *BTree[V, K]) newLeaf() (leafNode, BlockIndex, error) {
	idx, err := t.alloc.Allocate(1)
	if err != nil {
		return leafNode{}, InvalidBlockIndex, err
	}
	h, err := t.engine.OverwriteZero(idx)
	if err != nil {
		return leafNode{}, InvalidBlockIndex, err
	}
	n := leafNode{block: h, valueSize: t.valueSize}
	n.init()
	a := t.anchor.Get()
	a.LeafCount++
	t.anchor.Set(a)
	return n, idx, nil
}

func (t *BTree[V, K]) newInternal() (internalNode, BlockIndex, error) {
	idx, err := t.alloc.Allocate(1)
	if err != nil {
		return internalNode{}, InvalidBlockIndex, err
	}
	h, err := t.engine.OverwriteZero(idx)
	if err != nil {
		return internalNode{}, InvalidBlockIndex, err
	}
	n := internalNode{block: h, keySize: t.keySize, maxKeys: t.internalCap}
	n.init()
	a := t.anchor.Get()
	a.InternalCount++
	t.anchor.Set(a)
	return n, idx, nil
}

func (t *BTree[V, K]) freeLeaf(idx BlockIndex) error {
	if err := t.alloc.Free(idx, 1); err != nil {
		return err
	}
	a := t.anchor.Get()
	a.LeafCount--
	t.anchor.Set(a)
	return nil
}

func (t *BTree[V, K]) freeInternal(idx BlockIndex) error {
	if err := t.alloc.Free(idx, 1); err != nil {
		return err
	}
	a := t.anchor.Get()
	a.InternalCount--
	t.anchor.Set(a)
	return nil
}

// --- Read-only descent -----------------------------------------------

// childForKey returns the index (0-based, into the node's key/child
// arrays) of the child subtree whose maximal key is the smallest one that
// is still >= k; if k exceeds every key in the node, the last child is
// returned (its separator key is stale and must be refreshed by the
// caller on the way back up, if k is being inserted).
func (t *BTree[V, K]) childForKey(n internalNode, k K) int {
	c := n.count()
	i := sort.Search(c, func(i int) bool {
		return !t.less(t.decodeKey(n.rawKey(i)), k)
	})
	if i == c {
		i = c - 1
	}
	return i
}

// descendToLeaf walks from the root to the leaf that does or should
// contain k, recording the path taken when record is true.
func (t *BTree[V, K]) descendToLeaf(k K, record bool) (leaf BlockIndex, path []pathStep, err error) {
	a := t.anchor.Get()
	if a.Height == 0 {
		return InvalidBlockIndex, nil, nil
	}
	cur := a.Root
	for level := a.Height; level > 1; level-- {
		n, h, err := t.loadInternal(cur)
		if err != nil {
			return InvalidBlockIndex, nil, err
		}
		ci := t.childForKey(n, k)
		child := n.child(ci)
		if record {
			path = append(path, pathStep{node: cur, childIndex: ci})
		}
		h.Release()
		cur = child
	}
	return cur, path, nil
}

type pathStep struct {
	node       BlockIndex
	childIndex int
}

// leafValueIndex returns the index within the already-loaded leaf n of
// the first value with key >= k (or n.count() if none).
func (t *BTree[V, K]) leafValueIndex(n leafNode, k K) int {
	c := n.count()
	return sort.Search(c, func(i int) bool {
		return !t.less(t.keyOf(t.decodeValue(n.rawValue(i))), k)
	})
}

// posResult names a position in the tree: either a concrete (leaf, index)
// or "no such position" (atEnd).
type posResult struct {
	leaf  BlockIndex
	index int
	atEnd bool
}

func (t *BTree[V, K]) lowerBoundPos(k K) (posResult, error) {
	leafIdx, _, err := t.descendToLeaf(k, false)
	if err != nil {
		return posResult{}, err
	}
	if !leafIdx.Valid() {
		return posResult{atEnd: true}, nil
	}
	n, h, err := t.loadLeaf(leafIdx)
	if err != nil {
		return posResult{}, err
	}
	defer h.Release()
	i := t.leafValueIndex(n, k)
	for i == n.count() {
		nxt := n.next()
		if !nxt.Valid() {
			return posResult{atEnd: true}, nil
		}
		n2, h2, err := t.loadLeaf(nxt)
		if err != nil {
			return posResult{}, err
		}
		h.Release()
		n, h = n2, h2
		leafIdx = nxt
		i = t.leafValueIndex(n, k)
	}
	return posResult{leaf: leafIdx, index: i}, nil
}

func (t *BTree[V, K]) upperBoundPos(k K) (posResult, error) {
	lb, err := t.lowerBoundPos(k)
	if err != nil || lb.atEnd {
		return lb, err
	}
	n, h, err := t.loadLeaf(lb.leaf)
	if err != nil {
		return posResult{}, err
	}
	defer h.Release()
	if t.equal(t.keyOf(t.decodeValue(n.rawValue(lb.index))), k) {
		return t.stepNext(lb.leaf, lb.index)
	}
	return lb, nil
}

func (t *BTree[V, K]) stepNext(leaf BlockIndex, index int) (posResult, error) {
	n, h, err := t.loadLeaf(leaf)
	if err != nil {
		return posResult{}, err
	}
	defer h.Release()
	if index+1 < n.count() {
		return posResult{leaf: leaf, index: index + 1}, nil
	}
	nxt := n.next()
	if !nxt.Valid() {
		return posResult{atEnd: true}, nil
	}
	return posResult{leaf: nxt, index: 0}, nil
}

func (t *BTree[V, K]) stepPrev(leaf BlockIndex, index int) (posResult, bool, error) {
	if index > 0 {
		return posResult{leaf: leaf, index: index - 1}, true, nil
	}
	n, h, err := t.loadLeaf(leaf)
	if err != nil {
		return posResult{}, false, err
	}
	defer h.Release()
	prv := n.prev()
	if !prv.Valid() {
		return posResult{}, false, nil
	}
	pn, ph, err := t.loadLeaf(prv)
	if err != nil {
		return posResult{}, false, err
	}
	defer ph.Release()
	return posResult{leaf: prv, index: pn.count() - 1}, true, nil
}

func (t *BTree[V, K]) valueAt(pos posResult) (V, error) {
	n, h, err := t.loadLeaf(pos.leaf)
	if err != nil {
		var zero V
		return zero, err
	}
	defer h.Release()
	return t.decodeValue(n.rawValue(pos.index)), nil
}

// --- Public read operations --------------------------------------------

// Find returns a cursor at the value with key k, or an end cursor if no
// such value exists.
func (t *BTree[V, K]) Find(k K) (*Cursor[V, K], error) {
	pos, err := t.lowerBoundPos(k)
	if err != nil {
		return nil, err
	}
	if pos.atEnd {
		return t.endCursor(), nil
	}
	v, err := t.valueAt(pos)
	if err != nil {
		return nil, err
	}
	if !t.equal(t.keyOf(v), k) {
		return t.endCursor(), nil
	}
	return t.cursorAt(t.keyOf(v)), nil
}

// LowerBound returns a cursor at the first value whose key is >= k.
func (t *BTree[V, K]) LowerBound(k K) (*Cursor[V, K], error) {
	pos, err := t.lowerBoundPos(k)
	if err != nil {
		return nil, err
	}
	return t.cursorFromPos(pos)
}

// UpperBound returns a cursor at the first value whose key is > k.
func (t *BTree[V, K]) UpperBound(k K) (*Cursor[V, K], error) {
	pos, err := t.upperBoundPos(k)
	if err != nil {
		return nil, err
	}
	return t.cursorFromPos(pos)
}

// MoveMin returns a cursor at the smallest value, or an end cursor if the
// tree is empty.
func (t *BTree[V, K]) MoveMin() (*Cursor[V, K], error) {
	a := t.anchor.Get()
	if a.Height == 0 {
		return t.endCursor(), nil
	}
	return t.cursorFromPos(posResult{leaf: a.Leftmost, index: 0})
}

// MoveMax returns a cursor at the largest value, or an end cursor if the
// tree is empty.
func (t *BTree[V, K]) MoveMax() (*Cursor[V, K], error) {
	a := t.anchor.Get()
	if a.Height == 0 {
		return t.endCursor(), nil
	}
	n, h, err := t.loadLeaf(a.Rightmost)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return t.cursorFromPos(posResult{leaf: a.Rightmost, index: n.count() - 1})
}

func (t *BTree[V, K]) cursorFromPos(pos posResult) (*Cursor[V, K], error) {
	if pos.atEnd {
		return t.endCursor(), nil
	}
	v, err := t.valueAt(pos)
	if err != nil {
		return nil, err
	}
	return t.cursorAt(t.keyOf(v)), nil
}

func (t *BTree[V, K]) cursorAt(k K) *Cursor[V, K] {
	return &Cursor[V, K]{tree: t, state: cursorValid, key: k}
}

func (t *BTree[V, K]) endCursor() *Cursor[V, K] {
	return &Cursor[V, K]{tree: t, state: cursorEnd}
}

// propagateNewMax rewrites the separator key for the child chain recorded
// in path to newKey, stopping as soon as a level is reached where the
// affected child is not that level's last entry (its own subtree maximum
// is therefore unaffected). path is ordered root-to-parent, so the walk
// runs back to front.
func (t *BTree[V, K]) propagateNewMax(path []pathStep, newKey K) error {
	buf := t.encodeKey(newKey)
	for i := len(path) - 1; i >= 0; i-- {
		step := path[i]
		n, h, err := t.loadInternal(step.node)
		if err != nil {
			return err
		}
		n.setRawKey(step.childIndex, buf)
		last := step.childIndex == n.count()-1
		h.Release()
		if !last {
			break
		}
	}
	return nil
}

// --- Insert --------------------------------------------------------------

// Insert adds v, keyed by keyOf(v). If a value with that key already
// exists, Insert leaves the tree unchanged and returns (cursor at the
// existing value, false, nil).
func (t *BTree[V, K]) Insert(v V) (*Cursor[V, K], bool, error) {
	k := t.keyOf(v)
	a := t.anchor.Get()

	if a.Height == 0 {
		n, idx, err := t.newLeaf()
		if err != nil {
			return nil, false, err
		}
		n.insertAt(0, t.encodeValue(v))
		n.block.Release()
		a = t.anchor.Get()
		a.Height = 1
		a.Root = idx
		a.Leftmost = idx
		a.Rightmost = idx
		a.Size = 1
		t.anchor.Set(a)
		return t.cursorAt(k), true, nil
	}

	leafIdx, path, err := t.descendToLeaf(k, true)
	if err != nil {
		return nil, false, err
	}
	n, h, err := t.loadLeaf(leafIdx)
	if err != nil {
		return nil, false, err
	}
	i := t.leafValueIndex(n, k)
	if i < n.count() && t.equal(t.keyOf(t.decodeValue(n.rawValue(i))), k) {
		h.Release()
		return t.cursorAt(k), false, nil
	}
	raw := t.encodeValue(v)

	if n.count() < t.leafCap {
		n.insertAt(i, raw)
		atEnd := i == n.count()-1
		h.Release()
		a = t.anchor.Get()
		a.Size++
		t.anchor.Set(a)
		if atEnd {
			if err := t.propagateNewMax(path, k); err != nil {
				return nil, false, err
			}
		}
		return t.cursorAt(k), true, nil
	}

	old := make([][]byte, n.count())
	for idx := 0; idx < n.count(); idx++ {
		old[idx] = append([]byte(nil), n.rawValue(idx)...)
	}
	combined := make([][]byte, 0, len(old)+1)
	combined = append(combined, old[:i]...)
	combined = append(combined, raw)
	combined = append(combined, old[i:]...)

	leftCount := mathutil.Max(1, mathutil.Min((len(combined)+1)/2, len(combined)-1))
	for idx := 0; idx < leftCount; idx++ {
		n.setRawValue(idx, combined[idx])
	}
	n.setCount(leftCount)
	oldNext := n.next()

	rn, rIdx, err := t.newLeaf()
	if err != nil {
		h.Release()
		return nil, false, err
	}
	for idx := leftCount; idx < len(combined); idx++ {
		rn.setRawValue(idx-leftCount, combined[idx])
	}
	rn.setCount(len(combined) - leftCount)
	rn.setPrev(leafIdx)
	rn.setNext(oldNext)
	n.setNext(rIdx)
	rn.block.Release()
	if oldNext.Valid() {
		on, oh, err := t.loadLeaf(oldNext)
		if err != nil {
			h.Release()
			return nil, false, err
		}
		on.setPrev(rIdx)
		oh.Release()
	}
	h.Release()

	a = t.anchor.Get()
	a.Size++
	if a.Rightmost == leafIdx {
		a.Rightmost = rIdx
	}
	t.anchor.Set(a)

	leftKey := t.keyOf(t.decodeValue(combined[leftCount-1]))
	rightKey := t.keyOf(t.decodeValue(combined[len(combined)-1]))

	if err := t.insertAncestor(path, leftKey, rightKey, rIdx); err != nil {
		return nil, false, err
	}
	return t.cursorAt(k), true, nil
}

// insertAncestor records that the child previously identified by the
// deepest step of path now has maximum key leftKey, and that a new
// sibling rightChild (maximum key rightKey) must be linked in immediately
// after it. It splits and ascends as needed, growing the tree's height
// when the split reaches the root.
func (t *BTree[V, K]) insertAncestor(path []pathStep, leftKey, rightKey K, rightChild BlockIndex) error {
	if len(path) == 0 {
		root, rootIdx, err := t.newInternal()
		if err != nil {
			return err
		}
		a := t.anchor.Get()
		oldRoot := a.Root
		root.insertAt(0, t.encodeKey(leftKey), oldRoot)
		root.insertAt(1, t.encodeKey(rightKey), rightChild)
		root.block.Release()
		a.Root = rootIdx
		a.Height++
		t.anchor.Set(a)
		return nil
	}

	level := path[len(path)-1]
	rest := path[:len(path)-1]
	n, h, err := t.loadInternal(level.node)
	if err != nil {
		return err
	}
	n.setRawKey(level.childIndex, t.encodeKey(leftKey))

	if n.count() < t.internalCap {
		n.insertAt(level.childIndex+1, t.encodeKey(rightKey), rightChild)
		atEnd := level.childIndex+1 == n.count()-1
		h.Release()
		if atEnd {
			return t.propagateNewMax(rest, rightKey)
		}
		return nil
	}

	type entry struct {
		key   []byte
		child BlockIndex
	}
	old := make([]entry, n.count())
	for idx := 0; idx < n.count(); idx++ {
		old[idx] = entry{key: append([]byte(nil), n.rawKey(idx)...), child: n.child(idx)}
	}
	insertIdx := level.childIndex + 1
	combined := make([]entry, 0, len(old)+1)
	combined = append(combined, old[:insertIdx]...)
	combined = append(combined, entry{key: t.encodeKey(rightKey), child: rightChild})
	combined = append(combined, old[insertIdx:]...)

	leftCount := mathutil.Max(1, mathutil.Min((len(combined)+1)/2, len(combined)-1))
	for idx := 0; idx < leftCount; idx++ {
		n.setRawKey(idx, combined[idx].key)
		n.setChild(idx, combined[idx].child)
	}
	n.setCount(leftCount)

	rn, rIdx, err := t.newInternal()
	if err != nil {
		h.Release()
		return err
	}
	for idx := leftCount; idx < len(combined); idx++ {
		rn.setRawKey(idx-leftCount, combined[idx].key)
		rn.setChild(idx-leftCount, combined[idx].child)
	}
	rn.setCount(len(combined) - leftCount)
	rn.block.Release()
	h.Release()

	newLeftKey := t.decodeKey(combined[leftCount-1].key)
	newRightKey := t.decodeKey(combined[len(combined)-1].key)

	return t.insertAncestor(rest, newLeftKey, newRightKey, rIdx)
}

// --- Erase -----------------------------------------------------------------

// Erase removes the value c points to. c transitions to the deleted
// state; it may still be navigated with MoveNext/MovePrev afterwards.
func (t *BTree[V, K]) Erase(c *Cursor[V, K]) error {
	if c.tree != t {
		return &BadCursor{Msg: "cursor belongs to a different tree"}
	}
	if c.state != cursorValid {
		return &BadCursor{Msg: "cursor does not point to a value"}
	}
	k := c.key

	leafIdx, path, err := t.descendToLeaf(k, true)
	if err != nil {
		return err
	}
	n, h, err := t.loadLeaf(leafIdx)
	if err != nil {
		return err
	}
	i := t.leafValueIndex(n, k)
	if i >= n.count() || !t.equal(t.keyOf(t.decodeValue(n.rawValue(i))), k) {
		h.Release()
		return &BadCursor{Msg: "cursor's value is no longer present"}
	}

	n.removeAt(i)
	wasLast := i == n.count()
	haveNewMax := n.count() > 0
	var newMax K
	if haveNewMax {
		newMax = t.keyOf(t.decodeValue(n.rawValue(n.count()-1)))
	}
	underflow := n.count() < t.leafMin && len(path) > 0
	becameEmptyRoot := len(path) == 0 && n.count() == 0
	h.Release()

	a := t.anchor.Get()
	a.Size--
	t.anchor.Set(a)

	if wasLast && haveNewMax {
		if err := t.propagateNewMax(path, newMax); err != nil {
			return err
		}
	}
	if becameEmptyRoot {
		if err := t.freeLeaf(leafIdx); err != nil {
			return err
		}
		a = t.anchor.Get()
		a.Height = 0
		a.Root = InvalidBlockIndex
		a.Leftmost = InvalidBlockIndex
		a.Rightmost = InvalidBlockIndex
		t.anchor.Set(a)
	} else if underflow {
		if err := t.rebalanceLeaf(path, leafIdx); err != nil {
			return err
		}
	}

	c.state = cursorDeleted
	return nil
}

// rebalanceLeaf restores minimum occupancy for the leaf at leafIdx (whose
// ancestor chain is path) by borrowing a value from an adjacent sibling
// under the same parent, or, failing that, merging with one.
func (t *BTree[V, K]) rebalanceLeaf(path []pathStep, leafIdx BlockIndex) error {
	if len(path) == 0 {
		return nil
	}
	parentStep := path[len(path)-1]
	pn, ph, err := t.loadInternal(parentStep.node)
	if err != nil {
		return err
	}
	ci := parentStep.childIndex

	if ci > 0 {
		leftIdx := pn.child(ci - 1)
		ln, lh, err := t.loadLeaf(leftIdx)
		if err != nil {
			ph.Release()
			return err
		}
		if ln.count() > t.leafMin {
			n, h, err := t.loadLeaf(leafIdx)
			if err != nil {
				lh.Release()
				ph.Release()
				return err
			}
			moved := append([]byte(nil), ln.rawValue(ln.count()-1)...)
			ln.removeAt(ln.count() - 1)
			n.insertAt(0, moved)
			newLeftMax := t.keyOf(t.decodeValue(ln.rawValue(ln.count()-1)))
			pn.setRawKey(ci-1, t.encodeKey(newLeftMax))
			h.Release()
			lh.Release()
			ph.Release()
			return nil
		}
		lh.Release()
	}
	if ci < pn.count()-1 {
		rightIdx := pn.child(ci + 1)
		rn, rh, err := t.loadLeaf(rightIdx)
		if err != nil {
			ph.Release()
			return err
		}
		if rn.count() > t.leafMin {
			n, h, err := t.loadLeaf(leafIdx)
			if err != nil {
				rh.Release()
				ph.Release()
				return err
			}
			moved := append([]byte(nil), rn.rawValue(0)...)
			rn.removeAt(0)
			n.insertAt(n.count(), moved)
			newOwnMax := t.keyOf(t.decodeValue(n.rawValue(n.count()-1)))
			pn.setRawKey(ci, t.encodeKey(newOwnMax))
			h.Release()
			rh.Release()
			ph.Release()
			return nil
		}
		rh.Release()
	}

	if ci > 0 {
		leftIdx := pn.child(ci - 1)
		ph.Release()
		return t.mergeLeaves(path, leftIdx, leafIdx, ci-1)
	}
	rightIdx := pn.child(ci + 1)
	ph.Release()
	return t.mergeLeaves(path, leafIdx, rightIdx, ci)
}

// mergeLeaves absorbs rightIdx's values into leftIdx, unlinks rightIdx
// from the leaf chain and frees it, then removes its entry from the
// shared parent (path's deepest step), cascading further up if that
// leaves the parent underfull or collapses the root.
func (t *BTree[V, K]) mergeLeaves(path []pathStep, leftIdx, rightIdx BlockIndex, leftChildIndex int) error {
	ln, lh, err := t.loadLeaf(leftIdx)
	if err != nil {
		return err
	}
	rn, rh, err := t.loadLeaf(rightIdx)
	if err != nil {
		lh.Release()
		return err
	}
	base := ln.count()
	for idx := 0; idx < rn.count(); idx++ {
		ln.setRawValue(base+idx, rn.rawValue(idx))
	}
	ln.setCount(base + rn.count())
	newNext := rn.next()
	ln.setNext(newNext)
	mergedMax := t.keyOf(t.decodeValue(ln.rawValue(ln.count()-1)))
	rh.Release()
	lh.Release()

	if newNext.Valid() {
		nn, nh, err := t.loadLeaf(newNext)
		if err != nil {
			return err
		}
		nn.setPrev(leftIdx)
		nh.Release()
	}
	if err := t.freeLeaf(rightIdx); err != nil {
		return err
	}

	a := t.anchor.Get()
	if a.Rightmost == rightIdx {
		a.Rightmost = leftIdx
	}
	t.anchor.Set(a)

	return t.finishMerge(path, leftChildIndex, mergedMax)
}

// finishMerge removes the now-absent right entry from the parent recorded
// as the deepest step of path, rewrites the merged separator, and
// cascades (propagate-max, rebalance, or root collapse) as needed. Shared
// by mergeLeaves and mergeInternals once the child-level merge itself is
// done.
func (t *BTree[V, K]) finishMerge(path []pathStep, leftChildIndex int, mergedMax K) error {
	parentStep := path[len(path)-1]
	rest := path[:len(path)-1]
	pn, ph, err := t.loadInternal(parentStep.node)
	if err != nil {
		return err
	}
	pn.setRawKey(leftChildIndex, t.encodeKey(mergedMax))
	pn.removeAt(leftChildIndex + 1)
	shrunk := pn.count() < t.internalMin && len(rest) > 0
	emptyRoot := pn.count() == 1 && len(rest) == 0
	lastEntry := leftChildIndex == pn.count()-1
	ph.Release()

	if lastEntry {
		if err := t.propagateNewMax(rest, mergedMax); err != nil {
			return err
		}
	}
	if emptyRoot {
		return t.collapseRoot(parentStep.node)
	}
	if shrunk {
		return t.rebalanceInternal(rest, parentStep.node)
	}
	return nil
}

// collapseRoot replaces a root internal node that has decayed to a single
// child with that child, shrinking the tree's height by one.
func (t *BTree[V, K]) collapseRoot(rootIdx BlockIndex) error {
	n, h, err := t.loadInternal(rootIdx)
	if err != nil {
		return err
	}
	child := n.child(0)
	h.Release()
	if err := t.freeInternal(rootIdx); err != nil {
		return err
	}
	a := t.anchor.Get()
	a.Root = child
	a.Height--
	t.anchor.Set(a)
	return nil
}

// rebalanceInternal is rebalanceLeaf's analogue for internal nodes.
func (t *BTree[V, K]) rebalanceInternal(path []pathStep, nodeIdx BlockIndex) error {
	if len(path) == 0 {
		return nil
	}
	parentStep := path[len(path)-1]
	pn, ph, err := t.loadInternal(parentStep.node)
	if err != nil {
		return err
	}
	ci := parentStep.childIndex

	if ci > 0 {
		leftIdx := pn.child(ci - 1)
		ln, lh, err := t.loadInternal(leftIdx)
		if err != nil {
			ph.Release()
			return err
		}
		if ln.count() > t.internalMin {
			n, h, err := t.loadInternal(nodeIdx)
			if err != nil {
				lh.Release()
				ph.Release()
				return err
			}
			movedKey := append([]byte(nil), ln.rawKey(ln.count()-1)...)
			movedChild := ln.child(ln.count() - 1)
			ln.removeAt(ln.count() - 1)
			n.insertAt(0, movedKey, movedChild)
			newLeftMax := t.decodeKey(ln.rawKey(ln.count() - 1))
			pn.setRawKey(ci-1, t.encodeKey(newLeftMax))
			h.Release()
			lh.Release()
			ph.Release()
			return nil
		}
		lh.Release()
	}
	if ci < pn.count()-1 {
		rightIdx := pn.child(ci + 1)
		rn, rh, err := t.loadInternal(rightIdx)
		if err != nil {
			ph.Release()
			return err
		}
		if rn.count() > t.internalMin {
			n, h, err := t.loadInternal(nodeIdx)
			if err != nil {
				rh.Release()
				ph.Release()
				return err
			}
			movedKey := append([]byte(nil), rn.rawKey(0)...)
			movedChild := rn.child(0)
			rn.removeAt(0)
			n.insertAt(n.count(), movedKey, movedChild)
			newOwnMax := t.decodeKey(n.rawKey(n.count() - 1))
			pn.setRawKey(ci, t.encodeKey(newOwnMax))
			h.Release()
			rh.Release()
			ph.Release()
			return nil
		}
		rh.Release()
	}

	if ci > 0 {
		leftIdx := pn.child(ci - 1)
		ph.Release()
		return t.mergeInternals(path, leftIdx, nodeIdx, ci-1)
	}
	rightIdx := pn.child(ci + 1)
	ph.Release()
	return t.mergeInternals(path, nodeIdx, rightIdx, ci)
}

// mergeInternals is mergeLeaves's analogue for internal nodes.
func (t *BTree[V, K]) mergeInternals(path []pathStep, leftIdx, rightIdx BlockIndex, leftChildIndex int) error {
	ln, lh, err := t.loadInternal(leftIdx)
	if err != nil {
		return err
	}
	rn, rh, err := t.loadInternal(rightIdx)
	if err != nil {
		lh.Release()
		return err
	}
	base := ln.count()
	for idx := 0; idx < rn.count(); idx++ {
		ln.setRawKey(base+idx, rn.rawKey(idx))
		ln.setChild(base+idx, rn.child(idx))
	}
	ln.setCount(base + rn.count())
	mergedMax := t.decodeKey(ln.rawKey(ln.count() - 1))
	rh.Release()
	lh.Release()

	if err := t.freeInternal(rightIdx); err != nil {
		return err
	}
	return t.finishMerge(path, leftChildIndex, mergedMax)
}

// Validate walks the leaf chain and checks that keys are strictly
// increasing and that the anchor's recorded size matches the number of
// values actually present.
func (t *BTree[V, K]) Validate() error {
	a := t.anchor.Get()
	if a.Height == 0 {
		if a.Size != 0 || a.Root.Valid() {
			return &Corruption{Msg: "empty tree has nonzero size or a root block"}
		}
		return nil
	}

	var count uint64
	var prevKey K
	havePrev := false
	cur := a.Leftmost
	for cur.Valid() {
		n, h, err := t.loadLeaf(cur)
		if err != nil {
			return err
		}
		c := n.count()
		for i := 0; i < c; i++ {
			k := t.keyOf(t.decodeValue(n.rawValue(i)))
			if havePrev && !t.less(prevKey, k) {
				h.Release()
				return &Corruption{Msg: "btree leaf values are not strictly increasing"}
			}
			prevKey, havePrev = k, true
		}
		count += uint64(c)
		nxt := n.next()
		h.Release()
		cur = nxt
	}
	if count != a.Size {
		return &Corruption{Msg: "btree anchor size does not match stored value count"}
	}
	return nil
}
