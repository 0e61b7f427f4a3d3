// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Best-fit block allocator. It keeps every free
// extent indexed twice -- once by starting position, once by (size,
// position) for best-fit search -- using two ordinary BTree instances.
// Those trees need blocks of their own to grow into, which would recurse
// straight back into the allocator they belong to; metaAllocator breaks
// that cycle by handing the trees blocks from a small bootstrap free list
// carried directly in the allocator's anchor, replenished by growing the
// file rather than by going through the trees at all.
package prequel

import "github.com/cznic/mathutil"

const (
	metaFreeListCapacity = 64
	metaChunkBlocks       = 32
	minChunkBlocks        = 64
)

// AllocatorAnchor is the persistent root of a DefaultAllocator.
type AllocatorAnchor struct {
	TotalBlocks   uint64
	UsedBlocks    uint64
	FreeBlocks    uint64
	MetaBlocks    uint64
	MetaFreeCount uint32
	MetaFreeList  [metaFreeListCapacity]BlockIndex
	ByPosition    TreeAnchor
	BySize        TreeAnchor
}

const (
	fieldAllocatorByPosition = 6
	fieldAllocatorBySize     = 7
)

// AllocatorStats summarizes a DefaultAllocator's block accounting.
type AllocatorStats struct {
	TotalBlocks uint64
	UsedBlocks  uint64
	FreeBlocks  uint64
	MetaBlocks  uint64
}

// DefaultAllocator is the library's best-fit Allocator implementation.
type DefaultAllocator struct {
	engine    Engine
	anchor    AnchorHandle[AllocatorAnchor]
	allowGrow bool

	meta       *metaAllocator
	byPosition *BTree[extentT, BlockIndex]
	bySize     *BTree[extentT, sizeKey]
}

// NewDefaultAllocator builds an accessor for an allocator rooted at
// anchor. allowGrow controls whether Allocate may extend the underlying
// file when no free extent fits; callers that manage file size
// themselves (e.g. a fixed-size arena) pass false and handle OutOfSpace.
func NewDefaultAllocator(engine Engine, anchor AnchorHandle[AllocatorAnchor], allowGrow bool) *DefaultAllocator {
	a := &DefaultAllocator{engine: engine, anchor: anchor, allowGrow: allowGrow}
	a.meta = &metaAllocator{a: a}
	byPositionAnchor := AnchorMember[AllocatorAnchor, TreeAnchor](anchor, fieldAllocatorByPosition)
	bySizeAnchor := AnchorMember[AllocatorAnchor, TreeAnchor](anchor, fieldAllocatorBySize)
	a.byPosition = NewBTree[extentT, BlockIndex](engine, a.meta, byPositionAnchor, extentByBlock, lessBlockIndex)
	a.bySize = NewBTree[extentT, sizeKey](engine, a.meta, bySizeAnchor, extentBySize, lessSizeKey)
	return a
}

// Stats reports the allocator's current block accounting.
func (a *DefaultAllocator) Stats() AllocatorStats {
	anchor := a.anchor.Get()
	return AllocatorStats{
		TotalBlocks: anchor.TotalBlocks,
		UsedBlocks:  anchor.UsedBlocks,
		FreeBlocks:  anchor.FreeBlocks,
		MetaBlocks:  anchor.MetaBlocks,
	}
}

// Allocate finds or creates a free extent of at least n blocks via
// best-fit search on the size-indexed tree, splitting it if it is
// larger than needed.
func (a *DefaultAllocator) Allocate(n int64) (BlockIndex, error) {
	if n <= 0 {
		return InvalidBlockIndex, &BadArgument{Msg: "allocate requires a positive block count", Arg: n}
	}
	c, err := a.bySize.LowerBound(sizeKey{Size: uint64(n), Block: InvalidBlockIndex})
	if err != nil {
		return InvalidBlockIndex, err
	}
	if !c.Valid() {
		if !a.allowGrow {
			return InvalidBlockIndex, &OutOfSpace{Op: "allocate", Blocks: n}
		}
		if err := a.growUserRegion(n); err != nil {
			return InvalidBlockIndex, err
		}
		return a.Allocate(n)
	}
	ext, err := c.Get()
	if err != nil {
		return InvalidBlockIndex, err
	}
	if err := a.removeExtent(ext); err != nil {
		return InvalidBlockIndex, err
	}
	if ext.Size > uint64(n) {
		remainder := extentT{Block: ext.Block.Add(n), Size: ext.Size - uint64(n)}
		if err := a.insertExtent(remainder); err != nil {
			return InvalidBlockIndex, err
		}
	}

	anchor := a.anchor.Get()
	anchor.FreeBlocks -= uint64(n)
	anchor.UsedBlocks += uint64(n)
	a.anchor.Set(anchor)
	return ext.Block, nil
}

// Free releases the n-block run starting at b, merging it with any
// adjacent free extents.
func (a *DefaultAllocator) Free(b BlockIndex, n int64) error {
	if n <= 0 {
		return &BadArgument{Msg: "free requires a positive block count", Arg: n}
	}
	start, size, err := a.mergeWithNeighbors(b, uint64(n))
	if err != nil {
		return err
	}
	if err := a.insertExtent(extentT{Block: start, Size: size}); err != nil {
		return err
	}
	anchor := a.anchor.Get()
	anchor.FreeBlocks += uint64(n)
	anchor.UsedBlocks -= uint64(n)
	a.anchor.Set(anchor)
	return nil
}

// AddRegion registers an entirely new region of n blocks (for example, a
// chunk appended by growing the underlying file) as free, merging it
// with adjacent free extents exactly like Free.
func (a *DefaultAllocator) AddRegion(b BlockIndex, n int64) error {
	if n <= 0 {
		return &BadArgument{Msg: "region size must be positive", Arg: n}
	}
	start, size, err := a.mergeWithNeighbors(b, uint64(n))
	if err != nil {
		return err
	}
	if err := a.insertExtent(extentT{Block: start, Size: size}); err != nil {
		return err
	}
	anchor := a.anchor.Get()
	anchor.TotalBlocks += uint64(n)
	anchor.FreeBlocks += uint64(n)
	a.anchor.Set(anchor)
	return nil
}

// mergeWithNeighbors removes any free extent adjacent to [b, b+size) from
// the trees and returns the combined (start, size) to be reinserted.
func (a *DefaultAllocator) mergeWithNeighbors(b BlockIndex, size uint64) (BlockIndex, uint64, error) {
	start := b
	left, hasLeft, err := a.findLeftNeighbor(start)
	if err != nil {
		return 0, 0, err
	}
	if hasLeft && left.end() == start {
		if err := a.removeExtent(left); err != nil {
			return 0, 0, err
		}
		start = left.Block
		size += left.Size
	}

	right, hasRight, err := a.findRightNeighbor(start.Add(int64(size)))
	if err != nil {
		return 0, 0, err
	}
	if hasRight && right.Block == start.Add(int64(size)) {
		if err := a.removeExtent(right); err != nil {
			return 0, 0, err
		}
		size += right.Size
	}
	return start, size, nil
}

// Reallocate resizes the n-block run starting at b to newN blocks.
func (a *DefaultAllocator) Reallocate(b BlockIndex, n, newN int64) (BlockIndex, error) {
	if newN == n {
		return b, nil
	}
	if newN < n {
		if err := a.Free(b.Add(newN), n-newN); err != nil {
			return InvalidBlockIndex, err
		}
		return b, nil
	}

	extra := newN - n

	right, hasRight, err := a.findRightNeighbor(b.Add(n))
	if err != nil {
		return InvalidBlockIndex, err
	}
	if hasRight && right.Block == b.Add(n) && right.Size >= uint64(extra) {
		if err := a.removeExtent(right); err != nil {
			return InvalidBlockIndex, err
		}
		if right.Size > uint64(extra) {
			rem := extentT{Block: right.Block.Add(extra), Size: right.Size - uint64(extra)}
			if err := a.insertExtent(rem); err != nil {
				return InvalidBlockIndex, err
			}
		}
		a.adjustUsed(extra)
		return b, nil
	}

	left, hasLeft, err := a.findLeftNeighbor(b)
	if err != nil {
		return InvalidBlockIndex, err
	}
	if hasLeft && left.end() == b && left.Size >= uint64(extra) {
		if err := a.removeExtent(left); err != nil {
			return InvalidBlockIndex, err
		}
		newStart := b.Add(-extra)
		// The n preserved blocks are still physically at [b, b+n); growing
		// into the left neighbor moves the run's start backward, so they
		// must be copied down to [newStart, newStart+n). Forward order is
		// safe even though the ranges overlap: iteration i writes
		// newStart+i, which only ever coincides with a source block
		// b+(i-extra) already read (and, since i-extra < i, already
		// written) in an earlier iteration.
		for i := int64(0); i < n; i++ {
			rh, err := a.engine.Read(b.Add(i))
			if err != nil {
				return InvalidBlockIndex, err
			}
			data := append([]byte(nil), rh.Data()...)
			rh.Release()
			wh, err := a.engine.Overwrite(newStart.Add(i), data)
			if err != nil {
				return InvalidBlockIndex, err
			}
			wh.Release()
		}
		if left.Size > uint64(extra) {
			rem := extentT{Block: left.Block, Size: left.Size - uint64(extra)}
			if err := a.insertExtent(rem); err != nil {
				return InvalidBlockIndex, err
			}
		}
		a.adjustUsed(extra)
		return newStart, nil
	}

	newBlock, err := a.Allocate(newN)
	if err != nil {
		return InvalidBlockIndex, err
	}
	for i := int64(0); i < n; i++ {
		rh, err := a.engine.Read(b.Add(i))
		if err != nil {
			return InvalidBlockIndex, err
		}
		data := append([]byte(nil), rh.Data()...)
		rh.Release()
		wh, err := a.engine.Overwrite(newBlock.Add(i), data)
		if err != nil {
			return InvalidBlockIndex, err
		}
		wh.Release()
	}
	if err := a.Free(b, n); err != nil {
		return InvalidBlockIndex, err
	}
	return newBlock, nil
}

func (a *DefaultAllocator) adjustUsed(extra int64) {
	anchor := a.anchor.Get()
	anchor.FreeBlocks -= uint64(extra)
	anchor.UsedBlocks += uint64(extra)
	a.anchor.Set(anchor)
}

func (a *DefaultAllocator) insertExtent(e extentT) error {
	if _, _, err := a.byPosition.Insert(e); err != nil {
		return err
	}
	if _, _, err := a.bySize.Insert(e); err != nil {
		return err
	}
	return nil
}

func (a *DefaultAllocator) removeExtent(e extentT) error {
	pc, err := a.byPosition.Find(extentByBlock(e))
	if err != nil {
		return err
	}
	if !pc.Valid() {
		return &Corruption{Msg: "free extent missing from position tree"}
	}
	if err := a.byPosition.Erase(pc); err != nil {
		return err
	}
	sc, err := a.bySize.Find(extentBySize(e))
	if err != nil {
		return err
	}
	if !sc.Valid() {
		return &Corruption{Msg: "free extent missing from size tree"}
	}
	return a.bySize.Erase(sc)
}

func (a *DefaultAllocator) findLeftNeighbor(b BlockIndex) (extentT, bool, error) {
	c, err := a.byPosition.LowerBound(b)
	if err != nil {
		return extentT{}, false, err
	}
	if !c.Valid() {
		c, err = a.byPosition.MoveMax()
		if err != nil {
			return extentT{}, false, err
		}
		if !c.Valid() {
			return extentT{}, false, nil
		}
		v, err := c.Get()
		return v, true, err
	}
	if err := c.MovePrev(); err != nil {
		return extentT{}, false, err
	}
	if !c.Valid() {
		return extentT{}, false, nil
	}
	v, err := c.Get()
	return v, true, err
}

func (a *DefaultAllocator) findRightNeighbor(end BlockIndex) (extentT, bool, error) {
	c, err := a.byPosition.LowerBound(end)
	if err != nil {
		return extentT{}, false, err
	}
	if !c.Valid() {
		return extentT{}, false, nil
	}
	v, err := c.Get()
	return v, true, err
}

// growUserRegion extends the underlying file to satisfy an allocation of
// at least n blocks that no existing free extent can fill, rounding the
// new total size up towards the next power of two.
func (a *DefaultAllocator) growUserRegion(n int64) error {
	cur, err := a.engine.Size()
	if err != nil {
		return err
	}
	grow := mathutil.MaxInt64(n, minChunkBlocks)
	target := nextPowerOfTwo(cur + grow)
	grow = target - cur
	if err := a.engine.Grow(grow); err != nil {
		return err
	}
	return a.AddRegion(BlockIndex(cur), grow)
}

func nextPowerOfTwo(n int64) int64 {
	if n <= 1 {
		return 1
	}
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Validate checks the allocator's block accounting and the shape of its
// two free-extent trees.
func (a *DefaultAllocator) Validate() error {
	anchor := a.anchor.Get()
	if anchor.TotalBlocks != anchor.UsedBlocks+anchor.FreeBlocks+anchor.MetaBlocks {
		return &Corruption{Msg: "allocator block accounting does not balance"}
	}
	if err := a.byPosition.Validate(); err != nil {
		return err
	}
	if err := a.bySize.Validate(); err != nil {
		return err
	}
	if a.byPosition.Size() != a.bySize.Size() {
		return &Corruption{Msg: "free extent trees disagree on extent count"}
	}

	cur, err := a.byPosition.MoveMin()
	if err != nil {
		return err
	}
	var prevEnd BlockIndex
	havePrev := false
	for cur.Valid() {
		e, err := cur.Get()
		if err != nil {
			return err
		}
		if havePrev && e.Block <= prevEnd {
			return &Corruption{Msg: "free extents overlap or are adjacent without being merged"}
		}
		prevEnd = e.end()
		havePrev = true
		if err := cur.MoveNext(); err != nil {
			return err
		}
	}
	return nil
}

// metaAllocator satisfies the allocator's own two B+ trees' node
// allocation needs from a small bootstrap free list carried in the
// anchor, replenished by growing the file directly -- never by
// consulting byPosition/bySize, which would recurse back into the
// allocator those trees belong to.
type metaAllocator struct {
	a *DefaultAllocator
}

func (m *metaAllocator) Allocate(n int64) (BlockIndex, error) {
	if n != 1 {
		return InvalidBlockIndex, &Unsupported{Msg: "meta allocator only allocates single blocks"}
	}
	anchor := m.a.anchor.Get()
	if anchor.MetaFreeCount == 0 {
		if err := m.a.growMeta(); err != nil {
			return InvalidBlockIndex, err
		}
		anchor = m.a.anchor.Get()
	}
	anchor.MetaFreeCount--
	idx := anchor.MetaFreeList[anchor.MetaFreeCount]
	m.a.anchor.Set(anchor)
	return idx, nil
}

func (m *metaAllocator) Free(b BlockIndex, n int64) error {
	if n != 1 {
		return &Unsupported{Msg: "meta allocator only frees single blocks"}
	}
	anchor := m.a.anchor.Get()
	if int(anchor.MetaFreeCount) >= metaFreeListCapacity {
		return &Corruption{Msg: "meta free list overflowed its fixed capacity"}
	}
	anchor.MetaFreeList[anchor.MetaFreeCount] = b
	anchor.MetaFreeCount++
	m.a.anchor.Set(anchor)
	return nil
}

func (m *metaAllocator) Reallocate(BlockIndex, int64, int64) (BlockIndex, error) {
	return InvalidBlockIndex, &Unsupported{Msg: "meta allocator does not support reallocation"}
}

// growMeta grows the underlying file by a fixed-size chunk and pushes
// every fresh block onto the meta free list.
func (a *DefaultAllocator) growMeta() error {
	size, err := a.engine.Size()
	if err != nil {
		return err
	}
	start := BlockIndex(size)
	if err := a.engine.Grow(metaChunkBlocks); err != nil {
		return err
	}
	anchor := a.anchor.Get()
	for i := int64(0); i < metaChunkBlocks && int(anchor.MetaFreeCount) < metaFreeListCapacity; i++ {
		anchor.MetaFreeList[anchor.MetaFreeCount] = start.Add(i)
		anchor.MetaFreeCount++
	}
	anchor.TotalBlocks += uint64(metaChunkBlocks)
	anchor.MetaBlocks += uint64(metaChunkBlocks)
	a.anchor.Set(anchor)
	return nil
}
