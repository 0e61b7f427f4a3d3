// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Extent, grounded on the original design's include/prequel/extent.hpp: a
// contiguous run of blocks that can be grown or shrunk in place (or moved,
// if the allocator cannot extend it where it sits), resized through the
// allocator's Reallocate rather than by the extent managing free space
// itself.
package prequel

// ExtentAnchor is the persistent root of an Extent: its starting block
// and block count. The zero value describes an empty extent.
type ExtentAnchor struct {
	Start BlockIndex
	Size  uint64
}

// Extent is a range of contiguous blocks in external storage that can be
// resized dynamically. Newly added blocks are not zeroed; use
// OverwriteZero to initialize them.
type Extent struct {
	engine Engine
	alloc  Allocator
	anchor AnchorHandle[ExtentAnchor]
}

// NewExtent builds an accessor for an extent rooted at anchor.
func NewExtent(engine Engine, alloc Allocator, anchor AnchorHandle[ExtentAnchor]) *Extent {
	return &Extent{engine: engine, alloc: alloc, anchor: anchor}
}

// Empty reports whether the extent occupies zero blocks.
func (e *Extent) Empty() bool { return e.anchor.Get().Size == 0 }

// Size returns the number of blocks in the extent.
func (e *Extent) Size() uint64 { return e.anchor.Get().Size }

// ByteSize returns the number of bytes occupied by the extent.
func (e *Extent) ByteSize() uint64 { return e.Size() * uint64(e.engine.BlockSize()) }

// Data returns the block index of the extent's first block, or
// InvalidBlockIndex if the extent is empty.
func (e *Extent) Data() BlockIndex {
	a := e.anchor.Get()
	if a.Size == 0 {
		return InvalidBlockIndex
	}
	return a.Start
}

// blockAt translates a block-within-extent index to an absolute
// BlockIndex, checking bounds.
func (e *Extent) blockAt(index uint64) (BlockIndex, error) {
	a := e.anchor.Get()
	if index >= a.Size {
		return InvalidBlockIndex, &BadArgument{Msg: "extent index out of bounds", Arg: index}
	}
	return a.Start.Add(int64(index)), nil
}

// Read returns a handle with the current contents of the block at index.
func (e *Extent) Read(index uint64) (BlockHandle, error) {
	b, err := e.blockAt(index)
	if err != nil {
		return BlockHandle{}, err
	}
	return e.engine.Read(b)
}

// OverwriteZero returns a zeroed, already-dirty handle for the block at
// index, skipping the read from disk.
func (e *Extent) OverwriteZero(index uint64) (BlockHandle, error) {
	b, err := e.blockAt(index)
	if err != nil {
		return BlockHandle{}, err
	}
	return e.engine.OverwriteZero(b)
}

// Overwrite returns a dirty handle for the block at index, initialized
// from data.
func (e *Extent) Overwrite(index uint64, data []byte) (BlockHandle, error) {
	b, err := e.blockAt(index)
	if err != nil {
		return BlockHandle{}, err
	}
	return e.engine.Overwrite(b, data)
}

// Clear frees all of the extent's blocks, leaving it empty. Equivalent to
// Reset.
func (e *Extent) Clear() error { return e.Reset() }

// Reset frees all of the extent's blocks and zeroes its anchor.
func (e *Extent) Reset() error {
	a := e.anchor.Get()
	if a.Size == 0 {
		return nil
	}
	if err := e.alloc.Free(a.Start, int64(a.Size)); err != nil {
		return err
	}
	e.anchor.Set(ExtentAnchor{})
	return nil
}

// Resize changes the extent to hold exactly newSize blocks, using the
// allocator's Reallocate (which may move the extent on disk, preserving
// as much content as fits). Newly added blocks are not initialized.
func (e *Extent) Resize(newSize uint64) error {
	a := e.anchor.Get()
	if newSize == a.Size {
		return nil
	}
	if newSize == 0 {
		return e.Reset()
	}
	if a.Size == 0 {
		start, err := e.alloc.Allocate(int64(newSize))
		if err != nil {
			return err
		}
		e.anchor.Set(ExtentAnchor{Start: start, Size: newSize})
		return nil
	}
	newStart, err := e.alloc.Reallocate(a.Start, int64(a.Size), int64(newSize))
	if err != nil {
		return err
	}
	e.anchor.Set(ExtentAnchor{Start: newStart, Size: newSize})
	return nil
}
