// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

// Allocator hands out and reclaims runs of contiguous blocks.
// DefaultAllocator is the library's best-fit implementation;
// containers are written against this interface so that an embedder could
// substitute a different strategy (e.g. a bump allocator over a scratch
// region) without changing container code.
type Allocator interface {
	// Allocate returns the index of a freshly allocated run of n
	// contiguous blocks.
	Allocate(n int64) (BlockIndex, error)

	// Reallocate resizes the n-block run starting at b to newN blocks,
	// preserving the content of the first min(n, newN) blocks, and
	// returns the (possibly different) index of the resized run.
	Reallocate(b BlockIndex, n, newN int64) (BlockIndex, error)

	// Free releases the n-block run starting at b.
	Free(b BlockIndex, n int64) error
}

// extentT is the allocator's internal record of a free extent: a run of
// contiguous blocks. It overrides the default field-wise encoding and
// reserves the high bit of the size field for an "indexed in size tree"
// flag. This implementation never sets that flag (both trees always carry
// every free extent): EncodeBinary clears the bit and DecodeBinary reads
// the field back as is. The override is kept as a concrete example of a
// custom BinaryEncoder.
type extentT struct {
	Block BlockIndex
	Size  uint64
}

const extentFlagBit = uint64(1) << 63

func (e extentT) BinarySize() int { return 8 + 8 }

func (e *extentT) EncodeBinary(buf []byte) {
	e.Block.EncodeBinary(buf[0:8])
	size := e.Size &^ extentFlagBit
	putBE64(buf[8:16], size)
}

func (e *extentT) DecodeBinary(buf []byte) {
	e.Block.DecodeBinary(buf[0:8])
	e.Size = be64(buf[8:16])
}

func putBE64(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}

func be64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}

func (e extentT) end() BlockIndex { return e.Block.Add(int64(e.Size)) }

// extentByBlock derives the position-tree key (the extent's starting
// block; block indices of free extents are unique).
func extentByBlock(e extentT) BlockIndex { return e.Block }

// sizeKey orders free extents by (size, start) for best-fit search.
type sizeKey struct {
	Size  uint64
	Block BlockIndex
}

func extentBySize(e extentT) sizeKey { return sizeKey{Size: e.Size, Block: e.Block} }

func lessSizeKey(a, b sizeKey) bool {
	if a.Size != b.Size {
		return a.Size < b.Size
	}
	return a.Block < b.Block
}

func lessBlockIndex(a, b BlockIndex) bool { return a < b }
