// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// B+ tree node layout, grounded on the original design's
// src/btree/leaf_node.hpp: a small header followed by a packed array,
// mutated directly through byte slices rather than through the generic
// reflective binary format (the array length is a runtime capacity, not a
// compile-time field count, so TypedHandle's member-at-a-time access does
// not apply here).
package prequel

import "github.com/cznic/mathutil"

const (
	leafHeaderSize     = 4 + 8 + 8 // count uint32, prev BlockIndex, next BlockIndex
	internalHeaderSize = 4         // count uint32
)

// leafCapacity returns the largest number of values of valueSize bytes
// that fit in a block of blockSize bytes alongside the leaf header.
func leafCapacity(blockSize uint32, valueSize int) int {
	avail := mathutil.Max(int(blockSize)-leafHeaderSize, 0)
	if avail < valueSize {
		return 0
	}
	return avail / valueSize
}

// internalCapacity returns the largest number of (key, child) entries that
// fit in a block alongside the internal header.
func internalCapacity(blockSize uint32, keySize int) int {
	avail := mathutil.Max(int(blockSize)-internalHeaderSize, 0)
	entry := keySize + 8 // key + BlockIndex child
	if avail < entry {
		return 0
	}
	return avail / entry
}

// leafNode is a thin accessor over a BlockHandle holding a leaf's bytes.
type leafNode struct {
	block     BlockHandle
	valueSize int
}

func (n leafNode) count() int {
	return int(be32(n.block.Data()[0:4]))
}

func (n leafNode) setCount(c int) {
	putBE32(n.block.WritableData()[0:4], uint32(c))
}

func (n leafNode) prev() BlockIndex {
	var idx BlockIndex
	idx.DecodeBinary(n.block.Data()[4:12])
	return idx
}

func (n leafNode) setPrev(idx BlockIndex) {
	idx.EncodeBinary(n.block.WritableData()[4:12])
}

func (n leafNode) next() BlockIndex {
	var idx BlockIndex
	idx.DecodeBinary(n.block.Data()[12:20])
	return idx
}

func (n leafNode) setNext(idx BlockIndex) {
	idx.EncodeBinary(n.block.WritableData()[12:20])
}

func (n leafNode) valueOffset(i int) int { return leafHeaderSize + i*n.valueSize }

func (n leafNode) rawValue(i int) []byte {
	off := n.valueOffset(i)
	return n.block.Data()[off : off+n.valueSize]
}

func (n leafNode) setRawValue(i int, v []byte) {
	off := n.valueOffset(i)
	copy(n.block.WritableData()[off:off+n.valueSize], v)
}

func (n leafNode) init() {
	n.setCount(0)
	n.setPrev(InvalidBlockIndex)
	n.setNext(InvalidBlockIndex)
}

// insertAt shifts values [index, count) right by one slot and stores raw
// at index. Caller must ensure count() < capacity before calling.
func (n leafNode) insertAt(index int, raw []byte) {
	c := n.count()
	for i := c; i > index; i-- {
		n.setRawValue(i, n.rawValue(i-1))
	}
	n.setRawValue(index, raw)
	n.setCount(c + 1)
}

// removeAt shifts values (index, count) left by one slot, dropping the
// value at index.
func (n leafNode) removeAt(index int) {
	c := n.count()
	for i := index; i < c-1; i++ {
		n.setRawValue(i, n.rawValue(i+1))
	}
	n.setCount(c - 1)
}

// internalNode is a thin accessor over a BlockHandle holding an internal
// node's bytes: header, then `count` keys, then `count` children.
type internalNode struct {
	block   BlockHandle
	keySize int
	maxKeys int
}

func (n internalNode) count() int {
	return int(be32(n.block.Data()[0:4]))
}

func (n internalNode) setCount(c int) {
	putBE32(n.block.WritableData()[0:4], uint32(c))
}

func (n internalNode) keyOffset(i int) int { return internalHeaderSize + i*n.keySize }
func (n internalNode) childOffset(i int) int {
	return internalHeaderSize + n.maxKeys*n.keySize + i*8
}

func (n internalNode) rawKey(i int) []byte {
	off := n.keyOffset(i)
	return n.block.Data()[off : off+n.keySize]
}

func (n internalNode) setRawKey(i int, k []byte) {
	off := n.keyOffset(i)
	copy(n.block.WritableData()[off:off+n.keySize], k)
}

func (n internalNode) child(i int) BlockIndex {
	var idx BlockIndex
	idx.DecodeBinary(n.block.Data()[n.childOffset(i) : n.childOffset(i)+8])
	return idx
}

func (n internalNode) setChild(i int, c BlockIndex) {
	off := n.childOffset(i)
	c.EncodeBinary(n.block.WritableData()[off : off+8])
}

func (n internalNode) init() { n.setCount(0) }

func (n internalNode) insertAt(index int, rawKey []byte, child BlockIndex) {
	c := n.count()
	for i := c; i > index; i-- {
		n.setRawKey(i, n.rawKey(i-1))
		n.setChild(i, n.child(i-1))
	}
	n.setRawKey(index, rawKey)
	n.setChild(index, child)
	n.setCount(c + 1)
}

func (n internalNode) removeAt(index int) {
	c := n.count()
	for i := index; i < c-1; i++ {
		n.setRawKey(i, n.rawKey(i+1))
		n.setChild(i, n.child(i+1))
	}
	n.setCount(c - 1)
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
