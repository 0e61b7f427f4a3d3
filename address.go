// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import "fmt"

// invalidRaw is the reserved sentinel meaning "no address". Ordered before
// every valid (non-negative) offset by the +1 trick used throughout this
// package for BlockIndex and RawAddress alike.
const invalidRaw uint64 = ^uint64(0)

// RawAddress is an untyped byte offset into the logical file.
type RawAddress struct {
	value uint64
}

// InvalidAddress is the reserved "no address" value.
var InvalidAddress = RawAddress{value: invalidRaw}

// NewRawAddress returns a RawAddress pointing at the given byte offset.
func NewRawAddress(offset uint64) RawAddress { return RawAddress{value: offset} }

// Valid reports whether a refers to an actual byte offset.
func (a RawAddress) Valid() bool { return a.value != invalidRaw }

// Value returns the raw byte offset.
func (a RawAddress) Value() uint64 { return a.value }

// Add returns a advanced by n bytes. a must be valid.
func (a RawAddress) Add(n int64) RawAddress { return RawAddress{value: a.value + uint64(n)} }

// Less reports whether a orders before b. InvalidAddress orders first.
func (a RawAddress) Less(b RawAddress) bool { return (a.value + 1) < (b.value + 1) }

func (a RawAddress) String() string {
	if !a.Valid() {
		return "<invalid-addr>"
	}
	return fmt.Sprintf("addr#%d", a.value)
}

func (a RawAddress) BinarySize() int { return 8 }

func (a *RawAddress) EncodeBinary(buf []byte) {
	v := a.value
	buf[0] = byte(v >> 56)
	buf[1] = byte(v >> 48)
	buf[2] = byte(v >> 40)
	buf[3] = byte(v >> 32)
	buf[4] = byte(v >> 24)
	buf[5] = byte(v >> 16)
	buf[6] = byte(v >> 8)
	buf[7] = byte(v)
}

func (a *RawAddress) DecodeBinary(buf []byte) {
	a.value = uint64(buf[0])<<56 | uint64(buf[1])<<48 | uint64(buf[2])<<40 | uint64(buf[3])<<32 |
		uint64(buf[4])<<24 | uint64(buf[5])<<16 | uint64(buf[6])<<8 | uint64(buf[7])
}

// ToBlockAddress converts a block index plus an in-block byte offset to a
// RawAddress, given the file's block size.
func ToBlockAddress(index BlockIndex, offsetInBlock uint32, blockSize uint32) RawAddress {
	return NewRawAddress(uint64(index)*uint64(blockSize) + uint64(offsetInBlock))
}

// SplitBlockAddress decomposes a into its containing block index and the
// byte offset within that block, given the file's block size.
func SplitBlockAddress(a RawAddress, blockSize uint32) (index BlockIndex, offsetInBlock uint32) {
	return BlockIndex(a.value / uint64(blockSize)), uint32(a.value % uint64(blockSize))
}

// Address is a RawAddress annotated, purely at compile time, with the
// element type T it points to. It carries no ownership semantics; it is a
// passive description of where a serialized T lives.
type Address[T any] struct {
	Raw RawAddress
}

// NewAddress wraps a raw address as pointing to a T.
func NewAddress[T any](raw RawAddress) Address[T] { return Address[T]{Raw: raw} }

// Valid reports whether the address is usable.
func (a Address[T]) Valid() bool { return a.Raw.Valid() }

// Add advances the address by n elements of T (not bytes).
func (a Address[T]) Add(n int64) Address[T] {
	return Address[T]{Raw: a.Raw.Add(n * int64(SerializedSize[T]()))}
}

func (a Address[T]) String() string { return a.Raw.String() }

// AddressMember projects the address of a field inside the T that addr
// points to, given that field's declaration-order index within T. This is
// the Go equivalent of addr.member<&T::m>(): it requires the caller to know
// which field they mean (there is no compile-time member-pointer syntax in
// Go) but the resulting offset is computed exactly the way FieldOffset
// computes it for every other consumer of the binary format.
func AddressMember[T any, M any](addr Address[T], fieldIndex int) Address[M] {
	return Address[M]{Raw: addr.Raw.Add(int64(FieldOffset[T](fieldIndex)))}
}
