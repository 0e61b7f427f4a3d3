// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

// TypedHandle is a BlockHandle plus a byte offset within it, giving
// typed Get/Set access to a serializable value that lives at that offset.
// It is the Go analogue of handle<T>.
type TypedHandle[T any] struct {
	block  BlockHandle
	offset int
}

// NewTypedHandle wraps block (which the caller gives up ownership of --
// TypedHandle releases it) as a T located at byte offset within the
// block.
func NewTypedHandle[T any](block BlockHandle, offset int) TypedHandle[T] {
	return TypedHandle[T]{block: block, offset: offset}
}

// Block returns the underlying block handle.
func (h TypedHandle[T]) Block() BlockHandle { return h.block }

// Offset returns the byte offset of the value within its block.
func (h TypedHandle[T]) Offset() int { return h.offset }

// Valid reports whether h refers to a block at all.
func (h TypedHandle[T]) Valid() bool { return h.block.Valid() }

// Get materializes and returns the full value.
func (h TypedHandle[T]) Get() T {
	var v T
	size := SerializedSize[T]()
	Deserialize(h.block.Data()[h.offset:h.offset+size], &v)
	return v
}

// Set overwrites the full value and marks the block dirty.
func (h TypedHandle[T]) Set(v T) {
	size := SerializedSize[T]()
	buf := h.block.WritableData()
	Serialize(v, buf[h.offset:h.offset+size])
}

// Clone returns a new handle to the same value, retaining the underlying
// block.
func (h TypedHandle[T]) Clone() TypedHandle[T] {
	return TypedHandle[T]{block: h.block.Clone(), offset: h.offset}
}

// Release releases the underlying block handle.
func (h TypedHandle[T]) Release() { h.block.Release() }

// Member returns a handle to the fieldIndex-th exported field of T (in
// declaration order), without materializing the rest of T -- the Go
// analogue of handle<T>::member<&T::m>(). The returned handle retains its
// own reference to the underlying block.
func Member[T any, M any](h TypedHandle[T], fieldIndex int) TypedHandle[M] {
	return TypedHandle[M]{block: h.block.Clone(), offset: h.offset + FieldOffset[T](fieldIndex)}
}

// GetMember reads the fieldIndex-th field of T directly, without
// materializing the whole struct. The Go analogue of
// handle<T>::get<&T::m>().
func GetMember[T any, M any](h TypedHandle[T], fieldIndex int) M {
	off := h.offset + FieldOffset[T](fieldIndex)
	var v M
	Deserialize(h.block.Data()[off:off+SerializedSize[M]()], &v)
	return v
}

// SetMember writes the fieldIndex-th field of T directly, marking the
// block dirty, without materializing or rewriting the whole struct. The Go
// analogue of handle<T>::set<&T::m>(v).
func SetMember[T any, M any](h TypedHandle[T], fieldIndex int, v M) {
	off := h.offset + FieldOffset[T](fieldIndex)
	buf := h.block.WritableData()
	Serialize(v, buf[off:off+SerializedSize[M]()])
}
