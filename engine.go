// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

// Engine owns a cache of pinned blocks and mediates every read and write
// against a File. It is not safe for concurrent use from more than one
// goroutine; the entire engine, and every container built on top of it,
// is owned by at most one goroutine at a time.
type Engine interface {
	// BlockSize returns the fixed block size of this engine, in bytes.
	BlockSize() uint32

	// Size returns the number of blocks currently in the file.
	Size() (int64, error)

	// Grow extends the file by n blocks. Freshly grown blocks need not be
	// zeroed on disk, but a freshly read handle for one of them must
	// observe zeros (or the last-written content, if any).
	Grow(n int64) error

	// Read returns a handle with the current contents of block i,
	// reading through the cache.
	Read(i BlockIndex) (BlockHandle, error)

	// OverwriteZero returns a handle whose buffer is zeroed and already
	// marked dirty; it skips the disk read entirely.
	OverwriteZero(i BlockIndex) (BlockHandle, error)

	// Overwrite is like OverwriteZero but initializes the buffer from
	// data, which must be exactly BlockSize() bytes.
	Overwrite(i BlockIndex, data []byte) (BlockHandle, error)

	// Flush writes every dirty block, and on backends with separate file
	// metadata, that metadata too. After Flush returns, every block
	// dirtied before the call is durable.
	Flush() error

	// Close flushes (best effort) and releases the underlying File.
	Close() error
}

// blockBuffer is the backend-specific representation pinned by a
// BlockHandle. Buffered and memory-map engines each implement it
// differently; BlockHandle itself is backend-agnostic.
type blockBuffer interface {
	index() BlockIndex
	data() []byte
	writableData() []byte
	dirty() bool
	retain()
	release()
}

// BlockHandle is a reference-counted, dirty-trackable view of a pinned
// block. As long as at least one handle to a block exists,
// its bytes live at a stable location in memory. Go has no destructors, so
// unlike the original design a handle's pin is released explicitly by
// calling Release -- callers should `defer h.Release()` immediately after
// acquiring a handle whose scope is lexical. See DESIGN.md for the
// rationale.
type BlockHandle struct {
	buf blockBuffer
}

// Index returns the block index this handle refers to.
func (h BlockHandle) Index() BlockIndex { return h.buf.index() }

// Data returns the block's current bytes for reading. The returned slice
// is only valid until the handle is released.
func (h BlockHandle) Data() []byte { return h.buf.data() }

// WritableData returns the block's bytes for mutation and marks the
// underlying buffer dirty.
func (h BlockHandle) WritableData() []byte { return h.buf.writableData() }

// Dirty reports whether the underlying buffer has unflushed writes.
func (h BlockHandle) Dirty() bool { return h.buf.dirty() }

// Clone returns a new handle to the same buffer, incrementing its
// refcount. The clone must be released independently of the original.
func (h BlockHandle) Clone() BlockHandle {
	h.buf.retain()
	return h
}

// Release decrements the buffer's refcount. Once the last handle to a
// block is released, the engine is free to evict its buffer.
func (h BlockHandle) Release() {
	if h.buf != nil {
		h.buf.release()
	}
}

// Valid reports whether h refers to a buffer at all (the zero BlockHandle
// is invalid).
func (h BlockHandle) Valid() bool { return h.buf != nil }

// deferredError captures the first error observed during an operation that
// cannot itself report failure (e.g. the eviction of a dirty buffer
// triggered by the release of its last handle) and re-raises it on the
// next externally-initiated engine operation, since Go's lack of
// destructors means there is no other place to surface it.
type deferredError struct {
	err error
}

func (d *deferredError) capture(err error) {
	if err != nil && d.err == nil {
		d.err = err
	}
}

func (d *deferredError) take() error {
	err := d.err
	d.err = nil
	return err
}
