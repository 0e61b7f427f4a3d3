// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"container/list"

	"github.com/sirupsen/logrus"
)

// EngineOptions configures a BufferedEngine, mirroring dbm/options.go's
// plain option struct.
type EngineOptions struct {
	// CacheSize is the number of block buffers (pinned or not) the
	// engine keeps in memory before it starts evicting the
	// least-recently-used unpinned ones. Pinned buffers are never
	// evicted, so the cache can exceed this size while they are held.
	CacheSize int

	// Logger, if non-nil, receives diagnostics about deferred write
	// failures during eviction. Nil by default -- the engine is silent
	// unless a caller opts in.
	Logger *logrus.Logger
}

func (o EngineOptions) withDefaults() EngineOptions {
	if o.CacheSize <= 0 {
		o.CacheSize = 128
	}
	return o
}

// bufferedBuffer is the blockBuffer implementation backing BufferedEngine.
type bufferedBuffer struct {
	engine   *BufferedEngine
	idx      BlockIndex
	buf      []byte
	isDirty  bool
	refcount int32
	lruElem  *list.Element // non-nil while refcount == 0 and present in the LRU list
}

func (b *bufferedBuffer) index() BlockIndex { return b.idx }
func (b *bufferedBuffer) data() []byte      { return b.buf }

func (b *bufferedBuffer) writableData() []byte {
	if !b.isDirty {
		b.isDirty = true
		b.engine.dirty[b.idx] = b
	}
	return b.buf
}

func (b *bufferedBuffer) dirty() bool { return b.isDirty }

func (b *bufferedBuffer) retain() {
	if b.refcount == 0 && b.lruElem != nil {
		b.engine.lru.Remove(b.lruElem)
		b.lruElem = nil
	}
	b.refcount++
}

func (b *bufferedBuffer) release() {
	b.refcount--
	if b.refcount < 0 {
		panic("prequel: BlockHandle released more times than acquired")
	}
	if b.refcount == 0 {
		b.engine.unpin(b)
	}
}

// BufferedEngine is the standard Engine backend: an LRU cache of block
// buffers over an ordinary File, with explicit dirty tracking.
type BufferedEngine struct {
	file      File
	blockSize uint32
	opts      EngineOptions

	blocks map[BlockIndex]*bufferedBuffer
	dirty  map[BlockIndex]*bufferedBuffer
	lru    *list.List // least-recently-used unpinned buffers; front = most recently used
	pool   [][]byte   // free buffer pool to reduce allocation churn

	deferred deferredError
}

// NewBufferedEngine wraps file as an Engine with the given fixed block
// size. file's size must already be a multiple of blockSize.
func NewBufferedEngine(file File, blockSize uint32, opts EngineOptions) (*BufferedEngine, error) {
	if blockSize < 64 || blockSize&(blockSize-1) != 0 {
		return nil, &BadArgument{Msg: "block size must be a power of two >= 64", Arg: blockSize}
	}
	sz, err := file.Size()
	if err != nil {
		return nil, err
	}
	if sz%int64(blockSize) != 0 {
		return nil, &Corruption{Msg: "file size is not a multiple of the block size"}
	}
	return &BufferedEngine{
		file:      file,
		blockSize: blockSize,
		opts:      opts.withDefaults(),
		blocks:    make(map[BlockIndex]*bufferedBuffer),
		dirty:     make(map[BlockIndex]*bufferedBuffer),
		lru:       list.New(),
	}, nil
}

func (e *BufferedEngine) BlockSize() uint32 { return e.blockSize }

func (e *BufferedEngine) Size() (int64, error) {
	if err := e.deferred.take(); err != nil {
		return 0, err
	}
	sz, err := e.file.Size()
	if err != nil {
		return 0, err
	}
	return sz / int64(e.blockSize), nil
}

func (e *BufferedEngine) Grow(n int64) error {
	if err := e.deferred.take(); err != nil {
		return err
	}
	if n < 0 {
		return &BadArgument{Msg: "Grow: negative block count", Arg: n}
	}
	sz, err := e.file.Size()
	if err != nil {
		return err
	}
	return e.file.Truncate(sz + n*int64(e.blockSize))
}

func (e *BufferedEngine) allocBuf() []byte {
	if n := len(e.pool); n > 0 {
		b := e.pool[n-1]
		e.pool = e.pool[:n-1]
		return b
	}
	return make([]byte, e.blockSize)
}

func (e *BufferedEngine) newBuffer(idx BlockIndex, isDirty bool) *bufferedBuffer {
	b := &bufferedBuffer{engine: e, idx: idx, buf: e.allocBuf(), isDirty: isDirty, refcount: 1}
	e.blocks[idx] = b
	if isDirty {
		e.dirty[idx] = b
	}
	return b
}

func (e *BufferedEngine) Read(i BlockIndex) (BlockHandle, error) {
	if err := e.deferred.take(); err != nil {
		return BlockHandle{}, err
	}
	if b, ok := e.blocks[i]; ok {
		b.retain()
		return BlockHandle{buf: b}, nil
	}
	b := e.newBuffer(i, false)
	if _, err := e.file.ReadAt(b.buf, int64(i)*int64(e.blockSize)); err != nil {
		delete(e.blocks, i)
		return BlockHandle{}, err
	}
	e.evictIfNeeded()
	return BlockHandle{buf: b}, nil
}

func (e *BufferedEngine) OverwriteZero(i BlockIndex) (BlockHandle, error) {
	if err := e.deferred.take(); err != nil {
		return BlockHandle{}, err
	}
	if b, ok := e.blocks[i]; ok {
		b.retain()
		buf := b.writableData()
		for j := range buf {
			buf[j] = 0
		}
		return BlockHandle{buf: b}, nil
	}
	b := e.newBuffer(i, true)
	for j := range b.buf {
		b.buf[j] = 0
	}
	e.evictIfNeeded()
	return BlockHandle{buf: b}, nil
}

func (e *BufferedEngine) Overwrite(i BlockIndex, data []byte) (BlockHandle, error) {
	if uint32(len(data)) != e.blockSize {
		return BlockHandle{}, &BadArgument{Msg: "Overwrite: data must be exactly one block", Arg: len(data)}
	}
	h, err := e.OverwriteZero(i)
	if err != nil {
		return h, err
	}
	copy(h.WritableData(), data)
	return h, nil
}

// unpin is called once a buffer's refcount drops to zero. Every unpinned
// buffer, clean or dirty, joins the LRU list for possible eviction; a
// dirty buffer is written back to the file when it is evicted.
func (e *BufferedEngine) unpin(b *bufferedBuffer) {
	b.lruElem = e.lru.PushFront(b)
	e.evictIfNeeded()
}

func (e *BufferedEngine) evictIfNeeded() {
	for e.lru.Len() > 0 && len(e.blocks) > e.opts.CacheSize {
		back := e.lru.Back()
		b := back.Value.(*bufferedBuffer)
		e.lru.Remove(back)
		b.lruElem = nil
		if b.isDirty {
			if err := e.writeBack(b); err != nil {
				// A write failure here cannot be reported synchronously:
				// the caller already dropped its last reference. Capture
				// it for the next externally-initiated operation.
				e.deferred.capture(err)
				if e.opts.Logger != nil {
					e.opts.Logger.WithError(err).WithField("block", b.idx).
						Warn("prequel: deferred write-back failure during eviction")
				}
			}
		}
		delete(e.blocks, b.idx)
		delete(e.dirty, b.idx)
		e.pool = append(e.pool, b.buf)
	}
}

func (e *BufferedEngine) writeBack(b *bufferedBuffer) error {
	_, err := e.file.WriteAt(b.buf, int64(b.idx)*int64(e.blockSize))
	if err == nil {
		b.isDirty = false
	}
	return err
}

func (e *BufferedEngine) Flush() error {
	if err := e.deferred.take(); err != nil {
		return err
	}
	for idx, b := range e.dirty {
		if err := e.writeBack(b); err != nil {
			return err
		}
		delete(e.dirty, idx)
	}
	return e.file.Sync()
}

func (e *BufferedEngine) Close() error {
	err := e.Flush()
	if cerr := e.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// snapshotDirty returns the current set of dirty blocks, keyed by index,
// without clearing dirty state. Used by TransactionalEngine to build a
// journal entry list before promoting the writes.
func (e *BufferedEngine) snapshotDirty() map[BlockIndex][]byte {
	out := make(map[BlockIndex][]byte, len(e.dirty))
	for idx, b := range e.dirty {
		cp := make([]byte, len(b.buf))
		copy(cp, b.buf)
		out[idx] = cp
	}
	return out
}

// hasPinnedBlocks reports whether any block currently has a live handle
// (refcount > 0). TransactionalEngine.Commit and .Rollback both require
// this to be false: an application must drop all cursors and handles
// before committing a transaction, because the commit needs exclusive
// access to the dirty set.
func (e *BufferedEngine) hasPinnedBlocks() bool {
	for _, b := range e.blocks {
		if b.refcount > 0 {
			return true
		}
	}
	return false
}

// discardDirty drops every dirty buffer from the cache without writing it
// back, leaving the underlying file exactly as it was before those blocks
// were dirtied. Used by TransactionalEngine.Rollback.
func (e *BufferedEngine) discardDirty() {
	for idx, b := range e.dirty {
		if b.lruElem != nil {
			e.lru.Remove(b.lruElem)
		}
		delete(e.blocks, idx)
		e.pool = append(e.pool, b.buf)
	}
	e.dirty = make(map[BlockIndex]*bufferedBuffer)
}

var _ Engine = (*BufferedEngine)(nil)
