// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testBlockSize = 256

// allocBlockSize is used by every test that builds a DefaultAllocator (or
// anything layered on one, like a BTree-backed container or a
// FileFormat): AllocatorAnchor alone, with its embedded
// [64]BlockIndex bootstrap free list and two TreeAnchors, is already
// several hundred bytes, so these tests need more room per block than the
// plain engine tests above do.
const allocBlockSize = 4096

// newTestEngine returns a fresh BufferedEngine over an empty MemFile,
// shared by every container's tests in this package.
func newTestEngine(t *testing.T) *BufferedEngine {
	t.Helper()
	e, err := NewBufferedEngine(NewMemFile(), testBlockSize, EngineOptions{})
	require.NoError(t, err)
	return e
}

// newAllocTestEngine returns a fresh BufferedEngine sized for
// allocator-backed tests.
func newAllocTestEngine(t *testing.T) *BufferedEngine {
	t.Helper()
	e, err := NewBufferedEngine(NewMemFile(), allocBlockSize, EngineOptions{})
	require.NoError(t, err)
	return e
}

// newTestAllocator returns a DefaultAllocator over a fresh engine, with an
// in-memory anchor (no master block involved). Block 0 is reserved up front
// as a stand-in for the master block, so the allocator never hands it out;
// the allocator is allowed to grow the file, so the first Allocate adds a
// region after it.
func newTestAllocator(t *testing.T) (*BufferedEngine, *DefaultAllocator) {
	t.Helper()
	e := newAllocTestEngine(t)
	require.NoError(t, e.Grow(1))
	var anchor AllocatorAnchor
	h := InMemoryAnchorHandle(&anchor, nil)
	a := NewDefaultAllocator(e, h, true)
	return e, a
}

func TestBufferedEngineGrowReadWrite(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Grow(2))
	sz, err := e.Size()
	require.NoError(t, err)
	require.Equal(t, int64(2), sz)

	h, err := e.OverwriteZero(BlockIndex(0))
	require.NoError(t, err)
	buf := h.WritableData()
	buf[0] = 0xAB
	h.Release()

	h2, err := e.Read(BlockIndex(0))
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), h2.Data()[0])
	h2.Release()
}

func TestBufferedEngineFlushPersists(t *testing.T) {
	file := NewMemFile()
	e, err := NewBufferedEngine(file, testBlockSize, EngineOptions{})
	require.NoError(t, err)
	require.NoError(t, e.Grow(1))

	h, err := e.OverwriteZero(BlockIndex(0))
	require.NoError(t, err)
	h.WritableData()[1] = 0x42
	h.Release()
	require.NoError(t, e.Flush())

	e2, err := NewBufferedEngine(file, testBlockSize, EngineOptions{})
	require.NoError(t, err)
	h2, err := e2.Read(BlockIndex(0))
	require.NoError(t, err)
	require.Equal(t, byte(0x42), h2.Data()[1])
	h2.Release()
}

func TestBufferedEngineEvictsUnpinnedBlocks(t *testing.T) {
	e, err := NewBufferedEngine(NewMemFile(), testBlockSize, EngineOptions{CacheSize: 2})
	require.NoError(t, err)
	require.NoError(t, e.Grow(5))

	for i := int64(0); i < 5; i++ {
		h, err := e.OverwriteZero(BlockIndex(i))
		require.NoError(t, err)
		h.Release()
	}
	require.NoError(t, e.Flush())
	require.LessOrEqual(t, len(e.blocks), 2)
}

func TestBufferedEngineOverwriteRejectsWrongSize(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Grow(1))
	_, err := e.Overwrite(BlockIndex(0), make([]byte, testBlockSize-1))
	require.Error(t, err)
}
