// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type ffUserData struct {
	RootList ListAnchor
	Counter  uint64
}

func TestOpenFileFormatInitializesEmptyFile(t *testing.T) {
	f := NewMemFile()
	e, err := NewBufferedEngine(f, allocBlockSize, EngineOptions{})
	require.NoError(t, err)

	ff, err := OpenFileFormat[ffUserData](e, "prequeltest")
	require.NoError(t, err)
	require.Equal(t, uint32(fileFormatVersion), ff.Version())

	sz, err := e.Size()
	require.NoError(t, err)
	require.Equal(t, int64(1), sz)

	require.NoError(t, ff.Close())
}

func TestOpenFileFormatReopenValidates(t *testing.T) {
	f := NewMemFile()
	e1, err := NewBufferedEngine(f, allocBlockSize, EngineOptions{})
	require.NoError(t, err)
	ff1, err := OpenFileFormat[ffUserData](e1, "prequeltest")
	require.NoError(t, err)

	ud := ff1.UserData()
	v := ud.Get()
	v.Counter = 42
	ud.Set(v)
	require.NoError(t, ff1.Close())

	e2, err := NewBufferedEngine(f, allocBlockSize, EngineOptions{})
	require.NoError(t, err)
	ff2, err := OpenFileFormat[ffUserData](e2, "prequeltest")
	require.NoError(t, err)
	require.Equal(t, uint64(42), ff2.UserData().Get().Counter)
	require.NoError(t, ff2.Close())
}

func TestOpenFileFormatRejectsWrongMagic(t *testing.T) {
	f := NewMemFile()
	e1, err := NewBufferedEngine(f, allocBlockSize, EngineOptions{})
	require.NoError(t, err)
	ff1, err := OpenFileFormat[ffUserData](e1, "one-magic")
	require.NoError(t, err)
	require.NoError(t, ff1.Close())

	e2, err := NewBufferedEngine(f, allocBlockSize, EngineOptions{})
	require.NoError(t, err)
	_, err = OpenFileFormat[ffUserData](e2, "other-magic")
	require.Error(t, err)
	var corrupt *Corruption
	require.ErrorAs(t, err, &corrupt)
}

func TestOpenFileFormatRejectsWrongBlockSize(t *testing.T) {
	f := NewMemFile()
	e1, err := NewBufferedEngine(f, allocBlockSize, EngineOptions{})
	require.NoError(t, err)
	ff1, err := OpenFileFormat[ffUserData](e1, "prequeltest")
	require.NoError(t, err)
	require.NoError(t, ff1.Close())

	e2, err := NewBufferedEngine(f, allocBlockSize/2, EngineOptions{})
	require.NoError(t, err)
	_, err = OpenFileFormat[ffUserData](e2, "prequeltest")
	require.Error(t, err)
}

func TestFileFormatAllocatorAllocatesThroughMasterBlock(t *testing.T) {
	f := NewMemFile()
	e, err := NewBufferedEngine(f, allocBlockSize, EngineOptions{})
	require.NoError(t, err)
	ff, err := OpenFileFormat[ffUserData](e, "prequeltest")
	require.NoError(t, err)

	b, err := ff.Allocator().Allocate(3)
	require.NoError(t, err)
	require.True(t, b.Valid())
	require.NoError(t, ff.Allocator().Free(b, 3))
	require.NoError(t, ff.Close())
}

func TestFileFormatUserDataRootsAContainer(t *testing.T) {
	f := NewMemFile()
	e, err := NewBufferedEngine(f, allocBlockSize, EngineOptions{})
	require.NoError(t, err)
	ff, err := OpenFileFormat[ffUserData](e, "prequeltest")
	require.NoError(t, err)

	listAnchor := AnchorMember[ffUserData, ListAnchor](ff.UserData(), 0)
	list := NewList[uint64](ff.Engine(), ff.Allocator(), listAnchor)
	require.NoError(t, list.PushBack(1))
	require.NoError(t, list.PushBack(2))
	require.Equal(t, uint64(2), list.Size())
	require.NoError(t, ff.Flush())
	require.NoError(t, ff.Close())
}
