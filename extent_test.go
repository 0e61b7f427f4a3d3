// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestExtent(t *testing.T) *Extent {
	t.Helper()
	e, a := newTestAllocator(t)
	var anchor ExtentAnchor
	h := InMemoryAnchorHandle(&anchor, nil)
	return NewExtent(e, a, h)
}

func TestExtentEmptyByDefault(t *testing.T) {
	ext := newTestExtent(t)
	require.True(t, ext.Empty())
	require.Equal(t, uint64(0), ext.Size())
	require.False(t, ext.Data().Valid())
}

func TestExtentResizeGrowShrink(t *testing.T) {
	ext := newTestExtent(t)
	require.NoError(t, ext.Resize(4))
	require.Equal(t, uint64(4), ext.Size())

	h, err := ext.OverwriteZero(0)
	require.NoError(t, err)
	h.WritableData()[0] = 9
	h.Release()

	require.NoError(t, ext.Resize(8))
	require.Equal(t, uint64(8), ext.Size())
	h2, err := ext.Read(0)
	require.NoError(t, err)
	require.Equal(t, byte(9), h2.Data()[0])
	h2.Release()

	require.NoError(t, ext.Resize(1))
	require.Equal(t, uint64(1), ext.Size())
}

func TestExtentResizeToZeroResets(t *testing.T) {
	ext := newTestExtent(t)
	require.NoError(t, ext.Resize(3))
	require.NoError(t, ext.Resize(0))
	require.True(t, ext.Empty())
}

func TestExtentReadWriteOutOfBounds(t *testing.T) {
	ext := newTestExtent(t)
	require.NoError(t, ext.Resize(2))
	_, err := ext.Read(5)
	require.Error(t, err)
}
