// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	e, a := newTestAllocator(t)
	var anchor HeapAnchor
	h := InMemoryAnchorHandle(&anchor, nil)
	return NewHeap(e, a, h)
}

func TestHeapSmallObjectRoundTrip(t *testing.T) {
	h := newTestHeap(t)
	data := []byte("hello, heap")

	ref, err := h.Allocate(data)
	require.NoError(t, err)
	require.True(t, ref.Valid())
	require.False(t, ref.isLarge())

	got, err := h.Get(ref)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))
	require.Equal(t, uint64(1), h.LiveObjects())
}

func TestHeapLargeObjectRoundTrip(t *testing.T) {
	h := newTestHeap(t)
	data := bytes.Repeat([]byte{0xCD}, 5000)

	ref, err := h.Allocate(data)
	require.NoError(t, err)
	require.True(t, ref.isLarge())

	got, err := h.Get(ref)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))
}

func TestHeapSetInPlace(t *testing.T) {
	h := newTestHeap(t)
	ref, err := h.Allocate([]byte("abc"))
	require.NoError(t, err)

	require.NoError(t, h.Set(ref, []byte("xyz")))
	got, err := h.Get(ref)
	require.NoError(t, err)
	require.Equal(t, "xyz", string(got))
}

func TestHeapSetRejectsOversizeForClass(t *testing.T) {
	h := newTestHeap(t)
	ref, err := h.Allocate([]byte("a"))
	require.NoError(t, err)
	require.Error(t, h.Set(ref, bytes.Repeat([]byte{1}, 4096)))
}

func TestHeapFreeReclaimsSlot(t *testing.T) {
	h := newTestHeap(t)
	ref1, err := h.Allocate([]byte("one"))
	require.NoError(t, err)
	require.NoError(t, h.Free(ref1))
	require.Equal(t, uint64(0), h.LiveObjects())

	ref2, err := h.Allocate([]byte("two"))
	require.NoError(t, err)
	require.Equal(t, ref1, ref2)
}

func TestHeapGetInvalidReferenceErrors(t *testing.T) {
	h := newTestHeap(t)
	_, err := h.Get(InvalidReference)
	require.Error(t, err)
}

func TestHeapZeroReferenceNeverProducedByAllocate(t *testing.T) {
	// Regression guard for the InvalidReference == Reference(0) sentinel
	// choice: a genuine allocation must never return the zero reference.
	h := newTestHeap(t)
	for i := 0; i < 20; i++ {
		ref, err := h.Allocate([]byte{byte(i)})
		require.NoError(t, err)
		require.NotEqual(t, InvalidReference, ref)
	}
}
