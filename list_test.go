// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestList(t *testing.T) *List[uint64] {
	t.Helper()
	e, a := newTestAllocator(t)
	var anchor ListAnchor
	h := InMemoryAnchorHandle(&anchor, nil)
	return NewList[uint64](e, a, h)
}

func TestListEmptyFrontBackError(t *testing.T) {
	l := newTestList(t)
	require.True(t, l.Empty())

	_, err := l.Front()
	require.Error(t, err)
	_, err = l.Back()
	require.Error(t, err)
	require.Error(t, l.PopFront())
	require.Error(t, l.PopBack())
}

func TestListFirstPushBackDoesNotTouchMasterBlock(t *testing.T) {
	// Regression test: a fresh ListAnchor's First/Last are the Go zero
	// value BlockIndex(0), not InvalidBlockIndex. PushBack on an empty
	// list must not mistake that zero value for a real node and try to
	// read/write block 0.
	l := newTestList(t)
	require.NoError(t, l.PushBack(42))

	front, err := l.Front()
	require.NoError(t, err)
	require.Equal(t, uint64(42), front)

	back, err := l.Back()
	require.NoError(t, err)
	require.Equal(t, uint64(42), back)
	require.Equal(t, uint64(1), l.Size())
}

func TestListPushFrontPushBackOrder(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.PushBack(2))
	require.NoError(t, l.PushBack(3))
	require.NoError(t, l.PushFront(1))

	var got []uint64
	c := l.MoveFirst()
	for c.Valid() {
		v, err := c.Get()
		require.NoError(t, err)
		got = append(got, v)
		require.NoError(t, c.MoveNext())
	}
	require.Equal(t, []uint64{1, 2, 3}, got)
}

func TestListPopFrontPopBack(t *testing.T) {
	l := newTestList(t)
	for i := uint64(0); i < 5; i++ {
		require.NoError(t, l.PushBack(i))
	}
	require.NoError(t, l.PopFront())
	require.NoError(t, l.PopBack())
	require.Equal(t, uint64(3), l.Size())

	front, err := l.Front()
	require.NoError(t, err)
	require.Equal(t, uint64(1), front)
	back, err := l.Back()
	require.NoError(t, err)
	require.Equal(t, uint64(3), back)
}

func TestListEraseViaCursorThenReuseEmptyList(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.PushBack(1))
	c := l.MoveFirst()
	require.NoError(t, l.Erase(c))
	require.True(t, l.Empty())

	// Pushing again after the list has gone back to empty must not
	// reproduce the zero-value bug either.
	require.NoError(t, l.PushBack(7))
	v, err := l.Front()
	require.NoError(t, err)
	require.Equal(t, uint64(7), v)
}

func TestListMovePrevFromEnd(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.PushBack(1))
	require.NoError(t, l.PushBack(2))

	c := l.MoveLast()
	require.True(t, c.Valid())
	v, err := c.Get()
	require.NoError(t, err)
	require.Equal(t, uint64(2), v)

	require.NoError(t, c.MovePrev())
	v, err = c.Get()
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)
}

func TestListResetOnNeverTouchedListIsNoop(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.Reset())
	require.True(t, l.Empty())
}
