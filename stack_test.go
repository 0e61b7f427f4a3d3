// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStack(t *testing.T) *Stack[uint64] {
	t.Helper()
	e, a := newTestAllocator(t)
	var anchor ListAnchor
	h := InMemoryAnchorHandle(&anchor, nil)
	return NewStack[uint64](e, a, h)
}

func TestStackLIFOOrder(t *testing.T) {
	s := newTestStack(t)
	require.True(t, s.Empty())

	require.NoError(t, s.Push(1))
	require.NoError(t, s.Push(2))
	require.NoError(t, s.Push(3))

	top, err := s.Top()
	require.NoError(t, err)
	require.Equal(t, uint64(3), top)

	require.NoError(t, s.Pop())
	top, err = s.Top()
	require.NoError(t, err)
	require.Equal(t, uint64(2), top)
	require.Equal(t, uint64(2), s.Size())
}

func TestStackPopEmptyErrors(t *testing.T) {
	s := newTestStack(t)
	require.Error(t, s.Pop())
	_, err := s.Top()
	require.Error(t, err)
}
