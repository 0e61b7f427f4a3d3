// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockIndexValid(t *testing.T) {
	require.False(t, InvalidBlockIndex.Valid())
	require.True(t, BlockIndex(0).Valid())
	require.True(t, BlockIndex(5).Valid())
}

func TestBlockIndexOrdering(t *testing.T) {
	require.True(t, InvalidBlockIndex.Less(BlockIndex(0)))
	require.True(t, BlockIndex(0).Less(BlockIndex(1)))
	require.False(t, BlockIndex(1).Less(BlockIndex(0)))
}

func TestBlockIndexAddSub(t *testing.T) {
	b := BlockIndex(10)
	require.Equal(t, BlockIndex(13), b.Add(3))
	require.Equal(t, int64(3), BlockIndex(13).Sub(b))
}

func TestBlockIndexEncodeDecode(t *testing.T) {
	b := BlockIndex(123456789)
	buf := make([]byte, b.BinarySize())
	b.EncodeBinary(buf)

	var got BlockIndex
	got.DecodeBinary(buf)
	require.Equal(t, b, got)
}
