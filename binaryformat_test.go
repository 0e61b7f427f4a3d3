// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type bfInner struct {
	A uint16
	B uint32
}

type bfOuter struct {
	X uint8
	Y bfInner
	Z [4]byte
}

func TestSerializedSizeScalars(t *testing.T) {
	require.Equal(t, 1, SerializedSize[uint8]())
	require.Equal(t, 2, SerializedSize[uint16]())
	require.Equal(t, 4, SerializedSize[uint32]())
	require.Equal(t, 8, SerializedSize[uint64]())
	require.Equal(t, 8, SerializedSize[BlockIndex]())
}

func TestSerializeRoundTrip(t *testing.T) {
	v := bfOuter{X: 7, Y: bfInner{A: 1000, B: 99999}, Z: [4]byte{1, 2, 3, 4}}
	buf := make([]byte, SerializedSize[bfOuter]())
	Serialize(v, buf)

	var got bfOuter
	Deserialize(buf, &got)
	require.Equal(t, v, got)
}

func TestSerializeBigEndian(t *testing.T) {
	buf := make([]byte, SerializedSize[uint32]())
	Serialize(uint32(1), buf)
	require.Equal(t, []byte{0, 0, 0, 1}, buf)
}

func TestFieldOffset(t *testing.T) {
	require.Equal(t, 0, FieldOffset[bfOuter](0))
	require.Equal(t, 1, FieldOffset[bfOuter](1))
	require.Equal(t, 1+SerializedSize[bfInner](), FieldOffset[bfOuter](2))
}

func TestCustomBinaryEncoder(t *testing.T) {
	e := extentT{Block: BlockIndex(5), Size: 3}
	buf := make([]byte, e.BinarySize())
	Serialize(e, buf)

	var got extentT
	Deserialize(buf, &got)
	require.Equal(t, e, got)
}
