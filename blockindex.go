// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import "fmt"

// BlockIndex names a block within a file. The zero value is not special;
// use InvalidBlockIndex for "no block". A valid index is always >= 0.
type BlockIndex int64

// InvalidBlockIndex is the reserved sentinel meaning "no block".
const InvalidBlockIndex BlockIndex = -1

// Valid reports whether i refers to an actual block.
func (i BlockIndex) Valid() bool { return i != InvalidBlockIndex }

// Add returns i advanced by n blocks. i must be valid.
func (i BlockIndex) Add(n int64) BlockIndex { return BlockIndex(int64(i) + n) }

// Sub returns the number of blocks between i and j (i - j). Both must be
// valid.
func (i BlockIndex) Sub(j BlockIndex) int64 { return int64(i) - int64(j) }

// Less reports whether i orders before j. InvalidBlockIndex orders before
// every valid index.
func (i BlockIndex) Less(j BlockIndex) bool {
	return i+1 < j+1
}

func (i BlockIndex) String() string {
	if !i.Valid() {
		return "<invalid-block>"
	}
	return fmt.Sprintf("block#%d", int64(i))
}

func (i BlockIndex) BinarySize() int { return 8 }

func (i *BlockIndex) EncodeBinary(buf []byte) {
	v := uint64(*i)
	buf[0] = byte(v >> 56)
	buf[1] = byte(v >> 48)
	buf[2] = byte(v >> 40)
	buf[3] = byte(v >> 32)
	buf[4] = byte(v >> 24)
	buf[5] = byte(v >> 16)
	buf[6] = byte(v >> 8)
	buf[7] = byte(v)
}

func (i *BlockIndex) DecodeBinary(buf []byte) {
	v := uint64(buf[0])<<56 | uint64(buf[1])<<48 | uint64(buf[2])<<40 | uint64(buf[3])<<32 |
		uint64(buf[4])<<24 | uint64(buf[5])<<16 | uint64(buf[6])<<8 | uint64(buf[7])
	*i = BlockIndex(int64(v))
}
