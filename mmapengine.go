// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import "unsafe"

// mmapChunkSize is the size of each region mapped into the process'
// address space. 1 GiB on 64-bit platforms, 128 MiB on 32-bit ones.
var mmapChunkSize = func() int64 {
	if unsafe.Sizeof(uintptr(0)) == 8 {
		return 1 << 30
	}
	return 128 << 20
}()

// mmapBuffer is the blockBuffer implementation backing MmapEngine. It has
// no dirty flag of its own: writes go straight through the mapping and the
// OS tracks dirtiness at page granularity.
type mmapBuffer struct {
	idx      BlockIndex
	region   []byte
	refcount int32
}

func (b *mmapBuffer) index() BlockIndex     { return b.idx }
func (b *mmapBuffer) data() []byte          { return b.region }
func (b *mmapBuffer) writableData() []byte  { return b.region }
func (b *mmapBuffer) dirty() bool           { return false }
func (b *mmapBuffer) retain()               { b.refcount++ }
func (b *mmapBuffer) release()              { b.refcount-- }

// MmapEngine is the memory-map Engine backend. It maps the file in
// fixed-size chunks; reads and writes are ordinary memory accesses, and
// Flush invokes the OS-level msync primitive.
type MmapEngine struct {
	file      MmapFile
	blockSize uint32
	chunks    [][]byte
	deferred  deferredError
}

// NewMmapEngine maps file (which must support MmapFile) as an Engine with
// the given fixed block size.
func NewMmapEngine(file MmapFile, blockSize uint32) (*MmapEngine, error) {
	if blockSize < 64 || blockSize&(blockSize-1) != 0 {
		return nil, &BadArgument{Msg: "block size must be a power of two >= 64", Arg: blockSize}
	}
	e := &MmapEngine{file: file, blockSize: blockSize}
	sz, err := file.Size()
	if err != nil {
		return nil, err
	}
	if sz%int64(blockSize) != 0 {
		return nil, &Corruption{Msg: "file size is not a multiple of the block size"}
	}
	if err := e.ensureMapped(sz); err != nil {
		return nil, err
	}
	return e, nil
}

// ensureMapped grows the chunk set so that every byte in [0, size) is
// mapped. Every chunk is mapped at the full mmapChunkSize, past the current
// end of the file if need be, so blockRegion finds a block's chunk by plain
// division.
func (e *MmapEngine) ensureMapped(size int64) error {
	var mapped int64
	for _, c := range e.chunks {
		mapped += int64(len(c))
	}
	for mapped < size {
		length := mmapChunkSize
		region, err := e.file.Mmap(mapped, int(length))
		if err != nil {
			return err
		}
		e.chunks = append(e.chunks, region)
		mapped += length
	}
	return nil
}

func (e *MmapEngine) BlockSize() uint32 { return e.blockSize }

func (e *MmapEngine) Size() (int64, error) {
	sz, err := e.file.Size()
	if err != nil {
		return 0, err
	}
	return sz / int64(e.blockSize), nil
}

func (e *MmapEngine) Grow(n int64) error {
	if n < 0 {
		return &BadArgument{Msg: "Grow: negative block count", Arg: n}
	}
	sz, err := e.file.Size()
	if err != nil {
		return err
	}
	newSize := sz + n*int64(e.blockSize)
	if err := e.file.Truncate(newSize); err != nil {
		return err
	}
	return e.ensureMapped(newSize)
}

// blockRegion returns the byte slice, within whichever mapped chunk
// contains it, for block i.
func (e *MmapEngine) blockRegion(i BlockIndex) ([]byte, error) {
	off := int64(i) * int64(e.blockSize)
	chunkIdx := off / mmapChunkSize
	if chunkIdx < 0 || int(chunkIdx) >= len(e.chunks) {
		return nil, &BadArgument{Msg: "block index out of mapped range", Arg: i}
	}
	within := off % mmapChunkSize
	chunk := e.chunks[chunkIdx]
	if within+int64(e.blockSize) > int64(len(chunk)) {
		return nil, &Corruption{Msg: "block crosses a chunk boundary"}
	}
	return chunk[within : within+int64(e.blockSize)], nil
}

func (e *MmapEngine) Read(i BlockIndex) (BlockHandle, error) {
	region, err := e.blockRegion(i)
	if err != nil {
		return BlockHandle{}, err
	}
	return BlockHandle{buf: &mmapBuffer{idx: i, region: region, refcount: 1}}, nil
}

func (e *MmapEngine) OverwriteZero(i BlockIndex) (BlockHandle, error) {
	region, err := e.blockRegion(i)
	if err != nil {
		return BlockHandle{}, err
	}
	for j := range region {
		region[j] = 0
	}
	return BlockHandle{buf: &mmapBuffer{idx: i, region: region, refcount: 1}}, nil
}

func (e *MmapEngine) Overwrite(i BlockIndex, data []byte) (BlockHandle, error) {
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

func (e *MmapEngine) Flush() error {
	for _, c := range e.chunks {
		if len(c) == 0 {
			continue
		}
		if err := e.file.Msync(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *MmapEngine) Close() error {
	err := e.Flush()
	for _, c := range e.chunks {
		if len(c) == 0 {
			continue
		}
		if uerr := e.file.Munmap(c); err == nil {
			err = uerr
		}
	}
	e.chunks = nil
	if cerr := e.file.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ Engine = (*MmapEngine)(nil)
