// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Default on-disk file layout, grounded on the original design's
// include/prequel/default_file_format.hpp: block 0 holds a fixed header
// (magic, version, flags, block size, user-data size, the default
// allocator's anchor) followed directly by the caller's own anchor
// content, and every other block is addressable only through the
// allocator.
package prequel

// MagicSize is the fixed width, in bytes, reserved for a file's magic
// header.
const MagicSize = 20

const fileFormatVersion = 1

const (
	fieldMasterMagic = iota
	fieldMasterVersion
	fieldMasterFlags
	fieldMasterBlockSize
	fieldMasterUserDataSize
	fieldMasterAlloc
	fieldMasterUser
)

// MasterBlock is the on-disk layout of block 0. U is the caller's own
// anchor type, stored verbatim after the fixed header.
type MasterBlock[U any] struct {
	Magic        [MagicSize]byte
	Version      uint32
	Flags        uint8
	BlockSize    uint32
	UserDataSize uint32
	Alloc        AllocatorAnchor
	User         U
}

// FileFormat opens or initializes a file's default layout: a master block
// at index 0, a DefaultAllocator rooted in it, and a user-defined anchor of
// type U living alongside it. It is the Go analogue of
// default_file_format<U>.
type FileFormat[U any] struct {
	engine Engine
	handle TypedHandle[MasterBlock[U]]
	flag   AnchorFlag
	alloc  *DefaultAllocator
}

// OpenFileFormat opens engine's master block, initializing it if the file
// is empty (size 0) or validating it against magic and the engine's block
// size otherwise. magic must be at most MagicSize bytes; shorter strings
// are zero-padded on write and compared exactly (including the padding) on
// open, so it must not change between opens of the same file.
func OpenFileFormat[U any](engine Engine, magic string) (*FileFormat[U], error) {
	if len(magic) > MagicSize {
		return nil, &BadArgument{Msg: "magic header longer than MagicSize", Arg: magic}
	}

	size, err := engine.Size()
	if err != nil {
		return nil, err
	}

	var magicBuf [MagicSize]byte
	copy(magicBuf[:], magic)

	var block BlockHandle
	if size == 0 {
		if err := engine.Grow(1); err != nil {
			return nil, err
		}
		block, err = engine.OverwriteZero(BlockIndex(0))
		if err != nil {
			return nil, err
		}
		handle := NewTypedHandle[MasterBlock[U]](block, 0)
		var mb MasterBlock[U]
		mb.Magic = magicBuf
		mb.Version = fileFormatVersion
		mb.BlockSize = engine.BlockSize()
		mb.UserDataSize = uint32(SerializedSize[U]())
		handle.Set(mb)
		if err := engine.Flush(); err != nil {
			handle.Release()
			return nil, err
		}
		return newFileFormat[U](engine, handle), nil
	}

	block, err = engine.Read(BlockIndex(0))
	if err != nil {
		return nil, err
	}
	handle := NewTypedHandle[MasterBlock[U]](block, 0)
	mb := handle.Get()
	if mb.BlockSize != engine.BlockSize() {
		handle.Release()
		return nil, &Corruption{Msg: "file was opened with a block size different from the one it was created with"}
	}
	if mb.Magic != magicBuf {
		handle.Release()
		return nil, &Corruption{Msg: "file magic header does not match"}
	}
	if mb.UserDataSize != uint32(SerializedSize[U]()) {
		handle.Release()
		return nil, &Corruption{Msg: "file's stored user-anchor size does not match the requested type"}
	}
	return newFileFormat[U](engine, handle), nil
}

func newFileFormat[U any](engine Engine, handle TypedHandle[MasterBlock[U]]) *FileFormat[U] {
	ff := &FileFormat[U]{engine: engine, handle: handle}
	allocAnchor := NewAnchorHandle(
		func() AllocatorAnchor { return GetMember[MasterBlock[U], AllocatorAnchor](ff.handle, fieldMasterAlloc) },
		func(v AllocatorAnchor) { SetMember[MasterBlock[U], AllocatorAnchor](ff.handle, fieldMasterAlloc, v) },
		&ff.flag,
	)
	ff.alloc = NewDefaultAllocator(engine, allocAnchor, true)
	return ff
}

// Engine returns the underlying block engine.
func (ff *FileFormat[U]) Engine() Engine { return ff.engine }

// Allocator returns the file's default block allocator.
func (ff *FileFormat[U]) Allocator() *DefaultAllocator { return ff.alloc }

// Version returns the on-disk format version stored in the master block.
func (ff *FileFormat[U]) Version() uint32 {
	return GetMember[MasterBlock[U], uint32](ff.handle, fieldMasterVersion)
}

// UserData returns an anchor handle for the caller's own anchor content,
// stored immediately after the fixed header.
func (ff *FileFormat[U]) UserData() AnchorHandle[U] {
	return NewAnchorHandle(
		func() U { return GetMember[MasterBlock[U], U](ff.handle, fieldMasterUser) },
		func(v U) { SetMember[MasterBlock[U], U](ff.handle, fieldMasterUser, v) },
		&ff.flag,
	)
}

// Flush writes the master block if it changed since the last Flush, then
// flushes the engine.
func (ff *FileFormat[U]) Flush() error {
	if ff.flag.Changed() {
		ff.flag.Reset()
	}
	return ff.engine.Flush()
}

// Close flushes and releases the master block and the underlying engine.
func (ff *FileFormat[U]) Close() error {
	err := ff.Flush()
	ff.handle.Release()
	if cerr := ff.engine.Close(); err == nil {
		err = cerr
	}
	return err
}
