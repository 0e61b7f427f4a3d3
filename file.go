// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

// File is the filesystem abstraction this module builds on. It is
// deliberately minimal: positional I/O plus truncate and sync. A File is
// not safe for concurrent use; callers coordinate access externally, same
// as Engine.
type File interface {
	// ReadAt reads len(buf) bytes starting at off. It behaves like
	// io.ReaderAt: a short read without error only at EOF.
	ReadAt(buf []byte, off int64) (n int, err error)

	// WriteAt writes len(buf) bytes at off, extending the file if
	// necessary.
	WriteAt(buf []byte, off int64) (n int, err error)

	// Size returns the current file size in bytes.
	Size() (int64, error)

	// Truncate resizes the file to exactly n bytes.
	Truncate(n int64) error

	// Sync flushes any OS-buffered data to stable storage.
	Sync() error

	// Close releases the underlying resource.
	Close() error

	// Name returns a diagnostic name for the file (path, or a synthetic
	// name for in-memory files).
	Name() string
}

// MmapFile is implemented by a File that additionally supports mapping
// regions of itself into the process' address space. Backends that cannot
// support this (e.g. a filesystem that forbids mmap) simply do not
// implement it; callers discover support with a type assertion and report
// Unsupported otherwise.
type MmapFile interface {
	File

	// Mmap maps length bytes of the file starting at offset and returns
	// the mapped region.
	Mmap(offset int64, length int) ([]byte, error)

	// Msync flushes changes made to a previously mapped region back to
	// the file.
	Msync(region []byte) error

	// Munmap releases a previously mapped region.
	Munmap(region []byte) error

	// Mincore reports, for each page of a previously mapped region,
	// whether it is currently resident in memory.
	Mincore(region []byte) ([]bool, error)
}
