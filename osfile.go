// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"os"

	"github.com/pkg/errors"
)

// OSFile adapts an *os.File to File.
type OSFile struct {
	f *os.File
}

// OpenFile opens (or creates) path and wraps it as a File.
func OpenFile(path string, flag int, perm os.FileMode) (*OSFile, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, &IoError{Op: "open " + path, Cause: errors.Wrap(err, "os.OpenFile")}
	}
	return &OSFile{f: f}, nil
}

// CreateTempFile creates a new temporary file in dir (os.TempDir() if
// empty) with the given name pattern and wraps it as a File.
func CreateTempFile(dir, pattern string) (*OSFile, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, &IoError{Op: "create temp file", Cause: errors.Wrap(err, "os.CreateTemp")}
	}
	return &OSFile{f: f}, nil
}

func (o *OSFile) Name() string { return o.f.Name() }

func (o *OSFile) ReadAt(b []byte, off int64) (int, error) {
	n, err := o.f.ReadAt(b, off)
	if err != nil && err.Error() != "EOF" {
		return n, &IoError{Op: "ReadAt " + o.Name(), Cause: err}
	}
	return n, err
}

func (o *OSFile) WriteAt(b []byte, off int64) (int, error) {
	n, err := o.f.WriteAt(b, off)
	if err != nil {
		return n, &IoError{Op: "WriteAt " + o.Name(), Cause: err}
	}
	return n, nil
}

func (o *OSFile) Size() (int64, error) {
	fi, err := o.f.Stat()
	if err != nil {
		return 0, &IoError{Op: "Stat " + o.Name(), Cause: err}
	}
	return fi.Size(), nil
}

func (o *OSFile) Truncate(n int64) error {
	if err := o.f.Truncate(n); err != nil {
		return &IoError{Op: "Truncate " + o.Name(), Cause: err}
	}
	return nil
}

func (o *OSFile) Sync() error {
	if err := o.f.Sync(); err != nil {
		return &IoError{Op: "Sync " + o.Name(), Cause: err}
	}
	return nil
}

func (o *OSFile) Close() error {
	if err := o.f.Close(); err != nil {
		return &IoError{Op: "Close " + o.Name(), Cause: err}
	}
	return nil
}

// Fd exposes the raw *os.File for the mmap backend, which needs the file
// descriptor to call into golang.org/x/sys/unix.
func (o *OSFile) Fd() *os.File { return o.f }

var _ File = (*OSFile)(nil)
