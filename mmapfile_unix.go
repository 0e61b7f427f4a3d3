// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package prequel

import (
	"os"

	"golang.org/x/sys/unix"
)

// MmapOSFile is an OSFile that also supports mapping regions of itself,
// backing the memory-map Engine.
type MmapOSFile struct {
	*OSFile
}

// NewMmapOSFile wraps an already-open OSFile with mmap support.
func NewMmapOSFile(f *OSFile) *MmapOSFile { return &MmapOSFile{OSFile: f} }

func (m *MmapOSFile) Mmap(offset int64, length int) ([]byte, error) {
	region, err := unix.Mmap(int(m.Fd().Fd()), offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, &IoError{Op: "mmap " + m.Name(), Cause: err}
	}
	return region, nil
}

func (m *MmapOSFile) Msync(region []byte) error {
	if err := unix.Msync(region, unix.MS_SYNC); err != nil {
		return &IoError{Op: "msync " + m.Name(), Cause: err}
	}
	return nil
}

func (m *MmapOSFile) Munmap(region []byte) error {
	if err := unix.Munmap(region); err != nil {
		return &IoError{Op: "munmap " + m.Name(), Cause: err}
	}
	return nil
}

func (m *MmapOSFile) Mincore(region []byte) ([]bool, error) {
	vec := make([]byte, (len(region)+os.Getpagesize()-1)/os.Getpagesize())
	if err := unix.Mincore(region, vec); err != nil {
		return nil, &IoError{Op: "mincore " + m.Name(), Cause: err}
	}
	resident := make([]bool, len(vec))
	for i, b := range vec {
		resident[i] = b&1 != 0
	}
	return resident, nil
}

var _ MmapFile = (*MmapOSFile)(nil)
