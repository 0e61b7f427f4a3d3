// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A memory-only implementation of File, grounded on lldb's MemFiler.

package prequel

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/cznic/mathutil"
)

const (
	memPageBits = 16
	memPageSize = 1 << memPageBits
	memPageMask = memPageSize - 1
)

var zeroMemPage [memPageSize]byte

// MemFile is a memory-backed File. It is not automatically persistent; use
// ReadFrom/WriteTo to snapshot it to and from an io.Reader/io.Writer. It
// never fails an I/O call for an OS-level reason -- an "infinite" file
// living entirely in the Go heap -- so it is mainly useful for tests and
// for CreateTemp-style scratch databases.
type MemFile struct {
	mu   sync.Mutex
	m    map[int64]*[memPageSize]byte
	size int64
}

// NewMemFile returns a new, empty MemFile.
func NewMemFile() *MemFile {
	return &MemFile{m: map[int64]*[memPageSize]byte{}}
}

func (f *MemFile) Name() string { return fmt.Sprintf("%p.memfile", f) }

func (f *MemFile) Close() error { return nil }

func (f *MemFile) Sync() error { return nil }

func (f *MemFile) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size, nil
}

func (f *MemFile) ReadAt(b []byte, off int64) (n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	avail := f.size - off
	if avail <= 0 {
		return 0, io.EOF
	}
	pgI := off >> memPageBits
	pgO := int(off & memPageMask)
	rem := len(b)
	if int64(rem) >= avail {
		rem = int(avail)
		err = io.EOF
	}
	for rem != 0 {
		pg := f.m[pgI]
		if pg == nil {
			pg = &zeroMemPage
		}
		nc := copy(b[:mathutil.Min(rem, memPageSize-pgO)], pg[pgO:])
		pgI++
		pgO = 0
		rem -= nc
		n += nc
		b = b[nc:]
	}
	return n, err
}

func (f *MemFile) WriteAt(b []byte, off int64) (n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pgI := off >> memPageBits
	pgO := int(off & memPageMask)
	n = len(b)
	rem := n
	for rem != 0 {
		chunk := mathutil.Min(rem, memPageSize-pgO)
		if pgO == 0 && chunk == memPageSize && bytes.Equal(b[:chunk], zeroMemPage[:]) {
			delete(f.m, pgI)
		} else {
			pg := f.m[pgI]
			if pg == nil {
				pg = new([memPageSize]byte)
				f.m[pgI] = pg
			}
			copy(pg[pgO:], b[:chunk])
		}
		pgI++
		pgO = 0
		rem -= chunk
		b = b[chunk:]
	}
	if off+int64(n) > f.size {
		f.size = off + int64(n)
	}
	return n, nil
}

func (f *MemFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if size < 0 {
		return &BadArgument{Msg: "MemFile.Truncate: negative size", Arg: size}
	}
	if size == 0 {
		f.m = map[int64]*[memPageSize]byte{}
	} else {
		first := size >> memPageBits
		if size&memPageMask != 0 {
			first++
		}
		last := f.size >> memPageBits
		if f.size&memPageMask != 0 {
			last++
		}
		for ; first < last; first++ {
			delete(f.m, first)
		}
	}
	f.size = size
	return nil
}

// ReadFrom replaces the MemFile's content with data read from r.
func (f *MemFile) ReadFrom(r io.Reader) (n int64, err error) {
	if err = f.Truncate(0); err != nil {
		return 0, err
	}
	var (
		buf [memPageSize]byte
		off int64
	)
	for {
		rn, rerr := r.Read(buf[:])
		if rn > 0 {
			if _, werr := f.WriteAt(buf[:rn], off); werr != nil {
				return n, werr
			}
			off += int64(rn)
			n += int64(rn)
		}
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

// WriteTo copies the MemFile's content to w.
func (f *MemFile) WriteTo(w io.Writer) (n int64, err error) {
	size, _ := f.Size()
	var buf [memPageSize]byte
	for off := int64(0); off < size; off += memPageSize {
		rn, rerr := f.ReadAt(buf[:], off)
		if rn > 0 {
			wn, werr := w.Write(buf[:rn])
			n += int64(wn)
			if werr != nil {
				return n, werr
			}
		}
		if rerr != nil && rerr != io.EOF {
			return n, rerr
		}
	}
	return n, nil
}

var _ File = (*MemFile)(nil)
