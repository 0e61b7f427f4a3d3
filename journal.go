// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The transactional engine's journal file format and recovery procedure
// are not specified by the original design; this is a from-scratch
// design honouring only the externally observable contract: after Open
// succeeds, the database file reflects exactly the set of committed
// transactions.
package prequel

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// journalMagic identifies a well-formed journal header.
var journalMagic = [8]byte{'p', 'r', 'e', 'q', 'j', 'r', 'n', 'l'}

// journal header layout (fixed size, manually marshalled -- its size
// depends on no type parameter, so the reflective binary format framework
// does not apply here):
//
//	magic       [8]byte
//	sessionID   [16]byte
//	committed   byte (0 or 1)
//	blockSize   uint32
//	entryCount  uint32
const journalHeaderSize = 8 + 16 + 1 + 4 + 4

type journalHeader struct {
	sessionID  uuid.UUID
	committed  bool
	blockSize  uint32
	entryCount uint32
}

func (h journalHeader) encode() []byte {
	buf := make([]byte, journalHeaderSize)
	copy(buf[0:8], journalMagic[:])
	copy(buf[8:24], h.sessionID[:])
	if h.committed {
		buf[24] = 1
	}
	binary.BigEndian.PutUint32(buf[25:29], h.blockSize)
	binary.BigEndian.PutUint32(buf[29:33], h.entryCount)
	return buf
}

func decodeJournalHeader(buf []byte) (journalHeader, bool) {
	var h journalHeader
	if len(buf) < journalHeaderSize {
		return h, false
	}
	for i := range journalMagic {
		if buf[i] != journalMagic[i] {
			return h, false
		}
	}
	copy(h.sessionID[:], buf[8:24])
	h.committed = buf[24] != 0
	h.blockSize = binary.BigEndian.Uint32(buf[25:29])
	h.entryCount = binary.BigEndian.Uint32(buf[29:33])
	return h, true
}

// journalEntrySize returns the on-disk size of one journal entry: an
// 8-byte block index followed by exactly one block of data.
func journalEntrySize(blockSize uint32) int64 { return 8 + int64(blockSize) }

func encodeJournalEntry(idx BlockIndex, data []byte, out []byte) {
	binary.BigEndian.PutUint64(out[:8], uint64(idx))
	copy(out[8:], data)
}

func decodeJournalEntryIndex(buf []byte) BlockIndex {
	return BlockIndex(int64(binary.BigEndian.Uint64(buf[:8])))
}

// recoverJournal replays a committed-but-not-yet-applied journal into db,
// or discards an incomplete one. It is called once, before the
// transactional engine starts serving requests.
func recoverJournal(journal, db File, blockSize uint32, logger journalLogger) error {
	size, err := journal.Size()
	if err != nil {
		return err
	}
	if size < journalHeaderSize {
		return journal.Truncate(0)
	}
	hdrBuf := make([]byte, journalHeaderSize)
	if _, err := journal.ReadAt(hdrBuf, 0); err != nil {
		return journal.Truncate(0)
	}
	hdr, ok := decodeJournalHeader(hdrBuf)
	if !ok || !hdr.committed {
		return journal.Truncate(0)
	}

	entrySize := journalEntrySize(hdr.blockSize)
	entryBuf := make([]byte, entrySize)
	for i := uint32(0); i < hdr.entryCount; i++ {
		off := int64(journalHeaderSize) + int64(i)*entrySize
		if off+entrySize > size {
			break // truncated journal; stop replaying what we have.
		}
		if _, err := journal.ReadAt(entryBuf, off); err != nil {
			return err
		}
		idx := decodeJournalEntryIndex(entryBuf)
		if _, err := db.WriteAt(entryBuf[8:], int64(idx)*int64(blockSize)); err != nil {
			return err
		}
	}
	if err := db.Sync(); err != nil {
		return err
	}
	if logger != nil {
		logger.recoveredJournal(hdr.entryCount)
	}
	return journal.Truncate(0)
}

// journalLogger is the minimal logging surface the journal needs; it lets
// xactengine.go pass its *logrus.Logger without this file importing
// logrus directly for a single call site.
type journalLogger interface {
	recoveredJournal(entries uint32)
}
