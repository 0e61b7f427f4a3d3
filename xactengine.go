// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TransactionalEngine wraps a BufferedEngine and an auxiliary journal
// File. Block operations behave identically to the buffered engine within
// a transaction; Commit atomically promotes journalled writes into the
// database file, Rollback discards them, and recovery on Open replays or
// truncates the journal to restore a consistent state.
type TransactionalEngine struct {
	inner     *BufferedEngine
	journal   File
	sessionID uuid.UUID
	logger    *logrus.Logger
}

func (e *TransactionalEngine) recoveredJournal(entries uint32) {
	if e.logger != nil {
		e.logger.WithField("entries", entries).Info("prequel: replayed committed journal on open")
	}
}

// OpenTransactionalEngine recovers db/journal to a consistent state (if
// needed) and returns a ready-to-use TransactionalEngine.
func OpenTransactionalEngine(db, journal File, blockSize uint32, opts EngineOptions) (*TransactionalEngine, error) {
	e := &TransactionalEngine{journal: journal, sessionID: uuid.New(), logger: opts.Logger}
	if err := recoverJournal(journal, db, blockSize, e); err != nil {
		return nil, err
	}
	inner, err := NewBufferedEngine(db, blockSize, opts)
	if err != nil {
		return nil, err
	}
	e.inner = inner
	return e, nil
}

func (e *TransactionalEngine) BlockSize() uint32                                { return e.inner.BlockSize() }
func (e *TransactionalEngine) Size() (int64, error)                             { return e.inner.Size() }
func (e *TransactionalEngine) Grow(n int64) error                               { return e.inner.Grow(n) }
func (e *TransactionalEngine) Read(i BlockIndex) (BlockHandle, error)           { return e.inner.Read(i) }
func (e *TransactionalEngine) OverwriteZero(i BlockIndex) (BlockHandle, error)  { return e.inner.OverwriteZero(i) }
func (e *TransactionalEngine) Overwrite(i BlockIndex, d []byte) (BlockHandle, error) {
	return e.inner.Overwrite(i, d)
}

// Flush is a no-op barrier within an open transaction: promoting writes to
// the database file happens only at Commit, so that a crash never leaves
// a partially-applied transaction visible. Use Commit to make writes
// durable.
func (e *TransactionalEngine) Flush() error { return nil }

// Commit durably promotes every block dirtied since the last Commit (or
// since Open) into the database file: it first journals the dirty set and
// syncs the journal, then applies the writes to the database file and
// syncs that, then clears the journal. A crash at any point leaves the
// database file reflecting either the pre-commit or the post-commit state,
// never a mix.
//
// Commit requires that no block handle be currently pinned (refcount > 0)
// anywhere in the engine: the caller must have dropped all cursors and
// outstanding handles first.
func (e *TransactionalEngine) Commit() error {
	if e.inner.hasPinnedBlocks() {
		return &BadOperation{Msg: "Commit: live block handles outstanding"}
	}

	dirty := e.inner.snapshotDirty()
	if len(dirty) == 0 {
		return nil
	}

	blockSize := e.inner.BlockSize()
	entrySize := journalEntrySize(blockSize)
	hdr := journalHeader{sessionID: e.sessionID, committed: true, blockSize: blockSize, entryCount: uint32(len(dirty))}

	buf := make([]byte, journalHeaderSize+int64(len(dirty))*entrySize)
	copy(buf, hdr.encode())
	off := int64(journalHeaderSize)
	for idx, data := range dirty {
		encodeJournalEntry(idx, data, buf[off:off+entrySize])
		off += entrySize
	}
	if _, err := e.journal.WriteAt(buf, 0); err != nil {
		return err
	}
	if err := e.journal.Sync(); err != nil {
		return err
	}

	if err := e.inner.Flush(); err != nil {
		return err
	}

	if err := e.journal.Truncate(0); err != nil {
		return err
	}
	return e.journal.Sync()
}

// Rollback discards every block dirtied since the last Commit (or Open),
// leaving the database file untouched. Like Commit, it requires that no
// block handle be currently pinned.
func (e *TransactionalEngine) Rollback() error {
	if e.inner.hasPinnedBlocks() {
		return &BadOperation{Msg: "Rollback: live block handles outstanding"}
	}
	e.inner.discardDirty()
	return nil
}

func (e *TransactionalEngine) Close() error {
	err := e.Commit()
	if cerr := e.inner.Close(); err == nil {
		err = cerr
	}
	if jerr := e.journal.Close(); err == nil {
		err = jerr
	}
	return err
}

var _ Engine = (*TransactionalEngine)(nil)
