package ldb

import (
	"github.com/objectdb/objectdb/database"
	"github.com/objectdb/objectdb/database/kvengine"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelDBReader is the read surface shared by leveldb transactions and
// snapshots.
type levelDBReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	Has(key []byte, ro *opt.ReadOptions) (bool, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

// LevelDBTransaction wraps either a writable leveldb transaction or a
// read-only snapshot.
type LevelDBTransaction struct {
	tr       *leveldb.Transaction
	snapshot *leveldb.Snapshot

	isClosed bool
}

func (tx *LevelDBTransaction) reader() levelDBReader {
	if tx.tr != nil {
		return tx.tr
	}
	return tx.snapshot
}

func (tx *LevelDBTransaction) checkOpen() error {
	if tx.isClosed {
		return errors.Wrap(database.ErrTransactionInactive, "leveldb transaction already closed")
	}
	return nil
}

// Get returns the value under key.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *LevelDBTransaction) Get(key []byte) ([]byte, bool, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, false, err
	}
	value, err := tx.reader().Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Has reports whether key exists.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *LevelDBTransaction) Has(key []byte) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	return tx.reader().Has(key, nil)
}

// Put sets the value under key.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *LevelDBTransaction) Put(key, value []byte) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if tx.tr == nil {
		return errors.Wrap(database.ErrReadOnly, "cannot put into a read-only leveldb transaction")
	}
	return tx.tr.Put(key, value, nil)
}

// Delete removes the key.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *LevelDBTransaction) Delete(key []byte) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if tx.tr == nil {
		return errors.Wrap(database.ErrReadOnly, "cannot delete from a read-only leveldb transaction")
	}
	return tx.tr.Delete(key, nil)
}

// Cursor iterates the keys sharing the given prefix.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *LevelDBTransaction) Cursor(prefix []byte, reverse bool) (kvengine.KVCursor, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	iter := tx.reader().NewIterator(util.BytesPrefix(prefix), nil)
	return &LevelDBCursor{iterator: iter, reverse: reverse}, nil
}

// Commit atomically applies the transaction.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *LevelDBTransaction) Commit() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.isClosed = true
	if tx.tr == nil {
		tx.snapshot.Release()
		return nil
	}
	return tx.tr.Commit()
}

// Rollback discards the transaction.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *LevelDBTransaction) Rollback() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.isClosed = true
	if tx.tr == nil {
		tx.snapshot.Release()
		return nil
	}
	tx.tr.Discard()
	return nil
}
