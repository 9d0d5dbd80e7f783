package bdb

import (
	"github.com/objectdb/objectdb/database"
	"github.com/objectdb/objectdb/database/kvengine"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// BoltTransaction wraps one bolt transaction over the flat bucket.
type BoltTransaction struct {
	tx     *bolt.Tx
	bucket *bolt.Bucket

	isClosed bool
}

func (tx *BoltTransaction) checkOpen() error {
	if tx.isClosed {
		return errors.Wrap(database.ErrTransactionInactive, "bolt transaction already closed")
	}
	return nil
}

// Get returns the value under key. Bolt's value slices are only valid
// for the life of the transaction, so the value is copied out.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *BoltTransaction) Get(key []byte) ([]byte, bool, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, false, err
	}
	value := tx.bucket.Get(key)
	if value == nil {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Has reports whether key exists.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *BoltTransaction) Has(key []byte) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	return tx.bucket.Get(key) != nil, nil
}

// Put sets the value under key.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *BoltTransaction) Put(key, value []byte) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if !tx.tx.Writable() {
		return errors.Wrap(database.ErrReadOnly, "cannot put into a read-only bolt transaction")
	}
	return tx.bucket.Put(key, value)
}

// Delete removes the key.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *BoltTransaction) Delete(key []byte) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if !tx.tx.Writable() {
		return errors.Wrap(database.ErrReadOnly, "cannot delete from a read-only bolt transaction")
	}
	return tx.bucket.Delete(key)
}

// Cursor iterates the keys sharing the given prefix.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *BoltTransaction) Cursor(prefix []byte, reverse bool) (kvengine.KVCursor, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	return &BoltCursor{
		cursor:  tx.bucket.Cursor(),
		prefix:  append([]byte(nil), prefix...),
		reverse: reverse,
	}, nil
}

// Commit atomically applies the transaction.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *BoltTransaction) Commit() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.isClosed = true
	if !tx.tx.Writable() {
		return tx.tx.Rollback()
	}
	return tx.tx.Commit()
}

// Rollback discards the transaction.
//
// This method is part of the kvengine.KVTransaction interface.
func (tx *BoltTransaction) Rollback() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.isClosed = true
	return tx.tx.Rollback()
}
