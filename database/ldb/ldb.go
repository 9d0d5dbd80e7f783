package ldb

import (
	"os"

	"github.com/objectdb/objectdb/database/kvengine"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// Opener returns a kvengine.KVOpener backed by leveldb. Each database
// lives in its own directory.
func Opener() kvengine.KVOpener {
	return levelDBOpener{}
}

type levelDBOpener struct{}

// Open opens the leveldb database at the given path, creating it if it
// does not exist.
//
// This method is part of the kvengine.KVOpener interface.
func (levelDBOpener) Open(path string) (kvengine.KVDatabase, error) {
	return NewLevelDB(path)
}

// Destroy removes the leveldb database at the given path.
//
// This method is part of the kvengine.KVOpener interface.
func (levelDBOpener) Destroy(path string) error {
	return os.RemoveAll(path)
}

// LevelDB defines a thin wrapper around leveldb.
type LevelDB struct {
	ldb *leveldb.DB
}

// NewLevelDB opens a leveldb instance defined by the given path.
func NewLevelDB(path string) (*LevelDB, error) {
	// Open leveldb. If it doesn't exist, create it.
	ldb, err := leveldb.OpenFile(path, Options())

	// If the database is corrupted, attempt to recover.
	if _, corrupted := err.(*ldbErrors.ErrCorrupted); corrupted {
		log.Warnf("LevelDB corruption detected for path %s: %s", path, err)
		ldb, err = leveldb.RecoverFile(path, Options())
		if err != nil {
			return nil, err
		}
		log.Warnf("LevelDB recovered from corruption for path %s", path)
	}

	// If the database cannot be opened for any other
	// reason, return the error as-is.
	if err != nil {
		return nil, err
	}

	return &LevelDB{ldb: ldb}, nil
}

// Begin starts a transaction. Writable transactions use a leveldb
// transaction, which observes its own writes and is serialized against
// other writers by leveldb itself. Read-only transactions read from a
// snapshot.
//
// This method is part of the kvengine.KVDatabase interface.
func (db *LevelDB) Begin(writable bool) (kvengine.KVTransaction, error) {
	if writable {
		tr, err := db.ldb.OpenTransaction()
		if err != nil {
			return nil, err
		}
		return &LevelDBTransaction{tr: tr}, nil
	}
	snapshot, err := db.ldb.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &LevelDBTransaction{snapshot: snapshot}, nil
}

// Close closes the leveldb instance.
//
// This method is part of the kvengine.KVDatabase interface.
func (db *LevelDB) Close() error {
	return db.ldb.Close()
}
