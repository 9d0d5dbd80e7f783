package bdb

import (
	"os"
	"path/filepath"

	"github.com/objectdb/objectdb/database/kvengine"
	bolt "go.etcd.io/bbolt"
)

// databaseFileName is the bolt file inside each database directory.
const databaseFileName = "data.db"

// All keys live in one flat bucket; the engine's own prefixes provide
// the namespacing.
var flatBucketName = []byte("flat")

// boltOptions are used on every open. Read transactions hold bolt's
// mmap read lock for their whole lifetime, and a write commit that has
// to grow the map blocks on that lock until every reader finishes. The
// large initial map keeps commits from growing it, so readers and
// writers can stay open concurrently.
var boltOptions = &bolt.Options{InitialMmapSize: 1 << 30}

// Opener returns a kvengine.KVOpener backed by bbolt. Each database
// lives in its own directory holding a single bolt file.
func Opener() kvengine.KVOpener {
	return boltOpener{}
}

type boltOpener struct{}

// Open opens the bolt database at the given path, creating it if it
// does not exist.
//
// This method is part of the kvengine.KVOpener interface.
func (boltOpener) Open(path string) (kvengine.KVDatabase, error) {
	return NewBoltDB(path)
}

// Destroy removes the bolt database at the given path.
//
// This method is part of the kvengine.KVOpener interface.
func (boltOpener) Destroy(path string) error {
	return os.RemoveAll(path)
}

// BoltDB defines a thin wrapper around a bolt database.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens a bolt instance inside the given directory.
func NewBoltDB(path string) (*BoltDB, error) {
	err := os.MkdirAll(path, 0700)
	if err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(path, databaseFileName), 0600, boltOptions)
	if err != nil {
		return nil, err
	}

	// The flat bucket is created eagerly so transactions never have to
	// distinguish a fresh database from an empty one.
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(flatBucketName)
		return err
	})
	if err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			log.Warnf("closing bolt database at %s failed: %s", path, closeErr)
		}
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

// Begin starts a transaction. Bolt serializes writable transactions
// against each other itself.
//
// This method is part of the kvengine.KVDatabase interface.
func (db *BoltDB) Begin(writable bool) (kvengine.KVTransaction, error) {
	tx, err := db.db.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &BoltTransaction{
		tx:     tx,
		bucket: tx.Bucket(flatBucketName),
	}, nil
}

// Close closes the bolt instance.
//
// This method is part of the kvengine.KVDatabase interface.
func (db *BoltDB) Close() error {
	return db.db.Close()
}
