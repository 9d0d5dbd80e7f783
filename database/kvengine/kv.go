package kvengine

// KVOpener opens and destroys flat key-value databases at filesystem
// paths. It is the only thing a storage driver has to provide; the
// engine builds object stores, indexes and schema metadata on top.
type KVOpener interface {
	// Open opens the database at the given path, creating it if it
	// does not exist.
	Open(path string) (KVDatabase, error)

	// Destroy removes the database at the given path. It must only be
	// called while the database is not open.
	Destroy(path string) error
}

// KVDatabase is one open flat key-value database.
type KVDatabase interface {
	// Begin starts a transaction. Writable transactions observe their
	// own writes and are serialized against each other by the driver.
	Begin(writable bool) (KVTransaction, error)

	// Close closes the database.
	Close() error
}

// KVTransaction is a flat key-value transaction.
type KVTransaction interface {
	// Get returns the value under key. The second return value is
	// false when the key does not exist.
	Get(key []byte) ([]byte, bool, error)

	// Has reports whether key exists.
	Has(key []byte) (bool, error)

	// Put sets the value under key, overwriting any previous value.
	Put(key, value []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// Cursor iterates the keys sharing the given prefix in ascending
	// byte order, descending when reverse is set.
	Cursor(prefix []byte, reverse bool) (KVCursor, error)

	// Commit atomically applies the transaction.
	Commit() error

	// Rollback discards the transaction. Rolling back a read-only
	// transaction releases its snapshot.
	Rollback() error
}

// KVCursor is a step-advanced iterator over a key prefix. A fresh
// cursor is positioned before its first entry.
type KVCursor interface {
	// Next moves to the next entry in the cursor's direction and
	// reports whether one exists.
	Next() bool

	// Seek positions the cursor at the first entry at or past the
	// given full key in the cursor's direction and reports whether one
	// exists.
	Seek(key []byte) bool

	// Key returns the full key of the current entry.
	Key() []byte

	// Value returns the value of the current entry.
	Value() []byte

	// Close releases the cursor.
	Close() error
}
