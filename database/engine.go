package database

// StoreMeta describes one object store: its name, how primary keys are
// derived, and the indexes defined over it.
type StoreMeta struct {
	Name string `json:"name"`

	// KeyPath, when non-empty, is the dotted field path primary keys
	// are derived from when a record is put without an explicit key.
	KeyPath string `json:"keyPath,omitempty"`

	// AutoIncrement makes the store generate primary keys from a
	// per-store counter when a record is put without an explicit key
	// and no key path is set.
	AutoIncrement bool `json:"autoIncrement,omitempty"`

	Indexes []*IndexMeta `json:"indexes,omitempty"`
}

// Index returns the meta of the named index, or nil if the store has no
// such index.
func (m *StoreMeta) Index(name string) *IndexMeta {
	for _, index := range m.Indexes {
		if index.Name == name {
			return index
		}
	}
	return nil
}

// Clone returns a deep copy of the store meta.
func (m *StoreMeta) Clone() *StoreMeta {
	metaCopy := &StoreMeta{
		Name:          m.Name,
		KeyPath:       m.KeyPath,
		AutoIncrement: m.AutoIncrement,
	}
	for _, index := range m.Indexes {
		indexCopy := *index
		metaCopy.Indexes = append(metaCopy.Indexes, &indexCopy)
	}
	return metaCopy
}

// IndexMeta describes one secondary index over an object store.
type IndexMeta struct {
	Name    string `json:"name"`
	KeyPath string `json:"keyPath"`
	Unique  bool   `json:"unique,omitempty"`
}

// Engine is the host storage engine capability injected into a Factory.
// Implementations own storage, indexing and write isolation; the adapter
// only supplies the asynchronous result and signal plumbing around them.
type Engine interface {
	// Open opens the named database, creating it at version 0 if it
	// does not exist. Concurrent opens of the same name share one
	// underlying database.
	Open(name string) (EngineDatabase, error)

	// Delete removes the named database. It must only be called once
	// every handle to that database has been closed.
	Delete(name string) error
}

// EngineDatabase is one handle to an open engine database.
type EngineDatabase interface {
	// Version returns the stored schema version, 0 for a fresh
	// database.
	Version() (uint64, error)

	// StoreNames returns the names of all object stores, sorted.
	StoreNames() ([]string, error)

	// StoreMeta returns the meta of the named store. It returns
	// ErrNotFound if the store does not exist.
	StoreMeta(store string) (*StoreMeta, error)

	// Begin starts a new engine transaction. Writable transactions
	// must observe their own writes.
	Begin(writable bool) (EngineTransaction, error)

	// Close releases this handle. The underlying database closes once
	// every handle is released.
	Close() error
}

// EngineTransaction is one engine-level unit of work. All methods return
// the package's sentinel errors on failure so the adapter can translate
// them uniformly.
type EngineTransaction interface {
	// Put writes a record, overwriting any previous record with the
	// same key. A nil key derives the key from the store's key path or
	// auto-increment counter; the resolved key is returned. Index
	// entries are maintained and unique-index violations return
	// ErrConstraint.
	Put(store string, key, value []byte) (resolvedKey []byte, err error)

	// Add is Put except that it returns ErrConstraint when a record
	// with the resolved key already exists.
	Add(store string, key, value []byte) (resolvedKey []byte, err error)

	// Get returns the value of the record with the given key. It
	// returns ErrNotFound when no such record exists.
	Get(store string, key []byte) ([]byte, error)

	// Has reports whether a record with the given key exists.
	Has(store string, key []byte) (bool, error)

	// Delete removes the record with the given key along with its
	// index entries. Deleting an absent key is not an error.
	Delete(store string, key []byte) error

	// Cursor opens an engine cursor over the store's records inside
	// the given range, nil meaning the whole store.
	Cursor(store string, rng *KeyRange, direction CursorDirection) (EngineCursor, error)

	// IndexCursor opens an engine cursor over the entries of the named
	// index, positioned by index key.
	IndexCursor(store, index string, rng *KeyRange, direction CursorDirection) (EngineCursor, error)

	// CreateStore creates an object store. It returns ErrConstraint if
	// a store with that name already exists.
	CreateStore(meta *StoreMeta) error

	// DeleteStore removes a store, its records and its indexes. It
	// returns ErrNotFound if the store does not exist.
	DeleteStore(store string) error

	// CreateIndex defines an index over a store and backfills it from
	// the store's existing records. It returns ErrConstraint if the
	// index already exists or backfilling violates uniqueness.
	CreateIndex(store string, meta *IndexMeta) error

	// DeleteIndex removes an index and its entries. It returns
	// ErrNotFound if the index does not exist.
	DeleteIndex(store, index string) error

	// SetVersion stores a new schema version.
	SetVersion(version uint64) error

	// Commit atomically applies the transaction.
	Commit() error

	// Rollback discards the transaction.
	Rollback() error
}

// EngineCursor is a step-advanced engine iterator. A fresh cursor is
// positioned before its first record; the first Next call moves onto it.
type EngineCursor interface {
	// Next moves to the next record in the cursor's direction. It
	// returns false once the range is exhausted.
	Next() bool

	// Seek positions the cursor at the first record whose key is at or
	// past the given key in the cursor's direction. It returns false
	// when no such record exists within the range.
	Seek(key []byte) (bool, error)

	// Key returns the cursor's current key: the record key for store
	// cursors, the index key for index cursors. It returns ErrNotFound
	// when the cursor is not positioned on a record.
	Key() ([]byte, error)

	// PrimaryKey returns the key of the current record in its backing
	// store.
	PrimaryKey() ([]byte, error)

	// Value returns the current record's value.
	Value() ([]byte, error)

	// Close releases the cursor.
	Close() error
}
