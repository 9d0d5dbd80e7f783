package kvengine

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/objectdb/objectdb/database"
	"github.com/pkg/errors"
)

// engineDatabase is one handle to a shared flat database.
type engineDatabase struct {
	engine *Engine
	name   string
	shared *sharedDatabase

	closeOnce sync.Once
	closeErr  error
}

// Version returns the stored schema version, 0 for a fresh database.
//
// This method is part of the database.EngineDatabase interface.
func (db *engineDatabase) Version() (uint64, error) {
	var version uint64
	err := db.view(func(kv KVTransaction) error {
		encoded, ok, err := kv.Get(versionKey)
		if err != nil {
			return err
		}
		if ok {
			version = decodeUint64(encoded)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// StoreNames returns the names of all object stores, sorted.
//
// This method is part of the database.EngineDatabase interface.
func (db *engineDatabase) StoreNames() ([]string, error) {
	var names []string
	err := db.view(func(kv KVTransaction) error {
		prefix := storeMetaBucket.Path()
		cursor, err := kv.Cursor(prefix, false)
		if err != nil {
			return err
		}
		defer func() {
			closeErr := cursor.Close()
			if closeErr != nil {
				log.Warnf("closing store-names cursor of '%s' failed: %s", db.name, closeErr)
			}
		}()
		for cursor.Next() {
			names = append(names, string(cursor.Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// StoreMeta returns the meta of the named store.
//
// This method is part of the database.EngineDatabase interface.
func (db *engineDatabase) StoreMeta(store string) (*database.StoreMeta, error) {
	var meta *database.StoreMeta
	err := db.view(func(kv KVTransaction) error {
		loaded, err := loadStoreMeta(kv, store)
		if err != nil {
			return err
		}
		meta = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// Begin starts a new engine transaction.
//
// This method is part of the database.EngineDatabase interface.
func (db *engineDatabase) Begin(writable bool) (database.EngineTransaction, error) {
	kv, err := db.shared.kv.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &engineTransaction{
		kv:        kv,
		writable:  writable,
		metaCache: make(map[string]*database.StoreMeta),
	}, nil
}

// Close releases this handle.
//
// This method is part of the database.EngineDatabase interface.
func (db *engineDatabase) Close() error {
	db.closeOnce.Do(func() {
		db.closeErr = db.engine.release(db.name, db.shared)
	})
	return db.closeErr
}

// view runs fn inside a short-lived read-only flat transaction.
func (db *engineDatabase) view(fn func(kv KVTransaction) error) error {
	kv, err := db.shared.kv.Begin(false)
	if err != nil {
		return err
	}
	fnErr := fn(kv)
	rollbackErr := kv.Rollback()
	if fnErr != nil {
		return fnErr
	}
	return rollbackErr
}

// loadStoreMeta reads and decodes one store's meta. It returns
// database.ErrNotFound when the store does not exist.
func loadStoreMeta(kv KVTransaction, store string) (*database.StoreMeta, error) {
	encoded, ok, err := kv.Get(storeMetaKey(store))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(database.ErrNotFound, "store '%s' does not exist", store)
	}
	meta := &database.StoreMeta{}
	err = json.Unmarshal(encoded, meta)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruption, "decoding meta of store '%s': %s", store, err)
	}
	return meta, nil
}

func saveStoreMeta(kv KVTransaction, meta *database.StoreMeta) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrapf(database.ErrData, "encoding meta of store '%s': %s", meta.Name, err)
	}
	return kv.Put(storeMetaKey(meta.Name), encoded)
}
