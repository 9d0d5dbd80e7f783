package kvengine

import (
	"bytes"

	"github.com/objectdb/objectdb/database"
	"github.com/pkg/errors"
)

// engineTransaction implements database.EngineTransaction over one flat
// transaction. It owns key derivation, index maintenance and schema
// edits; the flat driver below only sees opaque keys.
type engineTransaction struct {
	kv       KVTransaction
	writable bool
	closed   bool

	// metaCache keeps store metas stable for the transaction's
	// lifetime, including metas the transaction itself edited.
	metaCache map[string]*database.StoreMeta
}

func (tx *engineTransaction) checkOpen() error {
	if tx.closed {
		return errors.Wrap(database.ErrTransactionInactive, "engine transaction already closed")
	}
	return nil
}

func (tx *engineTransaction) checkWritable() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if !tx.writable {
		return errors.Wrap(database.ErrReadOnly, "engine transaction is read-only")
	}
	return nil
}

func (tx *engineTransaction) storeMeta(store string) (*database.StoreMeta, error) {
	if meta, ok := tx.metaCache[store]; ok {
		return meta, nil
	}
	meta, err := loadStoreMeta(tx.kv, store)
	if err != nil {
		return nil, err
	}
	tx.metaCache[store] = meta
	return meta, nil
}

// Put writes a record, overwriting any previous record with the same
// key.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) Put(store string, key, value []byte) ([]byte, error) {
	return tx.write(store, key, value, false)
}

// Add is Put except that it fails when the resolved key already exists.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) Add(store string, key, value []byte) ([]byte, error) {
	return tx.write(store, key, value, true)
}

func (tx *engineTransaction) write(store string, key, value []byte, mustNotExist bool) ([]byte, error) {
	if err := tx.checkWritable(); err != nil {
		return nil, err
	}
	meta, err := tx.storeMeta(store)
	if err != nil {
		return nil, err
	}
	resolvedKey, err := tx.resolveKey(meta, key, value)
	if err != nil {
		return nil, err
	}

	dataKey := storeDataBucket(store).Key(resolvedKey)
	previous, hadPrevious, err := tx.kv.Get(dataKey)
	if err != nil {
		return nil, err
	}
	if mustNotExist && hadPrevious {
		return nil, errors.Wrapf(database.ErrConstraint,
			"record already exists in store '%s'", store)
	}

	if hadPrevious {
		err = tx.removeIndexEntries(meta, resolvedKey, previous)
		if err != nil {
			return nil, err
		}
	}
	err = tx.addIndexEntries(meta, resolvedKey, value)
	if err != nil {
		return nil, err
	}

	err = tx.kv.Put(dataKey, value)
	if err != nil {
		return nil, err
	}
	return resolvedKey, nil
}

// resolveKey derives the primary key of a write: the explicit key for
// out-of-line stores, the key-path value for in-line stores, or the
// next counter value for auto-increment stores.
func (tx *engineTransaction) resolveKey(meta *database.StoreMeta, key, value []byte) ([]byte, error) {
	if meta.KeyPath != "" {
		if key != nil {
			return nil, errors.Wrapf(database.ErrData,
				"store '%s' derives keys from path '%s', explicit keys are not allowed",
				meta.Name, meta.KeyPath)
		}
		derived, ok, err := database.ExtractKeyPathValue(value, meta.KeyPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrapf(database.ErrData,
				"value has no key at path '%s' of store '%s'", meta.KeyPath, meta.Name)
		}
		return derived, nil
	}
	if key != nil {
		return key, nil
	}
	if meta.AutoIncrement {
		return tx.nextSequenceKey(meta.Name)
	}
	return nil, errors.Wrapf(database.ErrData,
		"no key given and store '%s' has no key generator", meta.Name)
}

func (tx *engineTransaction) nextSequenceKey(store string) ([]byte, error) {
	encoded, ok, err := tx.kv.Get(sequenceKey(store))
	if err != nil {
		return nil, err
	}
	var next uint64 = 1
	if ok {
		next = decodeUint64(encoded) + 1
	}
	err = tx.kv.Put(sequenceKey(store), encodeUint64(next))
	if err != nil {
		return nil, err
	}
	return encodeUint64(next), nil
}

// addIndexEntries writes one entry per index that can derive a key from
// the value, probing unique indexes for collisions first.
func (tx *engineTransaction) addIndexEntries(meta *database.StoreMeta, primaryKey, value []byte) error {
	for _, index := range meta.Indexes {
		indexKey, ok, err := database.ExtractKeyPathValue(value, index.KeyPath)
		if err != nil {
			return err
		}
		if !ok {
			// Records without a value at the index path are simply
			// absent from the index.
			continue
		}
		if index.Unique {
			err = tx.checkUnique(meta.Name, index, indexKey, primaryKey)
			if err != nil {
				return err
			}
		}
		entryKey := storeIndexBucket(meta.Name, index.Name).Key(encodeIndexEntry(indexKey, primaryKey))
		err = tx.kv.Put(entryKey, primaryKey)
		if err != nil {
			return err
		}
	}
	return nil
}

func (tx *engineTransaction) removeIndexEntries(meta *database.StoreMeta, primaryKey, value []byte) error {
	for _, index := range meta.Indexes {
		indexKey, ok, err := database.ExtractKeyPathValue(value, index.KeyPath)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		entryKey := storeIndexBucket(meta.Name, index.Name).Key(encodeIndexEntry(indexKey, primaryKey))
		err = tx.kv.Delete(entryKey)
		if err != nil {
			return err
		}
	}
	return nil
}

// checkUnique fails when the unique index already holds the index key
// for a different record.
func (tx *engineTransaction) checkUnique(store string, index *database.IndexMeta,
	indexKey, primaryKey []byte) error {

	prefix := storeIndexBucket(store, index.Name).Key(indexEntryPrefix(indexKey))
	cursor, err := tx.kv.Cursor(prefix, false)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := cursor.Close()
		if closeErr != nil {
			log.Warnf("closing unique-probe cursor on index '%s' failed: %s", index.Name, closeErr)
		}
	}()

	for cursor.Next() {
		if !bytes.Equal(cursor.Value(), primaryKey) {
			return errors.Wrapf(database.ErrConstraint,
				"unique index '%s' of store '%s' already holds this key", index.Name, store)
		}
	}
	return nil
}

// Get returns the value of the record with the given key.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) Get(store string, key []byte) ([]byte, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := tx.storeMeta(store); err != nil {
		return nil, err
	}
	value, ok, err := tx.kv.Get(storeDataBucket(store).Key(key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(database.ErrNotFound, "no record in store '%s'", store)
	}
	return value, nil
}

// Has reports whether a record with the given key exists.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) Has(store string, key []byte) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	if _, err := tx.storeMeta(store); err != nil {
		return false, err
	}
	return tx.kv.Has(storeDataBucket(store).Key(key))
}

// Delete removes the record with the given key along with its index
// entries.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) Delete(store string, key []byte) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	meta, err := tx.storeMeta(store)
	if err != nil {
		return err
	}

	dataKey := storeDataBucket(store).Key(key)
	previous, hadPrevious, err := tx.kv.Get(dataKey)
	if err != nil {
		return err
	}
	if !hadPrevious {
		return nil
	}
	err = tx.removeIndexEntries(meta, key, previous)
	if err != nil {
		return err
	}
	return tx.kv.Delete(dataKey)
}

// CreateStore creates an object store.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) CreateStore(meta *database.StoreMeta) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if meta.Name == "" || bytes.Contains([]byte(meta.Name), separator) {
		return errors.Wrapf(database.ErrData, "invalid store name '%s'", meta.Name)
	}
	exists, err := tx.kv.Has(storeMetaKey(meta.Name))
	if err != nil {
		return err
	}
	if exists {
		return errors.Wrapf(database.ErrConstraint, "store '%s' already exists", meta.Name)
	}

	metaCopy := meta.Clone()
	err = saveStoreMeta(tx.kv, metaCopy)
	if err != nil {
		return err
	}
	tx.metaCache[meta.Name] = metaCopy
	return nil
}

// DeleteStore removes a store, its records, its indexes and its key
// counter.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) DeleteStore(store string) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	meta, err := tx.storeMeta(store)
	if err != nil {
		return err
	}

	err = tx.deletePrefix(storeDataBucket(store).Path())
	if err != nil {
		return err
	}
	for _, index := range meta.Indexes {
		err = tx.deletePrefix(storeIndexBucket(store, index.Name).Path())
		if err != nil {
			return err
		}
	}
	err = tx.kv.Delete(sequenceKey(store))
	if err != nil {
		return err
	}
	err = tx.kv.Delete(storeMetaKey(store))
	if err != nil {
		return err
	}
	delete(tx.metaCache, store)
	return nil
}

// CreateIndex defines an index over a store and backfills it from the
// store's existing records.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) CreateIndex(store string, indexMeta *database.IndexMeta) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	meta, err := tx.storeMeta(store)
	if err != nil {
		return err
	}
	if indexMeta.Name == "" || bytes.Contains([]byte(indexMeta.Name), separator) {
		return errors.Wrapf(database.ErrData, "invalid index name '%s'", indexMeta.Name)
	}
	if meta.Index(indexMeta.Name) != nil {
		return errors.Wrapf(database.ErrConstraint,
			"index '%s' already exists on store '%s'", indexMeta.Name, store)
	}

	indexCopy := *indexMeta
	updated := meta.Clone()
	updated.Indexes = append(updated.Indexes, &indexCopy)
	err = tx.backfillIndex(updated, &indexCopy)
	if err != nil {
		return err
	}
	err = saveStoreMeta(tx.kv, updated)
	if err != nil {
		return err
	}
	tx.metaCache[store] = updated
	return nil
}

// backfillIndex builds the entries of a fresh index from the store's
// existing records.
func (tx *engineTransaction) backfillIndex(meta *database.StoreMeta, index *database.IndexMeta) error {
	prefix := storeDataBucket(meta.Name).Path()
	cursor, err := tx.kv.Cursor(prefix, false)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := cursor.Close()
		if closeErr != nil {
			log.Warnf("closing backfill cursor on store '%s' failed: %s", meta.Name, closeErr)
		}
	}()

	for cursor.Next() {
		primaryKey := cursor.Key()[len(prefix):]
		indexKey, ok, err := database.ExtractKeyPathValue(cursor.Value(), index.KeyPath)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if index.Unique {
			err = tx.checkUnique(meta.Name, index, indexKey, primaryKey)
			if err != nil {
				return err
			}
		}
		entryKey := storeIndexBucket(meta.Name, index.Name).Key(encodeIndexEntry(indexKey, primaryKey))
		err = tx.kv.Put(entryKey, append([]byte(nil), primaryKey...))
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteIndex removes an index and its entries.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) DeleteIndex(store, index string) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	meta, err := tx.storeMeta(store)
	if err != nil {
		return err
	}
	if meta.Index(index) == nil {
		return errors.Wrapf(database.ErrNotFound,
			"index '%s' does not exist on store '%s'", index, store)
	}

	err = tx.deletePrefix(storeIndexBucket(store, index).Path())
	if err != nil {
		return err
	}

	updated := meta.Clone()
	for i, existing := range updated.Indexes {
		if existing.Name == index {
			updated.Indexes = append(updated.Indexes[:i], updated.Indexes[i+1:]...)
			break
		}
	}
	err = saveStoreMeta(tx.kv, updated)
	if err != nil {
		return err
	}
	tx.metaCache[store] = updated
	return nil
}

// SetVersion stores a new schema version.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) SetVersion(version uint64) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	return tx.kv.Put(versionKey, encodeUint64(version))
}

// Commit atomically applies the transaction.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) Commit() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.closed = true
	return tx.kv.Commit()
}

// Rollback discards the transaction.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) Rollback() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.closed = true
	return tx.kv.Rollback()
}

// deletePrefix removes every key sharing the given prefix. Keys are
// collected first so the underlying cursor never iterates its own
// deletions.
func (tx *engineTransaction) deletePrefix(prefix []byte) error {
	cursor, err := tx.kv.Cursor(prefix, false)
	if err != nil {
		return err
	}
	var keys [][]byte
	for cursor.Next() {
		keys = append(keys, append([]byte(nil), cursor.Key()...))
	}
	err = cursor.Close()
	if err != nil {
		return err
	}
	for _, key := range keys {
		err = tx.kv.Delete(key)
		if err != nil {
			return err
		}
	}
	return nil
}
