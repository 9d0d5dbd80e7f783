package kvengine

import (
	"bytes"

	"github.com/objectdb/objectdb/database"
	"github.com/pkg/errors"
)

// Cursor opens an engine cursor over the store's records inside the
// given range.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) Cursor(store string, rng *database.KeyRange,
	direction database.CursorDirection) (database.EngineCursor, error) {

	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := tx.storeMeta(store); err != nil {
		return nil, err
	}
	prefix := storeDataBucket(store).Path()
	kv, err := tx.kv.Cursor(prefix, direction.Reverse())
	if err != nil {
		return nil, err
	}
	return &storeCursor{
		kv:      kv,
		prefix:  prefix,
		rng:     rng,
		reverse: direction.Reverse(),
	}, nil
}

// IndexCursor opens an engine cursor over the entries of the named
// index, positioned by index key.
//
// This method is part of the database.EngineTransaction interface.
func (tx *engineTransaction) IndexCursor(store, index string, rng *database.KeyRange,
	direction database.CursorDirection) (database.EngineCursor, error) {

	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	meta, err := tx.storeMeta(store)
	if err != nil {
		return nil, err
	}
	if meta.Index(index) == nil {
		return nil, errors.Wrapf(database.ErrNotFound,
			"index '%s' does not exist on store '%s'", index, store)
	}
	prefix := storeIndexBucket(store, index).Path()
	kv, err := tx.kv.Cursor(prefix, direction.Reverse())
	if err != nil {
		return nil, err
	}
	return &indexCursor{
		tx:      tx,
		store:   store,
		index:   index,
		kv:      kv,
		prefix:  prefix,
		rng:     rng,
		reverse: direction.Reverse(),
		unique:  direction.Unique(),
	}, nil
}

// belowRange reports whether key sorts below the range's lower end.
func belowRange(rng *database.KeyRange, key []byte) bool {
	if rng == nil {
		return false
	}
	lower, hasLower := rng.Lower()
	if !hasLower {
		return false
	}
	cmp := bytes.Compare(key, lower)
	return cmp < 0 || (cmp == 0 && rng.LowerOpen())
}

// aboveRange reports whether key sorts above the range's upper end.
func aboveRange(rng *database.KeyRange, key []byte) bool {
	if rng == nil {
		return false
	}
	upper, hasUpper := rng.Upper()
	if !hasUpper {
		return false
	}
	cmp := bytes.Compare(key, upper)
	return cmp > 0 || (cmp == 0 && rng.UpperOpen())
}

// pastRange reports whether key lies beyond the range in the iteration
// direction, at which point no further key can match.
func pastRange(rng *database.KeyRange, key []byte, reverse bool) bool {
	if reverse {
		return belowRange(rng, key)
	}
	return aboveRange(rng, key)
}

// notYetInRange reports whether key lies before the range in the
// iteration direction.
func notYetInRange(rng *database.KeyRange, key []byte, reverse bool) bool {
	if reverse {
		return aboveRange(rng, key)
	}
	return belowRange(rng, key)
}

// storeCursor iterates a store's records by primary key, filtered to a
// key range.
type storeCursor struct {
	kv      KVCursor
	prefix  []byte
	rng     *database.KeyRange
	reverse bool

	positioned bool
	key        []byte
	value      []byte
}

// Next moves to the next record inside the range.
//
// This method is part of the database.EngineCursor interface.
func (c *storeCursor) Next() bool {
	return c.scan(c.kv.Next())
}

// Seek positions the cursor at the first record whose key is at or past
// the given key in the cursor's direction.
//
// This method is part of the database.EngineCursor interface.
func (c *storeCursor) Seek(key []byte) (bool, error) {
	return c.scan(c.kv.Seek(c.fullKey(key))), nil
}

func (c *storeCursor) fullKey(key []byte) []byte {
	full := make([]byte, len(c.prefix)+len(key))
	copy(full, c.prefix)
	copy(full[len(c.prefix):], key)
	return full
}

// scan walks forward from the current flat position until a key inside
// the range is found or the range is provably exhausted.
func (c *storeCursor) scan(positioned bool) bool {
	for positioned {
		key := c.kv.Key()[len(c.prefix):]
		if pastRange(c.rng, key, c.reverse) {
			break
		}
		if !notYetInRange(c.rng, key, c.reverse) {
			c.key = append([]byte(nil), key...)
			c.value = append([]byte(nil), c.kv.Value()...)
			c.positioned = true
			return true
		}
		positioned = c.kv.Next()
	}
	c.positioned = false
	return false
}

// Key returns the current record's primary key.
//
// This method is part of the database.EngineCursor interface.
func (c *storeCursor) Key() ([]byte, error) {
	if !c.positioned {
		return nil, errors.Wrap(database.ErrNotFound, "cursor is not positioned on a record")
	}
	return c.key, nil
}

// PrimaryKey equals Key for store cursors.
//
// This method is part of the database.EngineCursor interface.
func (c *storeCursor) PrimaryKey() ([]byte, error) {
	return c.Key()
}

// Value returns the current record's value.
//
// This method is part of the database.EngineCursor interface.
func (c *storeCursor) Value() ([]byte, error) {
	if !c.positioned {
		return nil, errors.Wrap(database.ErrNotFound, "cursor is not positioned on a record")
	}
	return c.value, nil
}

// Close releases the cursor.
//
// This method is part of the database.EngineCursor interface.
func (c *storeCursor) Close() error {
	return c.kv.Close()
}

// indexCursor iterates an index's entries by index key, filtered to a
// key range, optionally skipping entries that repeat the previous index
// key.
type indexCursor struct {
	tx      *engineTransaction
	store   string
	index   string
	kv      KVCursor
	prefix  []byte
	rng     *database.KeyRange
	reverse bool
	unique  bool

	positioned bool
	indexKey   []byte
	primaryKey []byte
}

// Next moves to the next index entry inside the range.
//
// This method is part of the database.EngineCursor interface.
func (c *indexCursor) Next() bool {
	return c.scan(c.kv.Next(), c.unique)
}

// Seek positions the cursor at the first entry whose index key is at or
// past the given key in the cursor's direction.
//
// This method is part of the database.EngineCursor interface.
func (c *indexCursor) Seek(key []byte) (bool, error) {
	// Seeking restarts duplicate tracking: the target entry counts
	// even when its index key matches the pre-seek position.
	target := make([]byte, 0, len(c.prefix)+len(key)*2+2)
	target = append(target, c.prefix...)
	target = append(target, escapeEntryPart(key)...)
	if c.reverse {
		// Entries with exactly this index key continue with the
		// 0x00 0x01 separator, so the bare escaped key sorts below
		// all of them. Seeking to just past the separator makes the
		// reverse scan land on the group's last entry instead of
		// skipping the group.
		target = append(target, 0x00, 0x02)
	}
	return c.scan(c.kv.Seek(target), false), nil
}

// scan walks forward from the current flat position until an entry
// inside the range is found or the range is provably exhausted.
// Undecodable entries are logged and skipped.
func (c *indexCursor) scan(positioned, skipCurrentKey bool) bool {
	previousIndexKey := c.indexKey
	for positioned {
		entry := c.kv.Key()[len(c.prefix):]
		indexKey, primaryKey, err := decodeIndexEntry(entry)
		if err != nil {
			log.Errorf("skipping corrupt entry of index '%s' on store '%s': %s",
				c.index, c.store, err)
			positioned = c.kv.Next()
			continue
		}
		if pastRange(c.rng, indexKey, c.reverse) {
			break
		}
		skip := notYetInRange(c.rng, indexKey, c.reverse) ||
			(skipCurrentKey && c.positioned && bytes.Equal(indexKey, previousIndexKey))
		if !skip {
			c.indexKey = indexKey
			c.primaryKey = primaryKey
			c.positioned = true
			return true
		}
		positioned = c.kv.Next()
	}
	c.positioned = false
	return false
}

// Key returns the current entry's index key.
//
// This method is part of the database.EngineCursor interface.
func (c *indexCursor) Key() ([]byte, error) {
	if !c.positioned {
		return nil, errors.Wrap(database.ErrNotFound, "cursor is not positioned on a record")
	}
	return c.indexKey, nil
}

// PrimaryKey returns the key of the current record in its backing
// store.
//
// This method is part of the database.EngineCursor interface.
func (c *indexCursor) PrimaryKey() ([]byte, error) {
	if !c.positioned {
		return nil, errors.Wrap(database.ErrNotFound, "cursor is not positioned on a record")
	}
	return c.primaryKey, nil
}

// Value loads the referenced record's value from the backing store. A
// dangling entry is corruption.
//
// This method is part of the database.EngineCursor interface.
func (c *indexCursor) Value() ([]byte, error) {
	if !c.positioned {
		return nil, errors.Wrap(database.ErrNotFound, "cursor is not positioned on a record")
	}
	value, ok, err := c.tx.kv.Get(storeDataBucket(c.store).Key(c.primaryKey))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrCorruption,
			"entry of index '%s' on store '%s' references a missing record", c.index, c.store)
	}
	return value, nil
}

// Close releases the cursor.
//
// This method is part of the database.EngineCursor interface.
func (c *indexCursor) Close() error {
	return c.kv.Close()
}
