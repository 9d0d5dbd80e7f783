package database

import "fmt"

// Index is a stateless accessor over one index of an object store. Index
// cursors visit records in index-key order; Key is the index key and
// PrimaryKey the key of the record in the backing store.
type Index struct {
	store *ObjectStore
	meta  *IndexMeta
}

// Name returns the index's name.
func (idx *Index) Name() string {
	return idx.meta.Name
}

// KeyPath returns the dotted field path the index derives its keys from.
func (idx *Index) KeyPath() string {
	return idx.meta.KeyPath
}

// Unique reports whether the index enforces uniqueness of its keys.
func (idx *Index) Unique() bool {
	return idx.meta.Unique
}

func (idx *Index) subject() string {
	return fmt.Sprintf("record via index '%s' of store '%s'", idx.meta.Name, idx.store.meta.Name)
}

func (idx *Index) pluralSubject() string {
	return fmt.Sprintf("records via index '%s' of store '%s'", idx.meta.Name, idx.store.meta.Name)
}

// Get resolves with the value of the first record whose index key falls
// inside the range, or nil when the range is empty.
func (idx *Index) Get(rng *KeyRange) *ValueFuture {
	return idx.first(rng, (*Cursor).Value, false)
}

// GetKey resolves with the primary key of the first record whose index
// key falls inside the range, or nil when the range is empty.
func (idx *Index) GetKey(rng *KeyRange) *ValueFuture {
	return idx.first(rng, (*Cursor).PrimaryKey, true)
}

func (idx *Index) first(rng *KeyRange, read func(*Cursor) []byte, keysOnly bool) *ValueFuture {
	subject := idx.subject()
	if err := idx.store.transaction.checkRequest("get", subject, false); err != nil {
		return failedValueFuture(err)
	}
	cursor := newCursor(idx.store.transaction, idx.store.meta.Name, idx.meta.Name,
		rng, CursorForward, keysOnly)

	future := newValueFuture()
	cursor.OnNewDataOnce(func() {
		result := read(cursor)
		err := cursor.Close()
		if err != nil {
			log.Warnf("closing cursor %s failed: %s", cursor.subject(), err)
		}
		future.resolve(result)
	})
	cursor.OnComplete(func() {
		future.resolve(nil)
	})
	cursor.OnError(func(err *Error) {
		future.fail(err)
	})
	if err := cursor.start(); err != nil {
		future.fail(err)
	}
	return future
}

// GetAll resolves with the values of every record whose index key falls
// inside the range, in index-key order.
func (idx *Index) GetAll(rng *KeyRange, direction CursorDirection) *ValuesFuture {
	subject := idx.pluralSubject()
	if err := idx.store.transaction.checkRequest("get all", subject, false); err != nil {
		return failedValuesFuture(err)
	}
	cursor := newCursor(idx.store.transaction, idx.store.meta.Name, idx.meta.Name,
		rng, direction, false)
	return collectCursor(cursor, (*Cursor).Value)
}

// GetAllKeys resolves with the primary keys of every record whose index
// key falls inside the range, in index-key order.
func (idx *Index) GetAllKeys(rng *KeyRange, direction CursorDirection) *ValuesFuture {
	subject := idx.pluralSubject()
	if err := idx.store.transaction.checkRequest("get all keys", subject, false); err != nil {
		return failedValuesFuture(err)
	}
	cursor := newCursor(idx.store.transaction, idx.store.meta.Name, idx.meta.Name,
		rng, direction, true)
	return collectCursor(cursor, (*Cursor).PrimaryKey)
}

// Count resolves with the number of index entries inside the range.
func (idx *Index) Count(rng *KeyRange) *CountFuture {
	subject := idx.pluralSubject()
	if err := idx.store.transaction.checkRequest("count", subject, false); err != nil {
		return failedCountFuture(err)
	}
	cursor := newCursor(idx.store.transaction, idx.store.meta.Name, idx.meta.Name,
		rng, CursorForward, true)
	return countCursor(cursor)
}

// OpenCursor opens a cursor over the index entries inside the range.
func (idx *Index) OpenCursor(rng *KeyRange, direction CursorDirection) (*Cursor, error) {
	return idx.openCursor(rng, direction, false)
}

// OpenKeyCursor opens a key-only cursor over the index entries inside
// the range. Key-only cursors carry no values and reject mutation.
func (idx *Index) OpenKeyCursor(rng *KeyRange, direction CursorDirection) (*Cursor, error) {
	return idx.openCursor(rng, direction, true)
}

func (idx *Index) openCursor(rng *KeyRange, direction CursorDirection, keysOnly bool) (*Cursor, error) {
	if err := idx.store.transaction.checkRequest("open cursor", idx.subject(), false); err != nil {
		return nil, err
	}
	cursor := newCursor(idx.store.transaction, idx.store.meta.Name, idx.meta.Name,
		rng, direction, keysOnly)
	if err := cursor.start(); err != nil {
		return nil, err
	}
	return cursor, nil
}
