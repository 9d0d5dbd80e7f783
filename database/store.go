package database

import "fmt"

// ObjectStoreOptions configures a store created during a version-change
// window.
type ObjectStoreOptions struct {
	// KeyPath, when non-empty, derives primary keys from the given
	// dotted field path of put values.
	KeyPath string

	// AutoIncrement generates primary keys from a per-store counter
	// when no key is given and no key path is set.
	AutoIncrement bool
}

// ObjectStore is a stateless accessor over one object store, obtained
// from a live Transaction. It becomes unusable once the owning
// transaction reaches its terminal state.
type ObjectStore struct {
	transaction *Transaction
	meta        *StoreMeta
}

// Name returns the store's name.
func (s *ObjectStore) Name() string {
	return s.meta.Name
}

// KeyPath returns the dotted field path primary keys are derived from,
// empty for out-of-line stores.
func (s *ObjectStore) KeyPath() string {
	return s.meta.KeyPath
}

// AutoIncrement reports whether the store generates primary keys from a
// counter.
func (s *ObjectStore) AutoIncrement() bool {
	return s.meta.AutoIncrement
}

// IndexNames returns the names of the store's indexes.
func (s *ObjectStore) IndexNames() []string {
	names := make([]string, 0, len(s.meta.Indexes))
	for _, index := range s.meta.Indexes {
		names = append(names, index.Name)
	}
	return names
}

func (s *ObjectStore) subject() string {
	return fmt.Sprintf("record in store '%s'", s.meta.Name)
}

// Put writes a record, overwriting any previous record under the same
// key. A nil key derives the key from the store's key path or
// auto-increment counter. The future resolves with the resolved key.
func (s *ObjectStore) Put(value, key []byte) *ValueFuture {
	return s.write("put", key, value, false)
}

// Add writes a record like Put, except that it fails with a constraint
// Error when a record with the resolved key already exists.
func (s *ObjectStore) Add(value, key []byte) *ValueFuture {
	return s.write("add", key, value, true)
}

func (s *ObjectStore) write(action string, key, value []byte, mustNotExist bool) *ValueFuture {
	subject := s.subject()
	if err := s.transaction.checkRequest(action, subject, true); err != nil {
		return failedValueFuture(err)
	}
	// A nil key asks the engine to derive one; only copy given keys.
	var keyCopy []byte
	if key != nil {
		keyCopy = copyKey(key)
	}
	valueCopy := copyKey(value)

	future := newValueFuture()
	syncErr := s.transaction.enqueueOp(action, subject, func(preError *Error) *Error {
		if preError != nil {
			future.fail(preError)
			return nil
		}
		engineTx := s.transaction.withEngineTx()
		var resolvedKey []byte
		var err error
		if mustNotExist {
			resolvedKey, err = engineTx.Add(s.meta.Name, keyCopy, valueCopy)
		} else {
			resolvedKey, err = engineTx.Put(s.meta.Name, keyCopy, valueCopy)
		}
		if err != nil {
			translated := TranslateError(action, subject, FailureFromError(err))
			future.fail(translated)
			return translated
		}
		future.resolve(resolvedKey)
		return nil
	})
	if syncErr != nil {
		return failedValueFuture(syncErr)
	}
	return future
}

// Get resolves with the value of the record under the given key, or nil
// when no such record exists. A missing record is not an error.
func (s *ObjectStore) Get(key []byte) *ValueFuture {
	subject := s.subject()
	if err := s.transaction.checkRequest("get", subject, false); err != nil {
		return failedValueFuture(err)
	}
	keyCopy := copyKey(key)

	future := newValueFuture()
	syncErr := s.transaction.enqueueOp("get", subject, func(preError *Error) *Error {
		if preError != nil {
			future.fail(preError)
			return nil
		}
		value, err := s.transaction.withEngineTx().Get(s.meta.Name, keyCopy)
		if IsNotFoundError(err) {
			future.resolve(nil)
			return nil
		}
		if err != nil {
			translated := TranslateError("get", subject, FailureFromError(err))
			future.fail(translated)
			return translated
		}
		future.resolve(value)
		return nil
	})
	if syncErr != nil {
		return failedValueFuture(syncErr)
	}
	return future
}

// Remove deletes the record under the given key. Removing an absent key
// resolves successfully.
func (s *ObjectStore) Remove(key []byte) *EmptyFuture {
	subject := s.subject()
	if err := s.transaction.checkRequest("remove", subject, true); err != nil {
		return failedEmptyFuture(err)
	}
	keyCopy := copyKey(key)

	future := newEmptyFuture()
	syncErr := s.transaction.enqueueOp("remove", subject, func(preError *Error) *Error {
		if preError != nil {
			future.fail(preError)
			return nil
		}
		err := s.transaction.withEngineTx().Delete(s.meta.Name, keyCopy)
		if err != nil {
			translated := TranslateError("remove", subject, FailureFromError(err))
			future.fail(translated)
			return translated
		}
		future.resolve()
		return nil
	})
	if syncErr != nil {
		return failedEmptyFuture(syncErr)
	}
	return future
}

// Count resolves with the number of records inside the range, the whole
// store when rng is nil.
func (s *ObjectStore) Count(rng *KeyRange) *CountFuture {
	subject := fmt.Sprintf("records in store '%s'", s.meta.Name)
	if err := s.transaction.checkRequest("count", subject, false); err != nil {
		return failedCountFuture(err)
	}
	cursor := newCursor(s.transaction, s.meta.Name, "", rng, CursorForward, true)
	return countCursor(cursor)
}

// GetAll resolves with every value inside the range in cursor visitation
// order. It is equivalent to driving a cursor to completion and
// collecting Value at each NEW_DATA signal; a failure yields no partial
// results.
func (s *ObjectStore) GetAll(rng *KeyRange, direction CursorDirection) *ValuesFuture {
	subject := fmt.Sprintf("records in store '%s'", s.meta.Name)
	if err := s.transaction.checkRequest("get all", subject, false); err != nil {
		return failedValuesFuture(err)
	}
	cursor := newCursor(s.transaction, s.meta.Name, "", rng, direction, false)
	return collectCursor(cursor, (*Cursor).Value)
}

// OpenCursor opens a cursor over the store's records inside the range.
// Construction failures are synchronous; no usable cursor escapes them.
func (s *ObjectStore) OpenCursor(rng *KeyRange, direction CursorDirection) (*Cursor, error) {
	if err := s.transaction.checkRequest("open cursor", s.subject(), false); err != nil {
		return nil, err
	}
	cursor := newCursor(s.transaction, s.meta.Name, "", rng, direction, false)
	if err := cursor.start(); err != nil {
		return nil, err
	}
	return cursor, nil
}

// CreateIndex defines an index over the store. Legal only while a
// version-change transaction is active; existing records are backfilled
// and uniqueness violations fail with a constraint Error.
func (s *ObjectStore) CreateIndex(name, keyPath string, unique bool) (*Index, error) {
	subject := fmt.Sprintf("index '%s' on store '%s'", name, s.meta.Name)
	if err := s.checkStructural("create", subject); err != nil {
		return nil, err
	}
	indexMeta := &IndexMeta{Name: name, KeyPath: keyPath, Unique: unique}
	err := s.transaction.runSync("create", subject, func() *Error {
		engineErr := s.transaction.withEngineTx().CreateIndex(s.meta.Name, indexMeta)
		if engineErr != nil {
			return TranslateError("create", subject, FailureFromError(engineErr))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.meta.Indexes = append(s.meta.Indexes, indexMeta)
	return &Index{store: s, meta: indexMeta}, nil
}

// GetIndex returns an accessor for the named index. It fails with a
// translated not-found Error when the store has no such index.
func (s *ObjectStore) GetIndex(name string) (*Index, error) {
	subject := fmt.Sprintf("index '%s' on store '%s'", name, s.meta.Name)
	indexMeta := s.meta.Index(name)
	if indexMeta == nil {
		return nil, newError(ErrorCodeNotFound, "open", subject)
	}
	return &Index{store: s, meta: indexMeta}, nil
}

// DeleteIndex removes the named index. Legal only while a version-change
// transaction is active.
func (s *ObjectStore) DeleteIndex(name string) error {
	subject := fmt.Sprintf("index '%s' on store '%s'", name, s.meta.Name)
	if err := s.checkStructural("delete", subject); err != nil {
		return err
	}
	err := s.transaction.runSync("delete", subject, func() *Error {
		engineErr := s.transaction.withEngineTx().DeleteIndex(s.meta.Name, name)
		if engineErr != nil {
			return TranslateError("delete", subject, FailureFromError(engineErr))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, indexMeta := range s.meta.Indexes {
		if indexMeta.Name == name {
			s.meta.Indexes = append(s.meta.Indexes[:i], s.meta.Indexes[i+1:]...)
			break
		}
	}
	return nil
}

// checkStructural gates structural edits to the version-change window.
// Attempting them elsewhere is undefined by the engine and fails
// eagerly.
func (s *ObjectStore) checkStructural(action, subject string) *Error {
	if s.transaction.mode != TransactionVersionChange {
		return newError(ErrorCodeNotAllowed, action, subject)
	}
	if s.transaction.currentState() != transactionPending {
		return newError(ErrorCodeTransactionInactive, action, subject)
	}
	return nil
}

// collectCursor drives a cursor to completion, reading one field of the
// cursor at every NEW_DATA signal into an ordered sequence.
func collectCursor(cursor *Cursor, read func(*Cursor) []byte) *ValuesFuture {
	future := newValuesFuture()
	var collected [][]byte
	cursor.OnNewData(func() {
		collected = append(collected, read(cursor))
		err := cursor.Advance()
		if err != nil {
			future.fail(TranslateError("advance cursor", cursor.subject(), FailureFromError(err)))
		}
	})
	cursor.OnComplete(func() {
		future.resolve(collected)
	})
	cursor.OnError(func(err *Error) {
		future.fail(err)
	})
	if err := cursor.start(); err != nil {
		future.fail(err)
	}
	return future
}

// countCursor drives a key-only cursor to completion, counting NEW_DATA
// signals.
func countCursor(cursor *Cursor) *CountFuture {
	future := newCountFuture()
	var count uint64
	cursor.OnNewData(func() {
		count++
		err := cursor.Advance()
		if err != nil {
			future.fail(TranslateError("advance cursor", cursor.subject(), FailureFromError(err)))
		}
	})
	cursor.OnComplete(func() {
		future.resolve(count)
	})
	cursor.OnError(func(err *Error) {
		future.fail(err)
	})
	if err := cursor.start(); err != nil {
		future.fail(err)
	}
	return future
}
