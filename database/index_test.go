package database_test

import (
	"bytes"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/objectdb/objectdb/database"
)

// prepareIndexedStore opens a database with a store named "items" and an
// index "byColor" over its "color" field.
func prepareIndexedStore(t *testing.T, testName string,
	factory *database.Factory) (*database.Connection, *database.Transaction, *database.ObjectStore) {

	connection, err := factory.OpenDatabase("test", 1,
		func(connection *database.Connection, _ *database.Transaction, _, _ uint64) error {
			store, err := connection.CreateObjectStore("items", database.ObjectStoreOptions{})
			if err != nil {
				return err
			}
			_, err = store.CreateIndex("byColor", "color", false)
			return err
		}, nil).Wait()
	if err != nil {
		t.Fatalf("%s: OpenDatabase unexpectedly failed: %s", testName, err)
	}

	transaction, err := connection.CreateTransaction([]string{"items"}, database.TransactionReadWrite)
	if err != nil {
		t.Fatalf("%s: CreateTransaction unexpectedly failed: %s", testName, err)
	}
	store, err := transaction.ObjectStore("items")
	if err != nil {
		t.Fatalf("%s: ObjectStore unexpectedly failed: %s", testName, err)
	}
	return connection, transaction, store
}

func putItem(t *testing.T, testName string, store *database.ObjectStore, key, color string) {
	value := []byte(fmt.Sprintf(`{"key": "%s", "color": "%s"}`, key, color))
	_, err := store.Put(value, []byte(key)).Wait()
	if err != nil {
		t.Fatalf("%s: Put unexpectedly failed: %s", testName, err)
	}
}

func encodeIndexKey(t *testing.T, testName string, value interface{}) []byte {
	encoded, err := database.EncodeIndexKey(value)
	if err != nil {
		t.Fatalf("%s: EncodeIndexKey unexpectedly failed: %s", testName, err)
	}
	return encoded
}

func TestIndexLookups(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		connection, _, store := prepareIndexedStore(t, "TestIndexLookups", factory)
		defer connection.Close()

		putItem(t, "TestIndexLookups", store, "a", "red")
		putItem(t, "TestIndexLookups", store, "b", "blue")
		putItem(t, "TestIndexLookups", store, "c", "green")

		index, err := store.GetIndex("byColor")
		if err != nil {
			t.Fatalf("TestIndexLookups: GetIndex unexpectedly failed: %s", err)
		}
		if index.KeyPath() != "color" {
			t.Fatalf("TestIndexLookups: index has wrong key path. "+
				"Want: %s, got: %s", "color", index.KeyPath())
		}

		blueKey := encodeIndexKey(t, "TestIndexLookups", "blue")
		value, err := index.Get(database.Only(blueKey)).Wait()
		if err != nil {
			t.Fatalf("TestIndexLookups: Get unexpectedly failed: %s", err)
		}
		expectedValue := []byte(`{"key": "b", "color": "blue"}`)
		if !bytes.Equal(value, expectedValue) {
			t.Fatalf("TestIndexLookups: Get returned wrong value. "+
				"Want: %s, got: %s", expectedValue, value)
		}

		primaryKey, err := index.GetKey(database.Only(blueKey)).Wait()
		if err != nil {
			t.Fatalf("TestIndexLookups: GetKey unexpectedly failed: %s", err)
		}
		if !bytes.Equal(primaryKey, []byte("b")) {
			t.Fatalf("TestIndexLookups: GetKey returned wrong key. "+
				"Want: %s, got: %s", "b", primaryKey)
		}

		// An empty range resolves with nil rather than failing.
		value, err = index.Get(database.Only(encodeIndexKey(t, "TestIndexLookups", "purple"))).Wait()
		if err != nil {
			t.Fatalf("TestIndexLookups: Get of an absent index key "+
				"unexpectedly failed: %s", err)
		}
		if value != nil {
			t.Fatalf("TestIndexLookups: Get of an absent index key "+
				"unexpectedly returned a value: %s", value)
		}

		// An unknown index name fails eagerly.
		_, err = store.GetIndex("no such index")
		if !database.IsNotFoundError(err) {
			t.Fatalf("TestIndexLookups: GetIndex of an unknown index returned "+
				"wrong error: %s", err)
		}
	})
}

func TestIndexOrdering(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		connection, _, store := prepareIndexedStore(t, "TestIndexOrdering", factory)
		defer connection.Close()

		// Records arrive in primary-key order; the index visits them in
		// index-key order.
		putItem(t, "TestIndexOrdering", store, "a", "red")
		putItem(t, "TestIndexOrdering", store, "b", "blue")
		putItem(t, "TestIndexOrdering", store, "c", "green")

		index, err := store.GetIndex("byColor")
		if err != nil {
			t.Fatalf("TestIndexOrdering: GetIndex unexpectedly failed: %s", err)
		}

		keys, err := index.GetAllKeys(nil, database.CursorForward).Wait()
		if err != nil {
			t.Fatalf("TestIndexOrdering: GetAllKeys unexpectedly failed: %s", err)
		}
		expectedKeys := [][]byte{[]byte("b"), []byte("c"), []byte("a")}
		if !reflect.DeepEqual(keys, expectedKeys) {
			t.Fatalf("TestIndexOrdering: GetAllKeys returned wrong keys. "+
				"Want: %s, got: %s", expectedKeys, keys)
		}

		keys, err = index.GetAllKeys(nil, database.CursorReverse).Wait()
		if err != nil {
			t.Fatalf("TestIndexOrdering: reverse GetAllKeys unexpectedly failed: %s", err)
		}
		expectedKeys = [][]byte{[]byte("a"), []byte("c"), []byte("b")}
		if !reflect.DeepEqual(keys, expectedKeys) {
			t.Fatalf("TestIndexOrdering: reverse GetAllKeys returned wrong keys. "+
				"Want: %s, got: %s", expectedKeys, keys)
		}

		count, err := index.Count(nil).Wait()
		if err != nil {
			t.Fatalf("TestIndexOrdering: Count unexpectedly failed: %s", err)
		}
		if count != 3 {
			t.Fatalf("TestIndexOrdering: Count returned wrong count. "+
				"Want: %d, got: %d", 3, count)
		}
	})
}

func TestIndexReverseAdvanceTo(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		connection, _, store := prepareIndexedStore(t, "TestIndexReverseAdvanceTo", factory)
		defer connection.Close()

		putItem(t, "TestIndexReverseAdvanceTo", store, "a", "red")
		putItem(t, "TestIndexReverseAdvanceTo", store, "b", "blue")
		putItem(t, "TestIndexReverseAdvanceTo", store, "c", "green")

		index, err := store.GetIndex("byColor")
		if err != nil {
			t.Fatalf("TestIndexReverseAdvanceTo: GetIndex unexpectedly failed: %s", err)
		}
		cursor, err := index.OpenCursor(nil, database.CursorReverse)
		if err != nil {
			t.Fatalf("TestIndexReverseAdvanceTo: OpenCursor unexpectedly failed: %s", err)
		}

		// Skipping backwards to an index key that is present must land
		// on that key's records, not jump past them.
		greenKey := encodeIndexKey(t, "TestIndexReverseAdvanceTo", "green")
		var keys, primaryKeys [][]byte
		done := make(chan *database.Error, 1)
		first := true
		cursor.OnNewData(func() {
			keys = append(keys, cursor.Key())
			primaryKeys = append(primaryKeys, cursor.PrimaryKey())
			var err error
			if first {
				first = false
				err = cursor.AdvanceTo(greenKey)
			} else {
				err = cursor.Advance()
			}
			if err != nil {
				t.Errorf("TestIndexReverseAdvanceTo: advancing unexpectedly failed: %s", err)
			}
		})
		cursor.OnComplete(func() { done <- nil })
		cursor.OnError(func(err *database.Error) { done <- err })

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("TestIndexReverseAdvanceTo: cursor unexpectedly errored: %s", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("TestIndexReverseAdvanceTo: cursor did not reach a terminal signal")
		}

		expectedKeys := [][]byte{
			encodeIndexKey(t, "TestIndexReverseAdvanceTo", "red"),
			greenKey,
			encodeIndexKey(t, "TestIndexReverseAdvanceTo", "blue"),
		}
		if !reflect.DeepEqual(keys, expectedKeys) {
			t.Fatalf("TestIndexReverseAdvanceTo: cursor visited wrong index keys. "+
				"Want: %x, got: %x", expectedKeys, keys)
		}
		expectedPrimaries := [][]byte{[]byte("a"), []byte("c"), []byte("b")}
		if !reflect.DeepEqual(primaryKeys, expectedPrimaries) {
			t.Fatalf("TestIndexReverseAdvanceTo: cursor visited wrong records. "+
				"Want: %s, got: %s", expectedPrimaries, primaryKeys)
		}
	})
}

func TestIndexMaintenance(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		connection, _, store := prepareIndexedStore(t, "TestIndexMaintenance", factory)
		defer connection.Close()

		putItem(t, "TestIndexMaintenance", store, "a", "red")

		index, err := store.GetIndex("byColor")
		if err != nil {
			t.Fatalf("TestIndexMaintenance: GetIndex unexpectedly failed: %s", err)
		}

		// Overwriting a record moves its index entry.
		putItem(t, "TestIndexMaintenance", store, "a", "blue")
		redKey := encodeIndexKey(t, "TestIndexMaintenance", "red")
		value, err := index.Get(database.Only(redKey)).Wait()
		if err != nil {
			t.Fatalf("TestIndexMaintenance: Get unexpectedly failed: %s", err)
		}
		if value != nil {
			t.Fatalf("TestIndexMaintenance: stale index entry unexpectedly "+
				"survived an overwrite: %s", value)
		}
		blueKey := encodeIndexKey(t, "TestIndexMaintenance", "blue")
		primaryKey, err := index.GetKey(database.Only(blueKey)).Wait()
		if err != nil {
			t.Fatalf("TestIndexMaintenance: GetKey unexpectedly failed: %s", err)
		}
		if !bytes.Equal(primaryKey, []byte("a")) {
			t.Fatalf("TestIndexMaintenance: GetKey returned wrong key. "+
				"Want: %s, got: %s", "a", primaryKey)
		}

		// Removing a record removes its index entry.
		err = store.Remove([]byte("a")).Wait()
		if err != nil {
			t.Fatalf("TestIndexMaintenance: Remove unexpectedly failed: %s", err)
		}
		count, err := index.Count(nil).Wait()
		if err != nil {
			t.Fatalf("TestIndexMaintenance: Count unexpectedly failed: %s", err)
		}
		if count != 0 {
			t.Fatalf("TestIndexMaintenance: Count after removal returned wrong "+
				"count. Want: %d, got: %d", 0, count)
		}

		// A record without the indexed field simply has no index entry.
		_, err = store.Put([]byte(`{"key": "d"}`), []byte("d")).Wait()
		if err != nil {
			t.Fatalf("TestIndexMaintenance: Put unexpectedly failed: %s", err)
		}
		count, err = index.Count(nil).Wait()
		if err != nil {
			t.Fatalf("TestIndexMaintenance: Count unexpectedly failed: %s", err)
		}
		if count != 0 {
			t.Fatalf("TestIndexMaintenance: unindexable record unexpectedly "+
				"counted. Want: %d, got: %d", 0, count)
		}
	})
}

func TestUniqueIndexConstraint(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		connection, err := factory.OpenDatabase("test", 1,
			func(connection *database.Connection, _ *database.Transaction, _, _ uint64) error {
				store, err := connection.CreateObjectStore("items", database.ObjectStoreOptions{})
				if err != nil {
					return err
				}
				_, err = store.CreateIndex("bySerial", "serial", true)
				return err
			}, nil).Wait()
		if err != nil {
			t.Fatalf("TestUniqueIndexConstraint: OpenDatabase unexpectedly failed: %s", err)
		}
		defer connection.Close()

		transaction, err := connection.CreateTransaction([]string{"items"}, database.TransactionReadWrite)
		if err != nil {
			t.Fatalf("TestUniqueIndexConstraint: CreateTransaction unexpectedly failed: %s", err)
		}
		store, err := transaction.ObjectStore("items")
		if err != nil {
			t.Fatalf("TestUniqueIndexConstraint: ObjectStore unexpectedly failed: %s", err)
		}

		_, err = store.Put([]byte(`{"serial": 1}`), []byte("a")).Wait()
		if err != nil {
			t.Fatalf("TestUniqueIndexConstraint: Put unexpectedly failed: %s", err)
		}

		// Rewriting the same record under the same serial is legal.
		_, err = store.Put([]byte(`{"serial": 1, "note": "updated"}`), []byte("a")).Wait()
		if err != nil {
			t.Fatalf("TestUniqueIndexConstraint: rewrite unexpectedly failed: %s", err)
		}

		// A second record with the same serial violates the constraint.
		_, err = store.Put([]byte(`{"serial": 1}`), []byte("b")).Wait()
		if !database.IsConstraintError(err) {
			t.Fatalf("TestUniqueIndexConstraint: duplicate serial returned "+
				"wrong error: %s", err)
		}
	})
}

func TestCreateIndexBackfill(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		// Version 1: a plain store with existing records.
		connection, err := factory.OpenDatabase("test", 1,
			func(connection *database.Connection, _ *database.Transaction, _, _ uint64) error {
				_, err := connection.CreateObjectStore("items", database.ObjectStoreOptions{})
				return err
			}, nil).Wait()
		if err != nil {
			t.Fatalf("TestCreateIndexBackfill: OpenDatabase unexpectedly failed: %s", err)
		}

		transaction, err := connection.CreateTransaction([]string{"items"}, database.TransactionReadWrite)
		if err != nil {
			t.Fatalf("TestCreateIndexBackfill: CreateTransaction unexpectedly failed: %s", err)
		}
		store, err := transaction.ObjectStore("items")
		if err != nil {
			t.Fatalf("TestCreateIndexBackfill: ObjectStore unexpectedly failed: %s", err)
		}
		putItem(t, "TestCreateIndexBackfill", store, "a", "red")
		putItem(t, "TestCreateIndexBackfill", store, "b", "blue")
		_, err = transaction.AwaitCompletion().Wait()
		if err != nil {
			t.Fatalf("TestCreateIndexBackfill: AwaitCompletion unexpectedly failed: %s", err)
		}
		connection.Close()

		// Version 2: the upgrade defines an index, which backfills from
		// the records written at version 1.
		connection, err = factory.OpenDatabase("test", 2,
			func(connection *database.Connection, upgradeTx *database.Transaction,
				oldVersion, newVersion uint64) error {

				if oldVersion != 1 || newVersion != 2 {
					t.Errorf("TestCreateIndexBackfill: upgrade callback got wrong "+
						"versions: %d to %d", oldVersion, newVersion)
				}
				store, err := upgradeTx.ObjectStore("items")
				if err != nil {
					return err
				}
				_, err = store.CreateIndex("byColor", "color", false)
				return err
			}, nil).Wait()
		if err != nil {
			t.Fatalf("TestCreateIndexBackfill: OpenDatabase unexpectedly failed: %s", err)
		}
		defer connection.Close()

		transaction, err = connection.CreateTransaction([]string{"items"}, database.TransactionReadOnly)
		if err != nil {
			t.Fatalf("TestCreateIndexBackfill: CreateTransaction unexpectedly failed: %s", err)
		}
		index, err := transaction.Index("items", "byColor")
		if err != nil {
			t.Fatalf("TestCreateIndexBackfill: Index unexpectedly failed: %s", err)
		}
		keys, err := index.GetAllKeys(nil, database.CursorForward).Wait()
		if err != nil {
			t.Fatalf("TestCreateIndexBackfill: GetAllKeys unexpectedly failed: %s", err)
		}
		expectedKeys := [][]byte{[]byte("b"), []byte("a")}
		if !reflect.DeepEqual(keys, expectedKeys) {
			t.Fatalf("TestCreateIndexBackfill: GetAllKeys returned wrong keys. "+
				"Want: %s, got: %s", expectedKeys, keys)
		}
	})
}

func TestDeleteIndexOutsideUpgrade(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		connection, _, store := prepareIndexedStore(t, "TestDeleteIndexOutsideUpgrade", factory)
		defer connection.Close()

		// Structural edits outside a version-change window are rejected.
		err := store.DeleteIndex("byColor")
		if !database.IsErrorCode(err, database.ErrorCodeNotAllowed) {
			t.Fatalf("TestDeleteIndexOutsideUpgrade: DeleteIndex returned wrong error: %s", err)
		}
		_, err = store.CreateIndex("another", "field", false)
		if !database.IsErrorCode(err, database.ErrorCodeNotAllowed) {
			t.Fatalf("TestDeleteIndexOutsideUpgrade: CreateIndex returned wrong error: %s", err)
		}
	})
}
