package ldb

import (
	"bytes"
	"testing"

	"github.com/objectdb/objectdb/database"
	"github.com/pkg/errors"
)

func prepareDatabaseForTest(t *testing.T, testName string) *LevelDB {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("%s: NewLevelDB unexpectedly failed: %s", testName, err)
	}
	t.Cleanup(func() {
		err := db.Close()
		if err != nil {
			t.Fatalf("%s: Close unexpectedly failed: %s", testName, err)
		}
	})
	return db
}

func TestTransactionPutGetDelete(t *testing.T) {
	db := prepareDatabaseForTest(t, "TestTransactionPutGetDelete")

	tx, err := db.Begin(true)
	if err != nil {
		t.Fatalf("TestTransactionPutGetDelete: Begin unexpectedly failed: %s", err)
	}
	err = tx.Put([]byte("key1"), []byte("value1"))
	if err != nil {
		t.Fatalf("TestTransactionPutGetDelete: Put unexpectedly failed: %s", err)
	}

	// A writable transaction observes its own writes.
	value, found, err := tx.Get([]byte("key1"))
	if err != nil {
		t.Fatalf("TestTransactionPutGetDelete: Get unexpectedly failed: %s", err)
	}
	if !found {
		t.Fatalf("TestTransactionPutGetDelete: Get of an uncommitted write " +
			"unexpectedly found nothing")
	}
	if !bytes.Equal(value, []byte("value1")) {
		t.Fatalf("TestTransactionPutGetDelete: Get returned wrong value. "+
			"Want: %s, got: %s", "value1", value)
	}
	has, err := tx.Has([]byte("key1"))
	if err != nil {
		t.Fatalf("TestTransactionPutGetDelete: Has unexpectedly failed: %s", err)
	}
	if !has {
		t.Fatalf("TestTransactionPutGetDelete: Has of an uncommitted write " +
			"unexpectedly returned false")
	}

	err = tx.Delete([]byte("key1"))
	if err != nil {
		t.Fatalf("TestTransactionPutGetDelete: Delete unexpectedly failed: %s", err)
	}
	_, found, err = tx.Get([]byte("key1"))
	if err != nil {
		t.Fatalf("TestTransactionPutGetDelete: Get unexpectedly failed: %s", err)
	}
	if found {
		t.Fatalf("TestTransactionPutGetDelete: Get of a deleted key " +
			"unexpectedly found a value")
	}

	err = tx.Commit()
	if err != nil {
		t.Fatalf("TestTransactionPutGetDelete: Commit unexpectedly failed: %s", err)
	}

	// A closed transaction rejects further requests.
	_, _, err = tx.Get([]byte("key1"))
	if !errors.Is(err, database.ErrTransactionInactive) {
		t.Fatalf("TestTransactionPutGetDelete: Get on a closed transaction "+
			"returned wrong error: %s", err)
	}
}

func TestReadOnlyTransaction(t *testing.T) {
	db := prepareDatabaseForTest(t, "TestReadOnlyTransaction")

	writer, err := db.Begin(true)
	if err != nil {
		t.Fatalf("TestReadOnlyTransaction: Begin unexpectedly failed: %s", err)
	}
	err = writer.Put([]byte("key1"), []byte("value1"))
	if err != nil {
		t.Fatalf("TestReadOnlyTransaction: Put unexpectedly failed: %s", err)
	}
	err = writer.Commit()
	if err != nil {
		t.Fatalf("TestReadOnlyTransaction: Commit unexpectedly failed: %s", err)
	}

	tx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("TestReadOnlyTransaction: Begin unexpectedly failed: %s", err)
	}
	value, found, err := tx.Get([]byte("key1"))
	if err != nil {
		t.Fatalf("TestReadOnlyTransaction: Get unexpectedly failed: %s", err)
	}
	if !found || !bytes.Equal(value, []byte("value1")) {
		t.Fatalf("TestReadOnlyTransaction: Get returned wrong value: %s", value)
	}

	err = tx.Put([]byte("key2"), []byte("value2"))
	if !errors.Is(err, database.ErrReadOnly) {
		t.Fatalf("TestReadOnlyTransaction: Put returned wrong error: %s", err)
	}
	err = tx.Delete([]byte("key1"))
	if !errors.Is(err, database.ErrReadOnly) {
		t.Fatalf("TestReadOnlyTransaction: Delete returned wrong error: %s", err)
	}

	err = tx.Rollback()
	if err != nil {
		t.Fatalf("TestReadOnlyTransaction: Rollback unexpectedly failed: %s", err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	db := prepareDatabaseForTest(t, "TestRollbackDiscardsWrites")

	tx, err := db.Begin(true)
	if err != nil {
		t.Fatalf("TestRollbackDiscardsWrites: Begin unexpectedly failed: %s", err)
	}
	err = tx.Put([]byte("key1"), []byte("value1"))
	if err != nil {
		t.Fatalf("TestRollbackDiscardsWrites: Put unexpectedly failed: %s", err)
	}
	err = tx.Rollback()
	if err != nil {
		t.Fatalf("TestRollbackDiscardsWrites: Rollback unexpectedly failed: %s", err)
	}

	check, err := db.Begin(false)
	if err != nil {
		t.Fatalf("TestRollbackDiscardsWrites: Begin unexpectedly failed: %s", err)
	}
	defer check.Rollback()
	_, found, err := check.Get([]byte("key1"))
	if err != nil {
		t.Fatalf("TestRollbackDiscardsWrites: Get unexpectedly failed: %s", err)
	}
	if found {
		t.Fatalf("TestRollbackDiscardsWrites: rolled-back write unexpectedly visible")
	}
}
