package database_test

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/objectdb/objectdb/database"
)

// driveCursor collects the keys and values a cursor visits, returning
// once a terminal signal fires.
func driveCursor(t *testing.T, testName string, cursor *database.Cursor) (keys, values [][]byte) {
	done := make(chan *database.Error, 1)
	cursor.OnNewData(func() {
		keys = append(keys, cursor.Key())
		values = append(values, cursor.Value())
		err := cursor.Advance()
		if err != nil {
			t.Errorf("%s: Advance unexpectedly failed: %s", testName, err)
		}
	})
	cursor.OnComplete(func() {
		done <- nil
	})
	cursor.OnError(func(err *database.Error) {
		done <- err
	})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("%s: cursor unexpectedly errored: %s", testName, err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("%s: cursor did not reach a terminal signal", testName)
	}
	return keys, values
}

func preparePopulatedStore(t *testing.T, testName string,
	factory *database.Factory, records int) (*database.Connection, *database.Transaction, *database.ObjectStore) {

	connection, transaction, store := prepareTransaction(t, testName, factory)
	for i := 0; i < records; i++ {
		key := []byte(fmt.Sprintf("key%d", i))
		value := []byte(fmt.Sprintf("value%d", i))
		_, err := store.Put(value, key).Wait()
		if err != nil {
			t.Fatalf("%s: Put unexpectedly failed: %s", testName, err)
		}
	}
	return connection, transaction, store
}

func TestCursorIteration(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		connection, transaction, store := preparePopulatedStore(t, "TestCursorIteration", factory, 4)
		defer connection.Close()

		cursor, err := store.OpenCursor(nil, database.CursorForward)
		if err != nil {
			t.Fatalf("TestCursorIteration: OpenCursor unexpectedly failed: %s", err)
		}
		keys, values := driveCursor(t, "TestCursorIteration", cursor)

		expectedKeys := [][]byte{
			[]byte("key0"), []byte("key1"), []byte("key2"), []byte("key3"),
		}
		if len(keys) != len(expectedKeys) {
			t.Fatalf("TestCursorIteration: cursor visited %d records, want %d",
				len(keys), len(expectedKeys))
		}
		for i, expectedKey := range expectedKeys {
			if !bytes.Equal(keys[i], expectedKey) {
				t.Fatalf("TestCursorIteration: cursor visited wrong key at %d. "+
					"Want: %s, got: %s", i, expectedKey, keys[i])
			}
			expectedValue := []byte(fmt.Sprintf("value%d", i))
			if !bytes.Equal(values[i], expectedValue) {
				t.Fatalf("TestCursorIteration: cursor visited wrong value at %d. "+
					"Want: %s, got: %s", i, expectedValue, values[i])
			}
		}

		if cursor.State() != database.CursorStateExhausted {
			t.Fatalf("TestCursorIteration: cursor in wrong state after completion. "+
				"Want: %s, got: %s", database.CursorStateExhausted, cursor.State())
		}

		_, err = transaction.AwaitCompletion().Wait()
		if err != nil {
			t.Fatalf("TestCursorIteration: AwaitCompletion unexpectedly failed: %s", err)
		}
	})
}

func TestCursorReverseRange(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		connection, _, store := preparePopulatedStore(t, "TestCursorReverseRange", factory, 5)
		defer connection.Close()

		rng := database.Bound([]byte("key1"), []byte("key3"), true, false)
		cursor, err := store.OpenCursor(rng, database.CursorReverse)
		if err != nil {
			t.Fatalf("TestCursorReverseRange: OpenCursor unexpectedly failed: %s", err)
		}
		keys, _ := driveCursor(t, "TestCursorReverseRange", cursor)

		expectedKeys := [][]byte{[]byte("key3"), []byte("key2")}
		if len(keys) != len(expectedKeys) {
			t.Fatalf("TestCursorReverseRange: cursor visited %d records, want %d",
				len(keys), len(expectedKeys))
		}
		for i, expectedKey := range expectedKeys {
			if !bytes.Equal(keys[i], expectedKey) {
				t.Fatalf("TestCursorReverseRange: cursor visited wrong key at %d. "+
					"Want: %s, got: %s", i, expectedKey, keys[i])
			}
		}
	})
}

func TestCursorAdvanceGate(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		connection, _, store := preparePopulatedStore(t, "TestCursorAdvanceGate", factory, 2)
		defer connection.Close()

		cursor, err := store.OpenCursor(nil, database.CursorForward)
		if err != nil {
			t.Fatalf("TestCursorAdvanceGate: OpenCursor unexpectedly failed: %s", err)
		}

		firstData := make(chan struct{})
		cursor.OnNewDataOnce(func() {
			close(firstData)
		})
		select {
		case <-firstData:
		case <-time.After(10 * time.Second):
			t.Fatalf("TestCursorAdvanceGate: NEW_DATA was never delivered")
		}

		// The first advance is legal, an immediate second one is not:
		// the new position has not been observed yet.
		err = cursor.Advance()
		if err != nil {
			t.Fatalf("TestCursorAdvanceGate: Advance unexpectedly failed: %s", err)
		}
		err = cursor.Advance()
		if !database.IsErrorCode(err, database.ErrorCodeInvalidState) {
			t.Fatalf("TestCursorAdvanceGate: double Advance returned wrong error: %s", err)
		}
	})
}

func TestCursorAdvanceTo(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		connection, _, store := preparePopulatedStore(t, "TestCursorAdvanceTo", factory, 6)
		defer connection.Close()

		cursor, err := store.OpenCursor(nil, database.CursorForward)
		if err != nil {
			t.Fatalf("TestCursorAdvanceTo: OpenCursor unexpectedly failed: %s", err)
		}

		var keys [][]byte
		done := make(chan *database.Error, 1)
		first := true
		cursor.OnNewData(func() {
			keys = append(keys, cursor.Key())
			var err error
			if first {
				first = false
				err = cursor.AdvanceTo([]byte("key4"))
			} else {
				err = cursor.Advance()
			}
			if err != nil {
				t.Errorf("TestCursorAdvanceTo: advancing unexpectedly failed: %s", err)
			}
		})
		cursor.OnComplete(func() { done <- nil })
		cursor.OnError(func(err *database.Error) { done <- err })

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("TestCursorAdvanceTo: cursor unexpectedly errored: %s", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("TestCursorAdvanceTo: cursor did not reach a terminal signal")
		}

		expectedKeys := [][]byte{[]byte("key0"), []byte("key4"), []byte("key5")}
		if len(keys) != len(expectedKeys) {
			t.Fatalf("TestCursorAdvanceTo: cursor visited %d records, want %d",
				len(keys), len(expectedKeys))
		}
		for i, expectedKey := range expectedKeys {
			if !bytes.Equal(keys[i], expectedKey) {
				t.Fatalf("TestCursorAdvanceTo: cursor visited wrong key at %d. "+
					"Want: %s, got: %s", i, expectedKey, keys[i])
			}
		}
	})
}

func TestCursorUpdateAndDelete(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		connection, transaction, store := preparePopulatedStore(t, "TestCursorUpdateAndDelete", factory, 3)
		defer connection.Close()

		cursor, err := store.OpenCursor(nil, database.CursorForward)
		if err != nil {
			t.Fatalf("TestCursorUpdateAndDelete: OpenCursor unexpectedly failed: %s", err)
		}

		// Handlers run on the connection's dispatch goroutine, so the
		// mutation futures are only collected there and awaited from
		// the test goroutine: waiting inside the handler would block
		// the goroutine that settles them.
		var updateFuture, deleteFuture *database.EmptyFuture
		deleteIssued := make(chan struct{})
		done := make(chan *database.Error, 1)
		cursor.OnNewData(func() {
			key := cursor.Key()
			switch {
			case bytes.Equal(key, []byte("key0")):
				updateFuture = cursor.UpdateValue([]byte("updated"))
			case bytes.Equal(key, []byte("key1")):
				deleteFuture = cursor.DeleteValue()
				close(deleteIssued)
				// The test goroutine advances past this record once
				// the deletion has settled.
				return
			}
			advanceErr := cursor.Advance()
			if advanceErr != nil {
				t.Errorf("TestCursorUpdateAndDelete: Advance unexpectedly failed: %s", advanceErr)
			}
		})
		cursor.OnComplete(func() { done <- nil })
		cursor.OnError(func(err *database.Error) { done <- err })

		select {
		case <-deleteIssued:
		case <-time.After(10 * time.Second):
			t.Fatalf("TestCursorUpdateAndDelete: cursor never reached the second record")
		}
		err = deleteFuture.Wait()
		if err != nil {
			t.Fatalf("TestCursorUpdateAndDelete: DeleteValue unexpectedly failed: %s", err)
		}
		if cursor.Value() != nil {
			t.Fatalf("TestCursorUpdateAndDelete: Value after DeleteValue unexpectedly non-nil")
		}
		err = cursor.Advance()
		if err != nil {
			t.Fatalf("TestCursorUpdateAndDelete: Advance unexpectedly failed: %s", err)
		}

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("TestCursorUpdateAndDelete: cursor unexpectedly errored: %s", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("TestCursorUpdateAndDelete: cursor did not reach a terminal signal")
		}
		err = updateFuture.Wait()
		if err != nil {
			t.Fatalf("TestCursorUpdateAndDelete: UpdateValue unexpectedly failed: %s", err)
		}

		value, err := store.Get([]byte("key0")).Wait()
		if err != nil {
			t.Fatalf("TestCursorUpdateAndDelete: Get unexpectedly failed: %s", err)
		}
		if !bytes.Equal(value, []byte("updated")) {
			t.Fatalf("TestCursorUpdateAndDelete: Get returned wrong value. "+
				"Want: %s, got: %s", "updated", value)
		}
		value, err = store.Get([]byte("key1")).Wait()
		if err != nil {
			t.Fatalf("TestCursorUpdateAndDelete: Get unexpectedly failed: %s", err)
		}
		if value != nil {
			t.Fatalf("TestCursorUpdateAndDelete: deleted record unexpectedly "+
				"still present: %s", value)
		}

		_, err = transaction.AwaitCompletion().Wait()
		if err != nil {
			t.Fatalf("TestCursorUpdateAndDelete: AwaitCompletion unexpectedly failed: %s", err)
		}
	})
}

func TestCursorLateSubscription(t *testing.T) {
	forEachDriver(t, func(t *testing.T, factory *database.Factory) {
		connection, _, store := preparePopulatedStore(t, "TestCursorLateSubscription", factory, 1)
		defer connection.Close()

		cursor, err := store.OpenCursor(nil, database.CursorForward)
		if err != nil {
			t.Fatalf("TestCursorLateSubscription: OpenCursor unexpectedly failed: %s", err)
		}

		// Give the dispatch goroutine time to deliver NEW_DATA before
		// anyone subscribes.
		for i := 0; i < 100 && cursor.State() != database.CursorStateActive; i++ {
			time.Sleep(time.Millisecond)
		}
		if cursor.State() != database.CursorStateActive {
			t.Fatalf("TestCursorLateSubscription: cursor never became active")
		}

		// A late subscriber still receives the signal for the current
		// record.
		replayed := make(chan struct{})
		cursor.OnNewDataOnce(func() {
			close(replayed)
		})
		select {
		case <-replayed:
		case <-time.After(10 * time.Second):
			t.Fatalf("TestCursorLateSubscription: NEW_DATA was not replayed " +
				"to a late subscriber")
		}
	})
}
