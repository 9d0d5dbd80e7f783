package bdb

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/objectdb/objectdb/database"
	"github.com/objectdb/objectdb/database/kvengine"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func prepareDatabaseForTest(t *testing.T) *BoltDB {
	db, err := NewBoltDB(t.TempDir())
	require.NoError(t, err, "opening the bolt database")
	t.Cleanup(func() {
		require.NoError(t, db.Close(), "closing the bolt database")
	})
	return db
}

func TestBoltTransaction(t *testing.T) {
	db := prepareDatabaseForTest(t)

	tx, err := db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("key1"), []byte("value1")))

	value, found, err := tx.Get([]byte("key1"))
	require.NoError(t, err)
	require.True(t, found, "uncommitted write should be visible to its transaction")
	require.Equal(t, []byte("value1"), value)

	has, err := tx.Has([]byte("key1"))
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, tx.Delete([]byte("key1")))
	_, found, err = tx.Get([]byte("key1"))
	require.NoError(t, err)
	require.False(t, found, "deleted key should be gone")

	require.NoError(t, tx.Put([]byte("key2"), []byte("value2")))
	require.NoError(t, tx.Commit())

	_, _, err = tx.Get([]byte("key2"))
	require.True(t, errors.Is(err, database.ErrTransactionInactive),
		"closed transaction should reject requests, got: %s", err)

	check, err := db.Begin(false)
	require.NoError(t, err)
	defer check.Rollback()
	value, found, err = check.Get([]byte("key2"))
	require.NoError(t, err)
	require.True(t, found, "committed write should be visible")
	require.Equal(t, []byte("value2"), value)
}

func TestBoltReadOnlyTransaction(t *testing.T) {
	db := prepareDatabaseForTest(t)

	tx, err := db.Begin(false)
	require.NoError(t, err)

	err = tx.Put([]byte("key1"), []byte("value1"))
	require.True(t, errors.Is(err, database.ErrReadOnly),
		"read-only put should be rejected, got: %s", err)
	err = tx.Delete([]byte("key1"))
	require.True(t, errors.Is(err, database.ErrReadOnly),
		"read-only delete should be rejected, got: %s", err)

	// Committing a read-only transaction just releases it.
	require.NoError(t, tx.Commit())
}

func TestBoltCommitWithOpenReader(t *testing.T) {
	db := prepareDatabaseForTest(t)

	reader, err := db.Begin(false)
	require.NoError(t, err)

	// Write enough to force the data file to grow past its initial
	// size. The commit must not block on the open reader.
	writer, err := db.Begin(true)
	require.NoError(t, err)
	value := bytes.Repeat([]byte{0xAB}, 1024)
	for i := 0; i < 256; i++ {
		require.NoError(t, writer.Put([]byte(fmt.Sprintf("key%04d", i)), value))
	}

	committed := make(chan error, 1)
	go func() { committed <- writer.Commit() }()
	select {
	case err := <-committed:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("commit blocked on the open read transaction")
	}

	// The snapshot still predates the write.
	_, found, err := reader.Get([]byte("key0000"))
	require.NoError(t, err)
	require.False(t, found, "snapshot observed a write committed after it began")
	require.NoError(t, reader.Rollback())
}

func prepareCursorForTest(t *testing.T, reverse bool) kvengine.KVCursor {
	db := prepareDatabaseForTest(t)

	writer, err := db.Begin(true)
	require.NoError(t, err)
	for key, value := range map[string]string{
		"prefix/a": "1",
		"prefix/b": "2",
		"prefix/d": "4",
		"other/z":  "9",
	} {
		require.NoError(t, writer.Put([]byte(key), []byte(value)))
	}
	require.NoError(t, writer.Commit())

	tx, err := db.Begin(false)
	require.NoError(t, err)
	t.Cleanup(func() { tx.Rollback() })

	cursor, err := tx.Cursor([]byte("prefix/"), reverse)
	require.NoError(t, err)
	return cursor
}

func collectKeys(cursor kvengine.KVCursor) []string {
	var keys []string
	for cursor.Next() {
		keys = append(keys, string(cursor.Key()))
	}
	return keys
}

func TestBoltCursorForward(t *testing.T) {
	cursor := prepareCursorForTest(t, false)
	require.Equal(t, []string{"prefix/a", "prefix/b", "prefix/d"}, collectKeys(cursor))
	require.False(t, cursor.Next(), "exhausted cursor should stay exhausted")
}

func TestBoltCursorReverse(t *testing.T) {
	cursor := prepareCursorForTest(t, true)
	require.Equal(t, []string{"prefix/d", "prefix/b", "prefix/a"}, collectKeys(cursor))
}

func TestBoltCursorSeek(t *testing.T) {
	cursor := prepareCursorForTest(t, false)

	require.True(t, cursor.Seek([]byte("prefix/c")))
	require.Equal(t, []byte("prefix/d"), cursor.Key(),
		"seeking an absent key should land on the next one")

	require.True(t, cursor.Seek([]byte("prefix/b")))
	require.Equal(t, []byte("prefix/b"), cursor.Key())
	require.Equal(t, []byte("2"), cursor.Value())

	require.True(t, cursor.Next())
	require.Equal(t, []byte("prefix/d"), cursor.Key())

	require.False(t, cursor.Seek([]byte("prefix/e")),
		"seeking past the prefix should find nothing")
}

func TestBoltCursorSeekReverse(t *testing.T) {
	cursor := prepareCursorForTest(t, true)

	require.True(t, cursor.Seek([]byte("prefix/c")))
	require.Equal(t, []byte("prefix/b"), cursor.Key(),
		"reversed seek should land on the last key at or before the target")

	require.True(t, cursor.Seek([]byte("prefix/d")))
	require.Equal(t, []byte("prefix/d"), cursor.Key())

	require.True(t, cursor.Next())
	require.Equal(t, []byte("prefix/b"), cursor.Key())
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		prefix   []byte
		expected []byte
	}{
		{[]byte("abc"), []byte("abd")},
		{[]byte{0x01, 0xFF}, []byte{0x02}},
		{[]byte{0xFF, 0xFF}, nil},
		{[]byte{0x00}, []byte{0x01}},
	}
	for _, test := range tests {
		require.Equal(t, test.expected, prefixEnd(test.prefix),
			"prefixEnd(%x)", test.prefix)
	}
}
