package ldb

import (
	"bytes"

	"github.com/syndtr/goleveldb/leveldb/iterator"
)

// LevelDBCursor iterates one key prefix of a leveldb reader, in either
// direction. The iterator's range is already limited to the prefix, so
// the cursor only has to manage positioning.
type LevelDBCursor struct {
	iterator iterator.Iterator
	reverse  bool

	started  bool
	isClosed bool
}

// Next moves to the next entry in the cursor's direction.
//
// This method is part of the kvengine.KVCursor interface.
func (c *LevelDBCursor) Next() bool {
	if c.isClosed {
		return false
	}
	if !c.started {
		c.started = true
		if c.reverse {
			return c.iterator.Last()
		}
		return c.iterator.First()
	}
	if c.reverse {
		return c.iterator.Prev()
	}
	return c.iterator.Next()
}

// Seek positions the cursor at the first entry at or past the given
// full key in the cursor's direction.
//
// This method is part of the kvengine.KVCursor interface.
func (c *LevelDBCursor) Seek(key []byte) bool {
	if c.isClosed {
		return false
	}
	c.started = true
	// Iterator.Seek positions at the first key at or after the target.
	found := c.iterator.Seek(key)
	if !c.reverse {
		return found
	}
	// Reversed cursors want the last key at or before the target.
	if found && bytes.Equal(c.iterator.Key(), key) {
		return true
	}
	if !found {
		return c.iterator.Last()
	}
	return c.iterator.Prev()
}

// Key returns the full key of the current entry. Iterator buffers are
// reused between steps, so the key is copied out.
//
// This method is part of the kvengine.KVCursor interface.
func (c *LevelDBCursor) Key() []byte {
	return append([]byte(nil), c.iterator.Key()...)
}

// Value returns the value of the current entry, copied out of the
// iterator's buffer.
//
// This method is part of the kvengine.KVCursor interface.
func (c *LevelDBCursor) Value() []byte {
	return append([]byte(nil), c.iterator.Value()...)
}

// Close releases the cursor.
//
// This method is part of the kvengine.KVCursor interface.
func (c *LevelDBCursor) Close() error {
	if c.isClosed {
		return nil
	}
	c.isClosed = true
	c.iterator.Release()
	return c.iterator.Error()
}
