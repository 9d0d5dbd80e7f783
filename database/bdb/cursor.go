package bdb

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// BoltCursor iterates one key prefix of the flat bucket, in either
// direction.
type BoltCursor struct {
	cursor  *bolt.Cursor
	prefix  []byte
	reverse bool

	started    bool
	currentKey []byte
	currentVal []byte
}

// prefixEnd returns the smallest key past every key sharing the prefix,
// or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func (c *BoltCursor) set(key, value []byte) bool {
	if key == nil || !bytes.HasPrefix(key, c.prefix) {
		c.currentKey = nil
		c.currentVal = nil
		return false
	}
	c.currentKey = append([]byte(nil), key...)
	c.currentVal = append([]byte(nil), value...)
	return true
}

// Next moves to the next entry in the cursor's direction.
//
// This method is part of the kvengine.KVCursor interface.
func (c *BoltCursor) Next() bool {
	if !c.started {
		c.started = true
		if c.reverse {
			return c.set(c.seekLastInPrefix())
		}
		return c.set(c.cursor.Seek(c.prefix))
	}
	if c.reverse {
		return c.set(c.cursor.Prev())
	}
	return c.set(c.cursor.Next())
}

// seekLastInPrefix positions the bolt cursor at the last key sharing
// the prefix.
func (c *BoltCursor) seekLastInPrefix() ([]byte, []byte) {
	end := prefixEnd(c.prefix)
	if end == nil {
		return c.cursor.Last()
	}
	key, _ := c.cursor.Seek(end)
	if key == nil {
		return c.cursor.Last()
	}
	return c.cursor.Prev()
}

// Seek positions the cursor at the first entry at or past the given
// full key in the cursor's direction.
//
// This method is part of the kvengine.KVCursor interface.
func (c *BoltCursor) Seek(target []byte) bool {
	c.started = true
	key, value := c.cursor.Seek(target)
	if !c.reverse {
		return c.set(key, value)
	}
	// Reversed cursors want the last key at or before the target.
	if key != nil && bytes.Equal(key, target) {
		return c.set(key, value)
	}
	if key == nil {
		return c.set(c.cursor.Last())
	}
	return c.set(c.cursor.Prev())
}

// Key returns the full key of the current entry.
//
// This method is part of the kvengine.KVCursor interface.
func (c *BoltCursor) Key() []byte {
	return c.currentKey
}

// Value returns the value of the current entry.
//
// This method is part of the kvengine.KVCursor interface.
func (c *BoltCursor) Value() []byte {
	return c.currentVal
}

// Close releases the cursor. Bolt cursors are valid for the life of
// their transaction and need no explicit release.
//
// This method is part of the kvengine.KVCursor interface.
func (c *BoltCursor) Close() error {
	return nil
}
