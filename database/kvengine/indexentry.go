package kvengine

import (
	"bytes"

	"github.com/pkg/errors"
)

// Index entries concatenate the index key and the primary key into one
// flat-database key so that entries sort by index key first and primary
// key second. Zero bytes inside either part are escaped, which keeps
// the 0x00 0x01 part separator smaller than any escaped content byte
// and makes the concatenation order-preserving.
var entrySeparator = []byte{0x00, 0x01}

// escapeEntryPart escapes every zero byte as 0x00 0xFF.
func escapeEntryPart(part []byte) []byte {
	escaped := make([]byte, 0, len(part))
	for _, b := range part {
		if b == 0x00 {
			escaped = append(escaped, 0x00, 0xFF)
			continue
		}
		escaped = append(escaped, b)
	}
	return escaped
}

func unescapeEntryPart(escaped []byte) ([]byte, error) {
	part := make([]byte, 0, len(escaped))
	for i := 0; i < len(escaped); i++ {
		if escaped[i] != 0x00 {
			part = append(part, escaped[i])
			continue
		}
		if i+1 >= len(escaped) || escaped[i+1] != 0xFF {
			return nil, errors.Wrap(ErrCorruption, "truncated escape sequence in index entry")
		}
		part = append(part, 0x00)
		i++
	}
	return part, nil
}

// encodeIndexEntry builds the flat-database key suffix of one index
// entry.
func encodeIndexEntry(indexKey, primaryKey []byte) []byte {
	escapedIndexKey := escapeEntryPart(indexKey)
	escapedPrimaryKey := escapeEntryPart(primaryKey)

	entry := make([]byte, 0, len(escapedIndexKey)+len(entrySeparator)+len(escapedPrimaryKey))
	entry = append(entry, escapedIndexKey...)
	entry = append(entry, entrySeparator...)
	entry = append(entry, escapedPrimaryKey...)
	return entry
}

// indexEntryPrefix builds the entry prefix shared by every entry with
// the given index key. Used for unique-constraint probes.
func indexEntryPrefix(indexKey []byte) []byte {
	escapedIndexKey := escapeEntryPart(indexKey)
	prefix := make([]byte, 0, len(escapedIndexKey)+len(entrySeparator))
	prefix = append(prefix, escapedIndexKey...)
	prefix = append(prefix, entrySeparator...)
	return prefix
}

// decodeIndexEntry splits an entry back into its index key and primary
// key.
func decodeIndexEntry(entry []byte) (indexKey, primaryKey []byte, err error) {
	separatorIndex := bytes.Index(entry, entrySeparator)
	if separatorIndex < 0 {
		return nil, nil, errors.Wrap(ErrCorruption, "index entry has no separator")
	}
	indexKey, err = unescapeEntryPart(entry[:separatorIndex])
	if err != nil {
		return nil, nil, err
	}
	primaryKey, err = unescapeEntryPart(entry[separatorIndex+len(entrySeparator):])
	if err != nil {
		return nil, nil, err
	}
	return indexKey, primaryKey, nil
}
