package database

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Index key encoding tags. Tag order defines cross-type ordering:
// null < false < true < numbers < strings.
const (
	indexKeyTagNull   = 0x10
	indexKeyTagFalse  = 0x20
	indexKeyTagTrue   = 0x21
	indexKeyTagNumber = 0x30
	indexKeyTagString = 0x40
)

// ExtractKeyPathValue evaluates the dotted keyPath against a JSON
// document and returns the sortable encoding of the value found there.
// ok is false when the document has no value at the path, including when
// the path traverses a non-object value - such records are simply absent
// from the index. A document that is not valid JSON, or a path value that
// is an array or object, yields ErrData.
func ExtractKeyPathValue(document []byte, keyPath string) (indexKey []byte, ok bool, err error) {
	var decoded interface{}
	err = json.Unmarshal(document, &decoded)
	if err != nil {
		return nil, false, errors.Wrapf(ErrData, "value is not a valid document: %s", err)
	}

	current := decoded
	for _, field := range strings.Split(keyPath, ".") {
		object, isObject := current.(map[string]interface{})
		if !isObject {
			return nil, false, nil
		}
		next, exists := object[field]
		if !exists {
			return nil, false, nil
		}
		current = next
	}

	indexKey, err = EncodeIndexKey(current)
	if err != nil {
		return nil, false, err
	}
	return indexKey, true, nil
}

// EncodeIndexKey encodes a decoded JSON scalar into bytes whose bytewise
// order matches the scalar ordering null < false < true < numbers <
// strings. Arrays and objects cannot serve as keys and yield ErrData.
func EncodeIndexKey(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return []byte{indexKeyTagNull}, nil
	case bool:
		if v {
			return []byte{indexKeyTagTrue}, nil
		}
		return []byte{indexKeyTagFalse}, nil
	case float64:
		encoded := make([]byte, 9)
		encoded[0] = indexKeyTagNumber
		binary.BigEndian.PutUint64(encoded[1:], sortableFloat64Bits(v))
		return encoded, nil
	case string:
		encoded := make([]byte, 1+len(v))
		encoded[0] = indexKeyTagString
		copy(encoded[1:], v)
		return encoded, nil
	default:
		return nil, errors.Wrapf(ErrData, "value of type %T cannot be used as a key", value)
	}
}

// sortableFloat64Bits maps a float64 onto a uint64 whose unsigned order
// matches the numeric order of the input. Non-negative floats get their
// sign bit flipped; negative floats get all bits flipped.
func sortableFloat64Bits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		return bits | (1 << 63)
	}
	return ^bits
}
