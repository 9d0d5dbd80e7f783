package database

import (
	"bytes"
	"fmt"
)

// KeyRange is an immutable interval over key space. Keys are byte slices
// ordered bytewise. A nil *KeyRange passed to scan and count operations
// means "the entire store or index".
type KeyRange struct {
	lower, upper         []byte
	hasLower, hasUpper   bool
	lowerOpen, upperOpen bool
}

func copyKey(key []byte) []byte {
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)
	return keyCopy
}

// Only returns a range matching exactly the given key.
func Only(key []byte) *KeyRange {
	keyCopy := copyKey(key)
	return &KeyRange{
		lower: keyCopy, upper: keyCopy,
		hasLower: true, hasUpper: true,
	}
}

// Bound returns a range between lower and upper. Each end is excluded
// from the range when its open flag is set.
func Bound(lower, upper []byte, lowerOpen, upperOpen bool) *KeyRange {
	return &KeyRange{
		lower: copyKey(lower), upper: copyKey(upper),
		hasLower: true, hasUpper: true,
		lowerOpen: lowerOpen, upperOpen: upperOpen,
	}
}

// LowerBound returns a range of all keys at or above lower, or strictly
// above it when open is set.
func LowerBound(lower []byte, open bool) *KeyRange {
	return &KeyRange{
		lower:    copyKey(lower),
		hasLower: true,
		lowerOpen: open,
	}
}

// UpperBound returns a range of all keys at or below upper, or strictly
// below it when open is set.
func UpperBound(upper []byte, open bool) *KeyRange {
	return &KeyRange{
		upper:    copyKey(upper),
		hasUpper: true,
		upperOpen: open,
	}
}

// Lower returns the lower bound and whether one exists.
func (r *KeyRange) Lower() ([]byte, bool) {
	if !r.hasLower {
		return nil, false
	}
	return copyKey(r.lower), true
}

// Upper returns the upper bound and whether one exists.
func (r *KeyRange) Upper() ([]byte, bool) {
	if !r.hasUpper {
		return nil, false
	}
	return copyKey(r.upper), true
}

// LowerOpen reports whether the lower bound is excluded from the range.
func (r *KeyRange) LowerOpen() bool {
	return r.lowerOpen
}

// UpperOpen reports whether the upper bound is excluded from the range.
func (r *KeyRange) UpperOpen() bool {
	return r.upperOpen
}

// Contains reports whether key falls inside the range. A nil range
// contains every key.
func (r *KeyRange) Contains(key []byte) bool {
	if r == nil {
		return true
	}
	return !r.isBelow(key) && !r.isAbove(key)
}

// isBelow reports whether key sorts below the range's lower end.
func (r *KeyRange) isBelow(key []byte) bool {
	if r == nil || !r.hasLower {
		return false
	}
	cmp := bytes.Compare(key, r.lower)
	return cmp < 0 || (cmp == 0 && r.lowerOpen)
}

// isAbove reports whether key sorts above the range's upper end.
func (r *KeyRange) isAbove(key []byte) bool {
	if r == nil || !r.hasUpper {
		return false
	}
	cmp := bytes.Compare(key, r.upper)
	return cmp > 0 || (cmp == 0 && r.upperOpen)
}

func (r *KeyRange) String() string {
	if r == nil {
		return "(unbounded)"
	}
	lowerBracket, upperBracket := "[", "]"
	if r.lowerOpen {
		lowerBracket = "("
	}
	if r.upperOpen {
		upperBracket = ")"
	}
	lower, upper := "...", "..."
	if r.hasLower {
		lower = fmt.Sprintf("%x", r.lower)
	}
	if r.hasUpper {
		upper = fmt.Sprintf("%x", r.upper)
	}
	return fmt.Sprintf("%s%s, %s%s", lowerBracket, lower, upper, upperBracket)
}
