package database

// CursorDirection is the closed set of iteration directions a cursor may
// take over its range.
type CursorDirection int

const (
	// CursorForward iterates keys in ascending order, visiting every
	// record.
	CursorForward CursorDirection = iota

	// CursorForwardUnique iterates keys in ascending order, visiting
	// only the first record of each distinct key.
	CursorForwardUnique

	// CursorReverse iterates keys in descending order, visiting every
	// record.
	CursorReverse

	// CursorReverseUnique iterates keys in descending order, visiting
	// only the first record of each distinct key.
	CursorReverseUnique
)

// Reverse reports whether the direction iterates keys in descending
// order.
func (d CursorDirection) Reverse() bool {
	return d == CursorReverse || d == CursorReverseUnique
}

// Unique reports whether the direction skips duplicate keys.
func (d CursorDirection) Unique() bool {
	return d == CursorForwardUnique || d == CursorReverseUnique
}

func (d CursorDirection) String() string {
	switch d {
	case CursorForward:
		return "forward"
	case CursorForwardUnique:
		return "forward-unique"
	case CursorReverse:
		return "reverse"
	case CursorReverseUnique:
		return "reverse-unique"
	default:
		return "unknown"
	}
}
