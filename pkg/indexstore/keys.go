package indexstore

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// Composite index keys are plain concatenations of fixed-width parts, so
// lexicographic byte order equals the intended dimension order. Variable
// width parts (strings) may only appear as the final component.

// KeyUUID encodes an id as its 16 raw bytes.
func KeyUUID(id uuid.UUID) []byte {
	b := make([]byte, 16)
	copy(b, id[:])
	return b
}

// KeyTime encodes an instant as 8 big-endian bytes of its Unix nanosecond
// value. Monotonic in time for any instant after the epoch.
func KeyTime(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UnixNano()))
	return b
}

// KeyByte encodes a single enum discriminant.
func KeyByte(v byte) []byte { return []byte{v} }

// Concat joins key parts in order.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Sentinels for half-open dimensions in range scans.
var (
	MinTimeKey = make([]byte, 8)
	MaxTimeKey = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	MinUUIDKey = make([]byte, 16)
	MaxUUIDKey = []byte{
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	}
)

// TrailingUUID extracts the entity id that every index entry carries as its
// final 16 bytes.
func TrailingUUID(entry []byte) (uuid.UUID, bool) {
	if len(entry) < 16 {
		return uuid.Nil, false
	}
	var id uuid.UUID
	copy(id[:], entry[len(entry)-16:])
	return id, true
}
