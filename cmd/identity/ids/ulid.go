// Package ids provides the ULID primitives used for identity, message and envelope ids.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Len is the length of a canonical ULID string.
const Len = ulid.EncodedSize

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new ULID string (26 chars).
// ULIDs minted for the same millisecond sort in the order they were minted,
// so message ids are orderable by creation time.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	entropyMu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	entropyMu.Unlock()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNewULID is NewULID for callers that cannot recover from entropy failure (tests, CLI).
func MustNewULID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		panic(err)
	}
	return id
}

// Valid reports whether s is a well-formed ULID.
func Valid(s string) bool {
	if len(s) != Len {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Time returns the creation time encoded in a ULID.
func Time(s string) (time.Time, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()).UTC(), nil
}
