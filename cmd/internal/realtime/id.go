package realtime

import (
	"time"

	"courier/cmd/identity/ids"
)

// NewMessageID returns a ULID used as message id.
// ULIDs minted by one process sort by creation time, which the stores rely on for ordering.
func NewMessageID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// ValidID reports whether s has the identifier format used for identities and messages.
func ValidID(s string) bool {
	return ids.Valid(s)
}
