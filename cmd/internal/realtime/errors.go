package realtime

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for mapping to ack errors and HTTP status codes).
var (
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrInvalidReference   = errors.New("invalid_reference")
	ErrStorageUnavailable = errors.New("storage_unavailable")

	// ErrMessageNotFound is returned by stores when a single-row update names an unknown id.
	ErrMessageNotFound = errors.New("message_not_found")

	// ErrInvalidIdentity is returned by the Registry for an empty identity or nil handle.
	ErrInvalidIdentity = errors.New("invalid_identity")

	// ErrHandleInUse is returned when a handle is already bound to a different identity.
	ErrHandleInUse = errors.New("handle_in_use")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Msg is human readable and safe to return to the caller. Err keeps the underlying cause
// for logs; it is never rendered to clients.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidPayload(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidPayload, Msg: msg}
}

func invalidReference(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidReference, Msg: msg}
}

func storageUnavailable(op string, cause error) error {
	return OpError{Op: op, Kind: ErrStorageUnavailable, Msg: "message store unavailable", Err: cause}
}

// IsInvalidPayload reports whether err represents ErrInvalidPayload.
func IsInvalidPayload(err error) bool { return errors.Is(err, ErrInvalidPayload) }

// IsInvalidReference reports whether err represents ErrInvalidReference.
func IsInvalidReference(err error) bool { return errors.Is(err, ErrInvalidReference) }

// IsStorageUnavailable reports whether err represents ErrStorageUnavailable.
func IsStorageUnavailable(err error) bool { return errors.Is(err, ErrStorageUnavailable) }

// PublicMessage returns the client-safe text for err.
func PublicMessage(err error) string {
	var oe OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	switch {
	case IsInvalidPayload(err):
		return "invalid payload"
	case IsInvalidReference(err):
		return "invalid reference"
	default:
		return "internal error"
	}
}
