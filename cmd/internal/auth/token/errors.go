package token

import (
	"errors"
	"fmt"
)

// ErrAuthFailure is the kind shared by every handshake rejection.
var ErrAuthFailure = errors.New("auth failure")

var (
	// ErrMissingToken is returned when no bearer credential was supplied.
	ErrMissingToken = fmt.Errorf("%w: missing token", ErrAuthFailure)

	// ErrInvalidToken is returned when a credential fails signature, issuer or claim validation.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrAuthFailure)

	// ErrTokenExpired is returned when a credential is past its expiration.
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrAuthFailure)

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid token config")
)

// IsAuthFailure reports whether err should refuse the connection.
func IsAuthFailure(err error) bool { return errors.Is(err, ErrAuthFailure) }
