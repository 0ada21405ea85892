package token

import (
	"context"
	"errors"
	"strings"
	"time"

	"courier/cmd/identity/ids"

	"github.com/golang-jwt/jwt/v5"
)

// maxTokenBytes bounds the credential size before any parsing work.
const maxTokenBytes = 4096

// Identity is the verified principal behind a credential.
type Identity struct {
	ID    string
	Name  string
	Email string
}

// Claims is the JWT claim set understood by the resolver.
type Claims struct {
	UserID string `json:"id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Manager verifies and issues HS256 bearer credentials.
type Manager struct {
	cfg Config
	key []byte
	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the verification clock (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg: cfg,
		key: []byte(cfg.Secret),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Issue signs a credential for id, valid from now for the configured TTL.
func (m *Manager) Issue(id Identity, now time.Time) (string, time.Time, error) {
	if !ids.Valid(id.ID) {
		return "", time.Time{}, ErrInvalidToken
	}
	exp := now.Add(m.cfg.AccessTokenTTL)

	claims := Claims{
		UserID: id.ID,
		Name:   id.Name,
		Email:  id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify resolves a raw credential into an Identity.
// Every failure wraps ErrAuthFailure; expired credentials are distinguishable via ErrTokenExpired.
func (m *Manager) Verify(ctx context.Context, raw string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrMissingToken
	}
	if len(raw) > maxTokenBytes {
		return Identity{}, ErrInvalidToken
	}

	// Build a fresh parser per call; options capture the clock.
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithLeeway(m.cfg.ClockSkew),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	var claims Claims
	if _, err := p.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrInvalidToken
	}

	if !ids.Valid(claims.UserID) {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		ID:    claims.UserID,
		Name:  claims.Name,
		Email: claims.Email,
	}, nil
}
