package token

import (
	"strings"
	"time"
)

// minSecretBytes is the smallest accepted HS256 key.
const minSecretBytes = 32

// Config defines the resolver's verification and issuance parameters.
type Config struct {
	// Issuer is the expected (and issued) "iss" claim.
	Issuer string

	// Secret is the raw HMAC-SHA256 key. Measured in bytes, not runes.
	Secret string

	// AccessTokenTTL is the lifetime of issued credentials.
	AccessTokenTTL time.Duration

	// ClockSkew is the leeway applied to exp/nbf/iat during verification.
	ClockSkew time.Duration
}

// DefaultConfig returns defaults suitable for development; Secret must still be set.
func DefaultConfig() Config {
	return Config{
		Issuer:         "courier",
		AccessTokenTTL: 24 * time.Hour,
		ClockSkew:      30 * time.Second,
	}
}

// Validate returns ErrConfig if the configuration cannot produce a safe resolver.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	if len(c.Secret) < minSecretBytes {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	return nil
}
