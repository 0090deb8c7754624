// Package auth issues and validates HS256 bearer tokens whose subject is the
// caller's chain identity.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"blindbid.org/internal/chain"
)

const (
	issuer    = "blindbid"
	clockSkew = 5 * time.Second
)

// RoleFaucet allows crediting development funds.
const RoleFaucet = "faucet"

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims carries the caller identity in Subject plus its roles.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Identity decodes the subject.
func (c *Claims) Identity() (chain.Identity, error) {
	return chain.ParseIdentity(c.Subject)
}

// Validate is called by the jwt parser after the registered claims pass.
func (c *Claims) Validate() error {
	if _, err := c.Identity(); err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	if c.IssuedAt == nil || c.ExpiresAt == nil {
		return errors.New("iat and exp are required")
	}
	if c.ExpiresAt.Before(c.IssuedAt.Time) {
		return errors.New("exp precedes iat")
	}
	return nil
}

var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(issuer),
	jwt.WithIssuedAt(),
	jwt.WithExpirationRequired(),
	jwt.WithLeeway(clockSkew),
)

// GenerateToken signs a token for id that expires after ttl.
func GenerateToken(id chain.Identity, roles []string, ttl time.Duration) (string, error) {
	switch {
	case chain.IsZero(id):
		return "", errors.New("identity is required")
	case ttl <= 0:
		return "", errors.New("ttl must be greater than zero")
	}
	key, err := signingKey.get()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles: normalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   id.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies signature and claims. Every validation failure is
// reported as ErrInvalidToken; a missing secret is returned as is.
func ParseAndValidate(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	key, err := signingKey.get()
	if err != nil {
		return nil, err
	}

	claims := new(Claims)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
		return nil, ErrInvalidToken
	}
	claims.Roles = normalizeRoles(claims.Roles)
	return claims, nil
}

// normalizeRoles lower-cases, trims and deduplicates roles, keeping order.
func normalizeRoles(roles []string) []string {
	var out []string
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}
