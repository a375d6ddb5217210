// Package token signs and verifies runtime session tokens.
//
// Tokens are HMAC-SHA256 JWTs binding a session to its compose, project and
// domain. They are opaque to the editor and never stored server-side;
// revocation is implicit via compose deletion.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	rterrors "github.com/boltlabs/runtimed/pkg/errors"
)

// Version is the claim schema version this package understands.
const Version = 1

// Claims is the fixed claim shape carried by every session token.
type Claims struct {
	SchemaVersion int    `json:"v"`
	ActorID       string `json:"actorId"`
	ChatID        string `json:"chatId"`
	ProjectID     string `json:"projectId"`
	EnvironmentID string `json:"environmentId"`
	ComposeID     string `json:"composeId"`
	Domain        string `json:"domain,omitempty"`

	jwt.RegisteredClaims
}

// Sign issues a token for the given claims with exp = now + ttl. The iat and
// exp registered claims are always overwritten.
func Sign(claims Claims, secret string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", rterrors.NewInternal("token secret is not configured", nil)
	}
	if ttl <= 0 {
		return "", rterrors.NewInternal("token ttl must be positive", nil)
	}

	claims.SchemaVersion = Version
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", rterrors.NewInternal("failed to sign session token", err)
	}
	return signed, nil
}

// Verify parses and validates a token. It pins the signing method to HS256,
// requires an expiry, and rejects unknown schema versions or claims missing
// the identities every scoped operation depends on.
func Verify(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, rterrors.NewUnauthorized("runtime token expired", err)
		}
		return nil, rterrors.NewUnauthorized("invalid runtime token", err)
	}

	if claims.SchemaVersion != Version {
		return nil, rterrors.NewUnauthorized("unsupported runtime token version", nil)
	}
	if claims.ActorID == "" || claims.ChatID == "" || claims.ComposeID == "" {
		return nil, rterrors.NewUnauthorized("runtime token is missing required claims", nil)
	}

	return claims, nil
}
