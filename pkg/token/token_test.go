package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/boltlabs/runtimed/pkg/errors"
)

const testSecret = "test-secret"

func testClaims() Claims {
	return Claims{
		ActorID:       "actor-1",
		ChatID:        "chat-1",
		ProjectID:     "project-1",
		EnvironmentID: "env-1",
		ComposeID:     "compose-1",
		Domain:        "app.example.com",
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Now()
	signed, err := Sign(testClaims(), testSecret, time.Hour, now)
	require.NoError(t, err)

	claims, err := Verify(signed, testSecret)
	require.NoError(t, err)

	assert.Equal(t, Version, claims.SchemaVersion)
	assert.Equal(t, "actor-1", claims.ActorID)
	assert.Equal(t, "chat-1", claims.ChatID)
	assert.Equal(t, "project-1", claims.ProjectID)
	assert.Equal(t, "env-1", claims.EnvironmentID)
	assert.Equal(t, "compose-1", claims.ComposeID)
	assert.Equal(t, "app.example.com", claims.Domain)
	assert.Equal(t, now.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
}

func TestVerifyWrongSecret(t *testing.T) {
	t.Parallel()

	signed, err := Sign(testClaims(), testSecret, time.Hour, time.Now())
	require.NoError(t, err)

	_, err = Verify(signed, "other-secret")
	require.Error(t, err)
	assert.True(t, rterrors.Is(err, rterrors.CodeUnauthorized))
}

func TestVerifyExpired(t *testing.T) {
	t.Parallel()

	issued := time.Now().Add(-2 * time.Hour)
	signed, err := Sign(testClaims(), testSecret, time.Hour, issued)
	require.NoError(t, err)

	_, err = Verify(signed, testSecret)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
	assert.Equal(t, 401, rterrors.StatusOf(err))
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	t.Parallel()

	claims := testClaims()
	claims.SchemaVersion = Version
	claims.IssuedAt = jwt.NewNumericDate(time.Now())
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = Verify(signed, testSecret)
	require.Error(t, err)
}

func TestVerifyRejectsMissingIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Claims)
	}{
		{"missing actor", func(c *Claims) { c.ActorID = "" }},
		{"missing chat", func(c *Claims) { c.ChatID = "" }},
		{"missing compose", func(c *Claims) { c.ComposeID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			claims := testClaims()
			tt.mutate(&claims)

			signed, err := Sign(claims, testSecret, time.Hour, time.Now())
			require.NoError(t, err)

			_, err = Verify(signed, testSecret)
			require.Error(t, err)
		})
	}
}

func TestSignRejectsBadInputs(t *testing.T) {
	t.Parallel()

	_, err := Sign(testClaims(), "", time.Hour, time.Now())
	require.Error(t, err)

	_, err = Sign(testClaims(), testSecret, 0, time.Now())
	require.Error(t, err)
}
