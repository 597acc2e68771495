package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "modelproof/pkg/domain-errors"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("test-signing-key", "modelproof")
	userID := uuid.New()

	signed, err := svc.GenerateToken(userID, RoleAdmin, time.Minute)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.True(t, claims.IsAdmin())
}

func TestJWTService_RejectsExpired(t *testing.T) {
	svc := NewJWTService("test-signing-key", "modelproof")

	signed, err := svc.GenerateToken(uuid.New(), "viewer", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestJWTService_RejectsWrongIssuer(t *testing.T) {
	issuing := NewJWTService("test-signing-key", "some-other-service")
	verifying := NewJWTService("test-signing-key", "modelproof")

	signed, err := issuing.GenerateToken(uuid.New(), "viewer", time.Minute)
	require.NoError(t, err)

	_, err = verifying.ValidateToken(signed)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestJWTService_RejectsWrongKey(t *testing.T) {
	issuing := NewJWTService("key-a", "modelproof")
	verifying := NewJWTService("key-b", "modelproof")

	signed, err := issuing.GenerateToken(uuid.New(), "viewer", time.Minute)
	require.NoError(t, err)

	_, err = verifying.ValidateToken(signed)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
