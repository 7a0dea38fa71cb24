package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc, err := NewJWTService(Config{Secret: "s3cret", Issuer: "clinic-onboarding", TokenTTL: time.Hour})
	require.NoError(t, err)

	p := Principal{UserID: uuid.New(), Email: "admin@example.org", PlatformAdmin: true}
	token, err := svc.GenerateAccessToken(p)
	require.NoError(t, err)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, p, *got)
}

func TestJWTService_Rejects(t *testing.T) {
	svc, err := NewJWTService(Config{Secret: "s3cret", Issuer: "clinic-onboarding", TokenTTL: time.Hour})
	require.NoError(t, err)
	other, err := NewJWTService(Config{Secret: "different", Issuer: "clinic-onboarding", TokenTTL: time.Hour})
	require.NoError(t, err)

	foreign, err := other.GenerateAccessToken(Principal{UserID: uuid.New()})
	require.NoError(t, err)

	expiredSvc := svc.(*jwtService)
	expiredSvc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expiredSvc.GenerateAccessToken(Principal{UserID: uuid.New()})
	require.NoError(t, err)
	expiredSvc.now = time.Now

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong key", foreign},
		{"expired", stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewJWTService_RequiresSecret(t *testing.T) {
	_, err := NewJWTService(Config{})
	assert.ErrorIs(t, err, ErrMissingKey)
}
