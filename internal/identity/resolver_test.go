package identity

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ember-chat/internal/mocks"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, subject, handle string) string {
	t.Helper()
	claims := accountClaims{
		Handle: handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestResolveAnonymousFallsBackToAddressKey(t *testing.T) {
	r := NewResolver(testSecret, nil)
	req := httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "203.0.113.9:51234"

	id, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "ip:203.0.113.9", id.Key)
	assert.Equal(t, AnonHandle("203.0.113.9"), id.Handle)
	assert.True(t, id.Anonymous())
	assert.False(t, id.IsGuardian(time.Now()))
}

func TestResolveAnonymousHandleIsStable(t *testing.T) {
	assert.Equal(t, AnonHandle("203.0.113.9"), AnonHandle("203.0.113.9"))
	assert.NotEqual(t, AnonHandle("203.0.113.9"), AnonHandle("203.0.113.10"))
	assert.Regexp(t, `^anon-[0-9a-f]{6}$`, AnonHandle("203.0.113.9"))
}

func TestResolveHonorsForwardedFor(t *testing.T) {
	r := NewResolver(testSecret, nil)
	req := httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "10.0.0.1:443"
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")

	id, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ip:198.51.100.4", id.Key)
}

func TestResolveBindsAccountFromBearerToken(t *testing.T) {
	entitlements := new(mocks.EntitlementRepositoryMock)
	until := time.Now().Add(time.Hour)
	entitlements.On("GuardianUntil", mock.Anything, "acc-1").Return(until, nil)

	r := NewResolver(testSecret, entitlements)
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "acc-1", "ember_fan"))

	id, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "acct:acc-1", id.Key)
	assert.Equal(t, "acc-1", id.AccountID)
	assert.Equal(t, "ember_fan", id.Handle)
	assert.True(t, id.IsGuardian(time.Now()))
	assert.False(t, id.Anonymous())
	entitlements.AssertExpectations(t)
}

func TestResolveAcceptsTokenQueryParam(t *testing.T) {
	entitlements := new(mocks.EntitlementRepositoryMock)
	entitlements.On("GuardianUntil", mock.Anything, "acc-2").Return(time.Time{}, nil)

	r := NewResolver(testSecret, entitlements)
	req := httptest.NewRequest("GET", "/ws?token="+signToken(t, "acc-2", "quiet_one"), nil)

	id, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "acct:acc-2", id.Key)
	assert.False(t, id.IsGuardian(time.Now()))
}

func TestResolveRejectsTamperedToken(t *testing.T) {
	r := NewResolver(testSecret, nil)

	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "acc-1"}).
		SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+bad)

	_, err = r.Resolve(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveRejectsTokenWithoutSubject(t *testing.T) {
	r := NewResolver(testSecret, nil)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	_, err = r.Resolve(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveWithEmptySecretRejectsEveryToken(t *testing.T) {
	r := NewResolver("", nil)
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "acc-1", "x"))

	_, err := r.Resolve(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveFillsEmptyHandleFromAddress(t *testing.T) {
	entitlements := new(mocks.EntitlementRepositoryMock)
	entitlements.On("GuardianUntil", mock.Anything, "acc-3").Return(time.Time{}, nil)

	r := NewResolver(testSecret, entitlements)
	req := httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "203.0.113.9:1000"
	req.Header.Set("Authorization", "Bearer "+signToken(t, "acc-3", ""))

	id, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, AnonHandle("203.0.113.9"), id.Handle)
}
