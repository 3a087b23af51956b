package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pharmacy/m/domain"
	"pharmacy/m/internal/testutil"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	raw, err := tokens.Issue(7, "a@example.com", domain.RoleAdmin)
	require.NoError(t, err)

	claims, err := tokens.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.True(t, claims.IsAdmin())
}

func TestTokensRejectExpiredAndForeign(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	raw, err := tokens.Issue(1, "a@example.com", domain.RoleUser)
	require.NoError(t, err)

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = tokens.Verify(raw)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	other := NewTokens("another", time.Hour)
	raw, err = other.Issue(1, "a@example.com", domain.RoleUser)
	require.NoError(t, err)
	_, err = NewTokens("secret", time.Hour).Verify(raw)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1, Role: domain.RoleAdmin})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = NewTokens("secret", time.Hour).Verify(unsigned)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRegisterAndLogin(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, NewTokens("secret", time.Hour), zap.NewNop())
	ctx := context.Background()

	session, err := svc.Register(ctx, RegisterInput{Email: "Jane@Example.com", Password: "secret1", Name: "Jane"})
	require.NoError(t, err)
	require.NotNil(t, session.User)
	assert.Equal(t, "jane@example.com", session.User.Email)
	assert.NotEmpty(t, session.Token)

	_, err = svc.Register(ctx, RegisterInput{Email: "jane@example.com", Password: "secret1", Name: "Jane"})
	require.ErrorIs(t, err, domain.ErrConflict)

	session, err = svc.Login(ctx, "jane@example.com", "secret1")
	require.NoError(t, err)
	claims, err := svc.Tokens().Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, claims.Role)

	_, err = svc.Login(ctx, "jane@example.com", "wrong")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = svc.Login(ctx, "nobody@example.com", "secret1")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestEnsureAdminAndAdminLogin(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, NewTokens("secret", time.Hour), zap.NewNop())
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "admin@example.com", "admin123", "Admin")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.EnsureAdmin(ctx, "admin@example.com", "admin123", "Admin")
	require.NoError(t, err)
	assert.False(t, created)

	session, err := svc.AdminLogin(ctx, "admin@example.com", "admin123")
	require.NoError(t, err)
	claims, err := svc.Tokens().Verify(session.Token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())

	_, err = svc.AdminLogin(ctx, "admin@example.com", "nope")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
