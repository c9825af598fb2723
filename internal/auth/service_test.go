package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewService(newTestJWTManager(), client, time.Hour), mr
}

func TestService_IssueTokens(t *testing.T) {
	ctx := context.Background()
	svc, mr := setupService(t)
	id := Identity{UserID: "u1", Email: "a@b.com", Role: "student"}

	t.Run("without remember me no refresh session", func(t *testing.T) {
		pair, err := svc.IssueTokens(ctx, id, false)
		require.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.Empty(t, pair.RefreshToken)
		assert.Equal(t, int64(900), pair.ExpiresIn)
		assert.Empty(t, mr.Keys())
	})

	t.Run("with remember me stores session", func(t *testing.T) {
		pair, err := svc.IssueTokens(ctx, id, true)
		require.NoError(t, err)
		assert.NotEmpty(t, pair.RefreshToken)

		claims, err := svc.ParseRefreshToken(pair.RefreshToken)
		require.NoError(t, err)
		assert.True(t, mr.Exists(refreshKey("u1", claims.TokenID)))
		assert.Equal(t, 7*24*time.Hour, mr.TTL(refreshKey("u1", claims.TokenID)))
	})
}

func TestService_RotateRefreshToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)
	id := Identity{UserID: "u2", Email: "c@d.com", Role: "teacher"}

	pair, err := svc.IssueTokens(ctx, id, true)
	require.NoError(t, err)
	claims, err := svc.ParseRefreshToken(pair.RefreshToken)
	require.NoError(t, err)

	rotated, err := svc.RotateRefreshToken(ctx, claims, id)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.RefreshToken)

	// The old session is gone; reusing it fails.
	_, err = svc.RotateRefreshToken(ctx, claims, id)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	// A token belonging to another user is refused.
	newClaims, err := svc.ParseRefreshToken(rotated.RefreshToken)
	require.NoError(t, err)
	_, err = svc.RotateRefreshToken(ctx, newClaims, Identity{UserID: "someone-else", Role: "student"})
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()
	svc, mr := setupService(t)
	id := Identity{UserID: "u3", Role: "parent"}

	for i := 0; i < 3; i++ {
		_, err := svc.IssueTokens(ctx, id, true)
		require.NoError(t, err)
	}
	_, err := svc.IssueTokens(ctx, Identity{UserID: "other", Role: "parent"}, true)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, "u3"))

	keys := mr.Keys()
	assert.Len(t, keys, 1)
	assert.Contains(t, keys[0], "refresh:other:")
}

func TestService_VerificationTokens(t *testing.T) {
	ctx := context.Background()
	svc, mr := setupService(t)

	token, err := svc.IssueVerificationToken(ctx, VerifyEmail, "u4")
	require.NoError(t, err)
	assert.Len(t, token, 48)

	t.Run("wrong channel is rejected", func(t *testing.T) {
		_, err := svc.ConsumeVerificationToken(ctx, VerifyPhone, token)
		assert.ErrorIs(t, err, ErrVerificationToken)
	})

	t.Run("token is single use", func(t *testing.T) {
		userID, err := svc.ConsumeVerificationToken(ctx, VerifyEmail, token)
		require.NoError(t, err)
		assert.Equal(t, "u4", userID)

		_, err = svc.ConsumeVerificationToken(ctx, VerifyEmail, token)
		assert.ErrorIs(t, err, ErrVerificationToken)
	})

	t.Run("token expires", func(t *testing.T) {
		expiring, err := svc.IssueVerificationToken(ctx, VerifyPhone, "u5")
		require.NoError(t, err)
		mr.FastForward(2 * time.Hour)

		_, err = svc.ConsumeVerificationToken(ctx, VerifyPhone, expiring)
		assert.ErrorIs(t, err, ErrVerificationToken)
	})
}
