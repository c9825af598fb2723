package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidToken      = errors.New("invalid or expired token")
	ErrSessionRevoked    = errors.New("refresh session revoked")
	ErrVerificationToken = errors.New("invalid or expired verification token")
)

// Identity is the subset of a user that ends up in an access token.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// VerificationKind names the contact channel being verified.
type VerificationKind string

const (
	VerifyEmail VerificationKind = "email"
	VerifyPhone VerificationKind = "phone"
)

type Service struct {
	jwt             *JWTManager
	redisClient     redis.Cmdable
	verificationTTL time.Duration
}

func NewService(jwt *JWTManager, redisClient redis.Cmdable, verificationTTL time.Duration) *Service {
	return &Service{
		jwt:             jwt,
		redisClient:     redisClient,
		verificationTTL: verificationTTL,
	}
}

// IssueTokens creates an access token and, when withRefresh is set, a
// refresh token backed by a Redis session.
func (s *Service) IssueTokens(ctx context.Context, id Identity, withRefresh bool) (*TokenPair, error) {
	access, err := s.jwt.GenerateAccessToken(id)
	if err != nil {
		return nil, err
	}
	pair := &TokenPair{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.jwt.AccessExpiry().Seconds()),
	}
	if !withRefresh {
		return pair, nil
	}

	refresh, tokenID, err := s.jwt.GenerateRefreshToken(id.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.redisClient.Set(ctx, refreshKey(id.UserID, tokenID), "1", s.jwt.RefreshExpiry()).Err(); err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}
	pair.RefreshToken = refresh
	return pair, nil
}

func (s *Service) ParseRefreshToken(token string) (*RefreshClaims, error) {
	return s.jwt.ValidateRefreshToken(token)
}

// RotateRefreshToken revokes the session behind claims and issues a fresh
// token pair for id.
func (s *Service) RotateRefreshToken(ctx context.Context, claims *RefreshClaims, id Identity) (*TokenPair, error) {
	if claims.UserID != id.UserID {
		return nil, ErrSessionRevoked
	}

	// DEL doubles as the existence check so a token cannot be rotated twice.
	deleted, err := s.redisClient.Del(ctx, refreshKey(claims.UserID, claims.TokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("revoking refresh token: %w", err)
	}
	if deleted == 0 {
		return nil, ErrSessionRevoked
	}

	return s.IssueTokens(ctx, id, true)
}

// Logout deletes every refresh session of the user.
func (s *Service) Logout(ctx context.Context, userID string) error {
	iter := s.redisClient.Scan(ctx, 0, fmt.Sprintf("refresh:%s:*", userID), 100).Iterator()
	for iter.Next(ctx) {
		if err := s.redisClient.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("deleting refresh session: %w", err)
		}
	}
	return iter.Err()
}

func (s *Service) ValidateAccessToken(token string) (*AccessClaims, error) {
	return s.jwt.ValidateAccessToken(token)
}

func (s *Service) IssueTwoFactorToken(userID string) (string, error) {
	return s.jwt.GenerateTwoFactorToken(userID)
}

func (s *Service) ValidateTwoFactorToken(token string) (*TwoFactorClaims, error) {
	return s.jwt.ValidateTwoFactorToken(token)
}

// IssueVerificationToken stores a one-time token for the given channel.
func (s *Service) IssueVerificationToken(ctx context.Context, kind VerificationKind, userID string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating verification token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := s.redisClient.Set(ctx, verificationKey(kind, token), userID, s.verificationTTL).Err(); err != nil {
		return "", fmt.Errorf("storing verification token: %w", err)
	}
	return token, nil
}

// ConsumeVerificationToken returns the user id bound to token and deletes it.
func (s *Service) ConsumeVerificationToken(ctx context.Context, kind VerificationKind, token string) (string, error) {
	userID, err := s.redisClient.GetDel(ctx, verificationKey(kind, token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrVerificationToken
	}
	if err != nil {
		return "", fmt.Errorf("reading verification token: %w", err)
	}
	return userID, nil
}

func refreshKey(userID, tokenID string) string {
	return fmt.Sprintf("refresh:%s:%s", userID, tokenID)
}

func verificationKey(kind VerificationKind, token string) string {
	return fmt.Sprintf("verify:%s:%s", kind, token)
}
