package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer = "learnhub"

	// PurposeTwoFactorPending marks a short-lived token that only allows
	// completing a 2FA challenge.
	PurposeTwoFactorPending = "2fa_pending"
)

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type AccessClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	UserID  string `json:"uid"`
	TokenID string `json:"tid"`
	jwt.RegisteredClaims
}

type TwoFactorClaims struct {
	UserID  string `json:"uid"`
	Purpose string `json:"type"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	accessSecret    []byte
	refreshSecret   []byte
	accessExpiry    time.Duration
	refreshExpiry   time.Duration
	twoFactorExpiry time.Duration
}

func NewJWTManager(accessSecret, refreshSecret string, accessExpiry, refreshExpiry, twoFactorExpiry time.Duration) *JWTManager {
	return &JWTManager{
		accessSecret:    []byte(accessSecret),
		refreshSecret:   []byte(refreshSecret),
		accessExpiry:    accessExpiry,
		refreshExpiry:   refreshExpiry,
		twoFactorExpiry: twoFactorExpiry,
	}
}

func (m *JWTManager) GenerateAccessToken(id Identity) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID: id.UserID,
		Email:  id.Email,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// GenerateRefreshToken returns the signed token and its token id.
func (m *JWTManager) GenerateRefreshToken(userID string) (string, string, error) {
	now := time.Now()
	tokenID := uuid.New().String()
	claims := RefreshClaims{
		UserID:  userID,
		TokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.refreshExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.refreshSecret)
	if err != nil {
		return "", "", fmt.Errorf("signing refresh token: %w", err)
	}
	return signed, tokenID, nil
}

// GenerateTwoFactorToken is signed with the access secret but carries a
// distinct claim set, so it is rejected by ValidateAccessToken.
func (m *JWTManager) GenerateTwoFactorToken(userID string) (string, error) {
	now := time.Now()
	claims := TwoFactorClaims{
		UserID:  userID,
		Purpose: PurposeTwoFactorPending,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.twoFactorExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", fmt.Errorf("signing 2fa token: %w", err)
	}
	return signed, nil
}

func (m *JWTManager) ValidateAccessToken(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims, m.accessSecret); err != nil {
		return nil, fmt.Errorf("%w: parsing access token: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: missing access claims", ErrInvalidToken)
	}
	return claims, nil
}

func (m *JWTManager) ValidateRefreshToken(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims, m.refreshSecret); err != nil {
		return nil, fmt.Errorf("%w: parsing refresh token: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" || claims.TokenID == "" {
		return nil, fmt.Errorf("%w: missing refresh claims", ErrInvalidToken)
	}
	return claims, nil
}

func (m *JWTManager) ValidateTwoFactorToken(tokenStr string) (*TwoFactorClaims, error) {
	claims := &TwoFactorClaims{}
	if err := m.parse(tokenStr, claims, m.accessSecret); err != nil {
		return nil, fmt.Errorf("%w: parsing 2fa token: %v", ErrInvalidToken, err)
	}
	if claims.Purpose != PurposeTwoFactorPending || claims.UserID == "" {
		return nil, fmt.Errorf("%w: not a 2fa token", ErrInvalidToken)
	}
	return claims, nil
}

func (m *JWTManager) parse(tokenStr string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token is not valid")
	}
	return nil
}

func (m *JWTManager) AccessExpiry() time.Duration {
	return m.accessExpiry
}

func (m *JWTManager) RefreshExpiry() time.Duration {
	return m.refreshExpiry
}
