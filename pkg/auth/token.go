package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes access tokens from refresh tokens
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
	TokenTypeVerify  TokenType = "verify"
)

// Claims are the JWT claims of access and refresh tokens
type Claims struct {
	UserID string    `json:"userId"`
	Type   TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 tokens. Access and refresh tokens are
// signed with different secrets, so neither verifies as the other.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenIssuer creates a token issuer
func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

// RefreshTTL returns the refresh token lifetime, which is also the session lifetime
func (ti *TokenIssuer) RefreshTTL() time.Duration {
	return ti.refreshTTL
}

// Issue mints a new access/refresh pair for the user. Every token carries a
// random jti, so two pairs minted in the same second still differ.
func (ti *TokenIssuer) Issue(userID string) (TokenPair, error) {
	access, err := ti.sign(userID, TokenTypeAccess, ti.accessTTL, ti.accessSecret)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := ti.sign(userID, TokenTypeRefresh, ti.refreshTTL, ti.refreshSecret)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueVerification mints an email verification token. It is signed with the
// access secret but its type keeps it from authenticating requests.
func (ti *TokenIssuer) IssueVerification(userID string) (string, error) {
	return ti.sign(userID, TokenTypeVerify, ti.accessTTL, ti.accessSecret)
}

func (ti *TokenIssuer) sign(userID string, typ TokenType, ttl time.Duration, secret []byte) (string, error) {
	now := ti.now().UTC()
	claims := Claims{
		UserID: userID,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, expiry and type. Every failure is
// reported as ErrInvalidToken.
func (ti *TokenIssuer) Verify(token string, expected TokenType) (*Claims, error) {
	secret := ti.accessSecret
	if expected == TokenTypeRefresh {
		secret = ti.refreshSecret
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != expected || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ResetTokenBytes is the entropy of a password reset token
const ResetTokenBytes = 32

// GenerateResetToken returns a random hex token and the SHA-256 digest that
// is stored in its place.
func GenerateResetToken() (token, digest string, err error) {
	raw := make([]byte, ResetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	token = hex.EncodeToString(raw)
	return token, DigestToken(token), nil
}

// DigestToken computes the SHA-256 hex digest used to look up a reset token
func DigestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
