// Package auth issues and verifies the signed session and admin tokens used
// by the Chorus backend, and hashes account passwords.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const issuer = "chorus"

var (
	// ErrMissingToken indicates no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken indicates the token is malformed or its signature does not verify.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates the token verified but is past its expiry.
	ErrExpiredToken = errors.New("token expired")
	// ErrWrongRole indicates the token was issued for a different role.
	ErrWrongRole = errors.New("token not valid for this role")
)

// Claims carried by every Chorus token. Subject is the profile ID for user
// tokens and the admin username for admin tokens.
type Claims struct {
	Role     string `json:"role"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 tokens with a shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a signer for the given secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for subject with the given role that expires after ttl.
func (s *Signer) Issue(subject, username, role string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Role:     role,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer, expiry and role, and returns the claims.
func (s *Signer) Verify(tokenStr, role string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.Role != role {
		return nil, ErrWrongRole
	}
	return claims, nil
}

// ParseBearerToken extracts the token from an Authorization header value.
func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}
