package auth

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	s := NewSigner("secret")

	tok, expiresAt, err := s.Issue("root", "root", RoleAdmin, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := s.Verify(tok, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "root", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestVerifyRejects(t *testing.T) {
	s := NewSigner("secret")
	userTok, _, err := s.Issue("u1", "alice", RoleUser, time.Hour)
	require.NoError(t, err)
	foreignTok, _, err := NewSigner("other-secret").Issue("root", "root", RoleAdmin, time.Hour)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "root",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrMissingToken},
		{name: "base64 placeholder", token: base64.StdEncoding.EncodeToString([]byte("admin:1700000000")), want: ErrInvalidToken},
		{name: "wrong secret", token: foreignTok, want: ErrInvalidToken},
		{name: "alg none", token: unsigned, want: ErrInvalidToken},
		{name: "user token for admin", token: userTok, want: ErrWrongRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Verify(tt.token, RoleAdmin)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	s := NewSigner("secret")
	issued := time.Now()
	s.now = func() time.Time { return issued }

	tok, _, err := s.Issue("root", "root", RoleAdmin, time.Minute)
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = s.Verify(tok, RoleAdmin)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseBearerToken(t *testing.T) {
	tok, err := ParseBearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	tok, err = ParseBearerToken("bearer xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	for _, h := range []string{"", "Bearer", "Bearer  ", "Basic abc", "abc"} {
		_, err := ParseBearerToken(h)
		assert.ErrorIs(t, err, ErrMissingToken, h)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.NoError(t, CheckPassword(hash, "hunter2"))
	assert.ErrorIs(t, CheckPassword(hash, "hunter3"), ErrInvalidCredentials)
}
