package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func TestVerifier_IssueAndVerify(t *testing.T) {
	v := NewVerifier(testSecret, "threadboard", "threadboard-api")

	token, err := v.Issue(42, time.Hour)
	require.NoError(t, err)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier(testSecret, "threadboard", "threadboard-api")

	sign := func(claims jwt.Claims, method jwt.SigningMethod, key interface{}) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "7",
			Issuer:    "threadboard",
			Audience:  jwt.ClaimStrings{"threadboard-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"
	wrongAudience := valid()
	wrongAudience.Audience = jwt.ClaimStrings{"other-api"}
	badSubject := valid()
	badSubject.Subject = "alice"
	noExpiry := valid()
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", sign(valid(), jwt.SigningMethodHS256, []byte("another-secret"))},
		{"wrong algorithm", sign(valid(), jwt.SigningMethodHS512, []byte(testSecret))},
		{"expired", sign(expired, jwt.SigningMethodHS256, []byte(testSecret))},
		{"wrong issuer", sign(wrongIssuer, jwt.SigningMethodHS256, []byte(testSecret))},
		{"wrong audience", sign(wrongAudience, jwt.SigningMethodHS256, []byte(testSecret))},
		{"non numeric subject", sign(badSubject, jwt.SigningMethodHS256, []byte(testSecret))},
		{"no expiry", sign(noExpiry, jwt.SigningMethodHS256, []byte(testSecret))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifier_IssueWithoutSecret(t *testing.T) {
	_, err := NewVerifier("", "", "").Issue(1, time.Hour)
	assert.Error(t, err)
}

func TestParseAuthorization(t *testing.T) {
	token, err := ParseAuthorization("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	token, err = ParseAuthorization("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = ParseAuthorization("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = ParseAuthorization("Token abc")
	assert.ErrorIs(t, err, ErrMalformedAuth)

	_, err = ParseAuthorization("Bearer")
	assert.ErrorIs(t, err, ErrMalformedAuth)
}
