// Package auth verifies the bearer tokens minted by the identity provider.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Errors returned by Verify and ParseAuthorization.
var (
	ErrMissingToken  = errors.New("authorization header required")
	ErrMalformedAuth = errors.New("invalid authorization header format")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

// Verifier checks HS256 tokens whose subject is a numeric user id.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	parser   *jwt.Parser
}

// NewVerifier creates a Verifier. Empty issuer or audience disable those checks.
func NewVerifier(secret, issuer, audience string) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		parser:   jwt.NewParser(opts...),
	}
}

// Verify validates token and returns the user id from its subject.
func (v *Verifier) Verify(token string) (uint, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 32)
	if err != nil || userID == 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	return uint(userID), nil
}

// Issue signs a token for userID valid for ttl. Used by development tooling;
// production tokens come from the identity provider.
func (v *Verifier) Issue(userID uint, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("JWT secret not configured")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// ParseAuthorization extracts the token from an "Authorization: Bearer" value.
func ParseAuthorization(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedAuth
	}
	return parts[1], nil
}
