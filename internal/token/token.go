// Package token mints and verifies the signed bearer tokens that carry
// identity, role, and authentication strength between requests.
//
// Two tiers exist: partial tokens are minted straight after a password
// login (TwoFactorVerified=false, 24h) and full tokens after step-up
// verification (TwoFactorVerified=true, 12h). The shorter full-token
// lifetime forces periodic re-verification for sustained sensitive access.
// Verification is stateless, with no storage lookup, so downstream checks can
// gate on authentication strength without a round trip.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors.
var (
	ErrExpired          = errors.New("token expired")
	ErrMalformed        = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
)

// Claims carried by every txgate bearer token.
type Claims struct {
	jwt.RegisteredClaims
	UserID            string `json:"uid"`
	Email             string `json:"email"`
	Role              string `json:"role"`
	TwoFactorVerified bool   `json:"2fa_verified"`
}

// Issuer signs and verifies bearer tokens with a shared HMAC key.
type Issuer struct {
	secret     []byte
	partialTTL time.Duration
	fullTTL    time.Duration
	now        func() time.Time
}

// NewIssuer creates a token issuer. partialTTL applies to tokens minted
// before step-up, fullTTL to tokens minted after.
func NewIssuer(secret []byte, partialTTL, fullTTL time.Duration) *Issuer {
	return &Issuer{
		secret:     secret,
		partialTTL: partialTTL,
		fullTTL:    fullTTL,
		now:        time.Now,
	}
}

// WithClock overrides the time source (for testing).
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// IssuePartial mints a token without the step-up claim.
func (i *Issuer) IssuePartial(userID, email, role string) (string, error) {
	return i.sign(userID, email, role, false, i.partialTTL)
}

// IssueFull mints a token carrying the step-up claim.
func (i *Issuer) IssueFull(userID, email, role string) (string, error) {
	return i.sign(userID, email, role, true, i.fullTTL)
}

func (i *Issuer) sign(userID, email, role string, stepUp bool, ttl time.Duration) (string, error) {
	now := i.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:            userID,
		Email:             email,
		Role:              role,
		TwoFactorVerified: stepUp,
	})
	return t.SignedString(i.secret)
}

// Verify parses and validates a token string, returning its claims.
// Rejects wrong signing methods, bad signatures, and expired tokens.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrSignatureInvalid
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))

	switch {
	case err == nil && t.Valid:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrSignatureInvalid):
		return nil, ErrSignatureInvalid
	default:
		return nil, ErrMalformed
	}
}
