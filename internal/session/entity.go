package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes access from refresh session tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Reserved claim names written by the issuer.
const (
	ClaimSubject   = "sub"
	ClaimProvider  = "provider"
	ClaimType      = "type"
	ClaimIssuedAt  = "iat"
	ClaimExpiresAt = "exp"
)

var reservedClaims = map[string]struct{}{
	ClaimSubject:   {},
	ClaimProvider:  {},
	ClaimType:      {},
	ClaimIssuedAt:  {},
	ClaimExpiresAt: {},
}

// Claims is the verified payload of a session token.
type Claims map[string]any

func (c Claims) Subject() string  { return c.String(ClaimSubject) }
func (c Claims) Provider() string { return c.String(ClaimProvider) }
func (c Claims) Kind() Kind       { return Kind(c.String(ClaimType)) }

// ExpiresAt returns the embedded expiry, zero when missing.
func (c Claims) ExpiresAt() time.Time {
	exp, err := jwt.MapClaims(c).GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// String returns a string claim or "".
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Bool returns a boolean claim or false.
func (c Claims) Bool(name string) bool {
	b, _ := c[name].(bool)
	return b
}
