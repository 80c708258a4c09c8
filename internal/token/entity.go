// Package token describes the key layout of the ephemeral token store.
//
// Keys:
//
//	token:<provider>:<subject>:access|refresh   broker session tokens
//	oauth:<provider>:<subject>:access|refresh   raw provider tokens
//	code:<provider>:<code>                      one-time authorization codes (value = state)
package token

import (
	"errors"
	"strings"
	"time"
)

// Namespace prefixes every store key.
type Namespace string

const (
	NamespaceSession Namespace = "token"
	NamespaceOAuth   Namespace = "oauth"
	NamespaceCode    Namespace = "code"
)

const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Default lifetimes for stored entries.
const (
	SessionAccessTTL      = time.Hour
	SessionRefreshTTL     = 30 * 24 * time.Hour
	ProviderAccessTTL     = time.Hour
	AuthorizationCodeTTL  = 10 * time.Minute
	GoogleRefreshTokenTTL = 30 * 24 * time.Hour
	KakaoRefreshTokenTTL  = 60 * 24 * time.Hour
)

var (
	// ErrStoreUnavailable means the backend could not answer. Callers must not
	// read it as "absent".
	ErrStoreUnavailable = errors.New("token store unavailable")
	ErrInvalidTTL       = errors.New("ttl must be positive")
	ErrInvalidKey       = errors.New("key parts must be non-empty")
	ErrCorruptValue     = errors.New("stored value cannot be opened")
)

// Key builds a token key.
func Key(ns Namespace, provider, subject, kind string) string {
	return strings.Join([]string{string(ns), provider, subject, kind}, ":")
}

// CodeKey builds an authorization code key.
func CodeKey(provider, code string) string {
	return strings.Join([]string{string(NamespaceCode), provider, code}, ":")
}
