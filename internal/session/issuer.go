// Package session issues and verifies the broker's own HS256 session tokens.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/keys"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

var (
	ErrInvalidToken  = errors.New("invalid session token")
	ErrReservedClaim = errors.New("claim name is reserved")
)

// Config is read once at construction; the Issuer never mutates it.
type Config struct {
	Keys       keys.Pair
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// verifier is one (role, key) entry tried during verification.
type verifier struct {
	role Kind
	key  []byte
}

// Issuer mints and verifies session tokens. Safe for concurrent use.
type Issuer struct {
	cfg       Config
	verifiers []verifier
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Keys.Access) < keys.MinKeySize {
		return nil, fmt.Errorf("%w: access key shorter than %d bytes", keys.ErrConfiguration, keys.MinKeySize)
	}
	if len(cfg.Keys.Refresh) == 0 {
		cfg.Keys.Refresh = cfg.Keys.Access
	}
	if len(cfg.Keys.Refresh) < keys.MinKeySize {
		return nil, fmt.Errorf("%w: refresh key shorter than %d bytes", keys.ErrConfiguration, keys.MinKeySize)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	// order matters: access first, then refresh
	v := []verifier{{role: KindAccess, key: cfg.Keys.Access}}
	if !cfg.Keys.Shared() {
		v = append(v, verifier{role: KindRefresh, key: cfg.Keys.Refresh})
	}
	return &Issuer{cfg: cfg, verifiers: v}, nil
}

func (i *Issuer) AccessTTL() time.Duration  { return i.cfg.AccessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }

// IssueAccess signs an access token for subject with the access key. Extra
// claims are merged in; reserved names are rejected with ErrReservedClaim.
func (i *Issuer) IssueAccess(subject, provider string, claims map[string]any) (string, error) {
	for name := range claims {
		if _, ok := reservedClaims[name]; ok {
			return "", fmt.Errorf("%w: %q", ErrReservedClaim, name)
		}
	}
	mc := i.baseClaims(subject, provider, KindAccess, i.cfg.AccessTTL)
	for k, v := range claims {
		mc[k] = v
	}
	return i.sign(mc, i.cfg.Keys.Access)
}

// IssueRefresh signs a refresh token for subject with the refresh key.
func (i *Issuer) IssueRefresh(subject, provider string) (string, error) {
	mc := i.baseClaims(subject, provider, KindRefresh, i.cfg.RefreshTTL)
	return i.sign(mc, i.cfg.Keys.Refresh)
}

func (i *Issuer) baseClaims(subject, provider string, kind Kind, ttl time.Duration) jwt.MapClaims {
	now := i.cfg.Now()
	return jwt.MapClaims{
		ClaimSubject:   subject,
		ClaimProvider:  provider,
		ClaimType:      string(kind),
		ClaimIssuedAt:  now.Unix(),
		ClaimExpiresAt: now.Add(ttl).Unix(),
	}
}

func (i *Issuer) sign(mc jwt.MapClaims, key []byte) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// parse verifies signature and expiry of token against a single key.
func (i *Issuer) parse(token string, key []byte) (Claims, error) {
	mc := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, mc, func(t *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.cfg.Now),
	)
	if err != nil {
		return nil, err
	}
	return Claims(mc), nil
}

// Validate reports whether token verifies under the access or the refresh
// key and has not expired. Errors are never surfaced.
func (i *Issuer) Validate(token string) bool {
	_, err := i.GetAllClaims(token)
	return err == nil
}

// GetSubject extracts the subject of an access token. Refresh tokens signed
// with a distinct refresh key fail here; use GetAllClaims for those.
func (i *Issuer) GetSubject(token string) (string, error) {
	c, err := i.parse(token, i.cfg.Keys.Access)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c.Subject(), nil
}

// GetAllClaims verifies token with each key in order and returns the claims
// of the first that succeeds.
func (i *Issuer) GetAllClaims(token string) (Claims, error) {
	var lastErr error
	for _, v := range i.verifiers {
		c, err := i.parse(token, v.key)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidToken, lastErr)
}

// IsExpired treats any token whose claims cannot be read as expired.
func (i *Issuer) IsExpired(token string) bool {
	c, err := i.GetAllClaims(token)
	if err != nil {
		return true
	}
	exp := c.ExpiresAt()
	return exp.IsZero() || exp.Before(i.cfg.Now())
}
