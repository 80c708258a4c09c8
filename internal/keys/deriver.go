// Package keys turns operator supplied secrets into HMAC signing keys.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// MinKeySize is the smallest key accepted for HS256 signing.
const MinKeySize = 32

// shortSecret is the byte length under which plain-text secrets get extra hashing rounds.
const shortSecret = 16

var ErrConfiguration = errors.New("invalid signing secret")

// Derive builds signing key material from secret. A standard base64 value of
// at least MinKeySize bytes is used as is; shorter decoded values are expanded
// with SHA-256. Anything else is hashed as a UTF-8 string, three times over
// when it is shorter than 16 bytes.
func Derive(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is empty", ErrConfiguration)
	}

	if decoded, err := base64.StdEncoding.DecodeString(secret); err == nil {
		if len(decoded) >= MinKeySize {
			return decoded, nil
		}
		sum := sha256.Sum256(decoded)
		return sum[:], nil
	}

	raw := []byte(secret)
	sum := sha256.Sum256(raw)
	if len(raw) < shortSecret {
		for i := 0; i < 2; i++ {
			sum = sha256.Sum256(sum[:])
		}
	}
	return sum[:], nil
}

// Pair holds the access and refresh signing keys. Refresh aliases Access
// when no distinct refresh secret is configured.
type Pair struct {
	Access  []byte
	Refresh []byte
}

// NewPair derives both keys. refreshSecret may be empty.
func NewPair(accessSecret, refreshSecret string) (Pair, error) {
	access, err := Derive(accessSecret)
	if err != nil {
		return Pair{}, fmt.Errorf("access secret: %w", err)
	}
	p := Pair{Access: access, Refresh: access}

	rs := strings.TrimSpace(refreshSecret)
	if rs == "" || rs == strings.TrimSpace(accessSecret) {
		return p, nil
	}
	refresh, err := Derive(rs)
	if err != nil {
		return Pair{}, fmt.Errorf("refresh secret: %w", err)
	}
	p.Refresh = refresh
	return p, nil
}

// Shared reports whether both roles use the same derived key.
func (p Pair) Shared() bool {
	if len(p.Access) == 0 || len(p.Refresh) == 0 {
		return false
	}
	return &p.Access[0] == &p.Refresh[0]
}

// Generate returns a random base64 secret suitable for JWT_SECRET.
func Generate() (string, error) {
	b := make([]byte, MinKeySize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
