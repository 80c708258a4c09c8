package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/token"
)

// TokenRepo stores tokens and one-time codes in Redis with per-key TTL.
type TokenRepo struct {
	rdb    redis.Cmdable
	sealer token.Sealer
}

// NewTokenRepo wraps a redis client. sealer may be nil to store values as is.
func NewTokenRepo(rdb redis.Cmdable, sealer token.Sealer) *TokenRepo {
	return &TokenRepo{rdb: rdb, sealer: sealer}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, token.ErrStoreUnavailable, err)
}

func (r *TokenRepo) seal(v string) (string, error) {
	if r.sealer == nil {
		return v, nil
	}
	return r.sealer.Seal(v)
}

func (r *TokenRepo) open(v string) (string, error) {
	if r.sealer == nil {
		return v, nil
	}
	return r.sealer.Open(v)
}

// Put upserts value at the namespaced key; repeat calls overwrite and reset the TTL.
func (r *TokenRepo) Put(ctx context.Context, ns token.Namespace, provider, subject, kind, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return token.ErrInvalidTTL
	}
	if provider == "" || subject == "" || kind == "" {
		return token.ErrInvalidKey
	}
	v, err := r.seal(value)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, token.Key(ns, provider, subject, kind), v, ttl).Err(); err != nil {
		return unavailable("put", err)
	}
	return nil
}

// Get returns ok=false when the key is missing or expired.
func (r *TokenRepo) Get(ctx context.Context, ns token.Namespace, provider, subject, kind string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, token.Key(ns, provider, subject, kind)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get", err)
	}
	plain, err := r.open(v)
	if err != nil {
		return "", false, err
	}
	return plain, true, nil
}

// Delete removes both the access and refresh entries of subject. Missing keys are not an error.
func (r *TokenRepo) Delete(ctx context.Context, ns token.Namespace, provider, subject string) error {
	err := r.rdb.Del(ctx,
		token.Key(ns, provider, subject, token.KindAccess),
		token.Key(ns, provider, subject, token.KindRefresh),
	).Err()
	if err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// RegisterCode stores a one-time authorization code with its (possibly empty) CSRF state.
func (r *TokenRepo) RegisterCode(ctx context.Context, provider, code, state string, ttl time.Duration) error {
	if ttl <= 0 {
		return token.ErrInvalidTTL
	}
	if provider == "" || code == "" {
		return token.ErrInvalidKey
	}
	v, err := r.seal(state)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, token.CodeKey(provider, code), v, ttl).Err(); err != nil {
		return unavailable("register code", err)
	}
	return nil
}

// ConsumeCode reads and deletes the code entry in one GETDEL round trip, so
// concurrent callers racing on the same code see exactly one success.
func (r *TokenRepo) ConsumeCode(ctx context.Context, provider, code string) (string, bool, error) {
	if provider == "" || code == "" {
		return "", false, nil
	}
	v, err := r.rdb.GetDel(ctx, token.CodeKey(provider, code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("consume code", err)
	}
	state, err := r.open(v)
	if err != nil {
		return "", false, err
	}
	return state, true, nil
}
