package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/identity/entity"
)

var ErrNotFound = errors.New("identity not found")

// IdentityRepo provides data access for the oauth_identities table.
type IdentityRepo struct {
	db *sqlx.DB
}

func NewIdentityRepo(db *sqlx.DB) *IdentityRepo { return &IdentityRepo{db: db} }

// EnsureTable creates oauth_identities if not exists (idempotent).
func (r *IdentityRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS oauth_identities (
  id BIGINT PRIMARY KEY,
  provider TEXT NOT NULL,
  external_id TEXT NOT NULL,
  nickname TEXT NOT NULL,
  email TEXT,
  email_verified BOOLEAN NOT NULL DEFAULT false,
  profile_image TEXT,
  login_count BIGINT NOT NULL DEFAULT 1,
  last_login_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (provider, external_id)
);
CREATE INDEX IF NOT EXISTS idx_oauth_identities_email ON oauth_identities(email);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Upsert inserts a new identity or refreshes the profile of an existing one.
// id is only used on insert; the stored id is returned either way.
func (r *IdentityRepo) Upsert(ctx context.Context, i *entity.Identity) (int64, error) {
	q := `INSERT INTO oauth_identities (id, provider, external_id, nickname, email, email_verified, profile_image, last_login_at)
		  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		  ON CONFLICT (provider, external_id) DO UPDATE SET
		    nickname = EXCLUDED.nickname,
		    email = EXCLUDED.email,
		    email_verified = EXCLUDED.email_verified,
		    profile_image = EXCLUDED.profile_image,
		    last_login_at = EXCLUDED.last_login_at,
		    login_count = oauth_identities.login_count + 1,
		    updated_at = NOW()
		  RETURNING id`
	var id int64
	row := r.db.QueryRowxContext(ctx, q, i.ID, i.Provider, i.ExternalID, i.Nickname, i.Email, i.EmailVerified, i.ProfileImage, i.LastLoginAt)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert identity: %w", err)
	}
	return id, nil
}

// GetByExternalID loads the identity for a provider account.
func (r *IdentityRepo) GetByExternalID(ctx context.Context, provider, externalID string) (*entity.Identity, error) {
	q := `SELECT id, provider, external_id, nickname, email, email_verified, profile_image, login_count, last_login_at, created_at, updated_at
		  FROM oauth_identities WHERE provider = $1 AND external_id = $2`
	var i entity.Identity
	if err := r.db.GetContext(ctx, &i, q, provider, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &i, nil
}
