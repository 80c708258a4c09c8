package entity

import "time"

// Identity is a row of `oauth_identities`: one per (provider, external_id).
type Identity struct {
	ID            int64     `db:"id"`
	Provider      string    `db:"provider"`
	ExternalID    string    `db:"external_id"`
	Nickname      string    `db:"nickname"`
	Email         *string   `db:"email"`
	EmailVerified bool      `db:"email_verified"`
	ProfileImage  *string   `db:"profile_image"`
	LoginCount    int64     `db:"login_count"`
	LastLoginAt   time.Time `db:"last_login_at"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
