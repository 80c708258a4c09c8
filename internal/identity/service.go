// Package identity keeps a durable record of every provider account that
// completed a login.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/identity/entity"
	identityrepo "github.com/ovaphlow/pitchfork/service-oauth-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/provider"
	"github.com/ovaphlow/pitchfork/service-oauth-go/pkg/utilities"
)

type IdentityService struct {
	repo  *identityrepo.IdentityRepo
	now   func() time.Time
	newID func() int64
}

func NewIdentityService(db *sqlx.DB) *IdentityService {
	return &IdentityService{
		repo:  identityrepo.NewIdentityRepo(db),
		now:   time.Now,
		newID: utilities.NewSnowflakeID,
	}
}

// EnsureSchema creates the backing table.
func (s *IdentityService) EnsureSchema(ctx context.Context) error {
	return s.repo.EnsureTable(ctx)
}

// Record upserts the profile of a provider account that just logged in.
func (s *IdentityService) Record(ctx context.Context, p provider.Name, profile provider.Profile) error {
	_, err := s.repo.Upsert(ctx, &entity.Identity{
		ID:            s.newID(),
		Provider:      string(p),
		ExternalID:    profile.ExternalID,
		Nickname:      profile.Nickname,
		Email:         optional(profile.Email),
		EmailVerified: profile.EmailVerified,
		ProfileImage:  optional(profile.ProfileImage),
		LastLoginAt:   s.now().UTC(),
	})
	return err
}

// Lookup returns the stored identity or identityrepo.ErrNotFound.
func (s *IdentityService) Lookup(ctx context.Context, p provider.Name, externalID string) (*entity.Identity, error) {
	return s.repo.GetByExternalID(ctx, string(p), externalID)
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}
