// Package oauth turns provider authorization codes into broker sessions.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/identity/entity"
	identityrepo "github.com/ovaphlow/pitchfork/service-oauth-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/provider"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-oauth-go/pkg/utilities"
)

var (
	ErrInvalidAuthorizationCode = errors.New("invalid authorization code")
	ErrProviderExchange         = errors.New("provider exchange failed")
	ErrSessionRevoked           = errors.New("session revoked")
)

// Exchanger is the per-provider code exchange capability.
type Exchanger interface {
	Name() provider.Name
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (provider.Token, error)
	FetchUserInfo(ctx context.Context, accessToken string) (provider.UserInfo, error)
}

// Store is the ephemeral token store.
type Store interface {
	Put(ctx context.Context, ns token.Namespace, provider, subject, kind, value string, ttl time.Duration) error
	Get(ctx context.Context, ns token.Namespace, provider, subject, kind string) (string, bool, error)
	Delete(ctx context.Context, ns token.Namespace, provider, subject string) error
	RegisterCode(ctx context.Context, provider, code, state string, ttl time.Duration) error
	ConsumeCode(ctx context.Context, provider, code string) (string, bool, error)
}

// IdentityStore keeps a durable record of who logged in. Optional.
type IdentityStore interface {
	Record(ctx context.Context, p provider.Name, profile provider.Profile) error
	Lookup(ctx context.Context, p provider.Name, externalID string) (*entity.Identity, error)
}

// State is a step of a single login attempt.
type State string

const (
	StateCodeReceived           State = "code_received"
	StateProviderTokenExchanged State = "provider_token_exchanged"
	StateUserInfoFetched        State = "user_info_fetched"
	StateSessionIssued          State = "session_issued"
	StatePersisted              State = "persisted"
	StateFailed                 State = "failed"
)

// Session is what a successful login hands back to the caller.
type Session struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	TokenType    string           `json:"token_type"`
	ExpiresIn    int64            `json:"expires_in"`
	Provider     provider.Name    `json:"provider"`
	Profile      provider.Profile `json:"user"`
}

// Options tune the orchestrator.
type Options struct {
	// RegisteredCode lists providers whose codes must have been registered
	// through RegisterCode before they can be exchanged. Registered codes of
	// the other providers are still consumed and state checked.
	RegisteredCode map[provider.Name]bool
	CodeTTL        time.Duration
	Identities     IdentityStore
}

// OAuthService composes provider exchange, session issuance and the token store.
type OAuthService struct {
	providers map[provider.Name]Exchanger
	issuer    *session.Issuer
	store     Store
	opts      Options
	logger    *zap.SugaredLogger
}

func NewOAuthService(issuer *session.Issuer, store Store, logger *zap.SugaredLogger, opts Options, exchangers ...Exchanger) *OAuthService {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = token.AuthorizationCodeTTL
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ps := make(map[provider.Name]Exchanger, len(exchangers))
	for _, e := range exchangers {
		ps[e.Name()] = e
	}
	return &OAuthService{providers: ps, issuer: issuer, store: store, opts: opts, logger: logger}
}

func (s *OAuthService) exchanger(name string) (Exchanger, error) {
	n, err := provider.Parse(name)
	if err != nil {
		return nil, err
	}
	e, ok := s.providers[n]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not configured", provider.ErrUnknownProvider, name)
	}
	return e, nil
}

// AuthURL returns the provider consent URL and the fresh state it carries.
func (s *OAuthService) AuthURL(providerName string) (string, string, error) {
	e, err := s.exchanger(providerName)
	if err != nil {
		return "", "", err
	}
	state := utilities.NewState()
	return e.AuthCodeURL(state), state, nil
}

// RegisterCode records a code delivered to the callback so it can be exchanged once.
func (s *OAuthService) RegisterCode(ctx context.Context, providerName, code, state string) error {
	e, err := s.exchanger(providerName)
	if err != nil {
		return err
	}
	if code == "" {
		return ErrInvalidAuthorizationCode
	}
	return s.store.RegisterCode(ctx, string(e.Name()), code, state, s.opts.CodeTTL)
}

// attempt tracks one login through its states.
type attempt struct {
	id     string
	state  State
	logger *zap.SugaredLogger
}

func (a *attempt) to(st State) {
	a.state = st
	a.logger.Debugw("login state", "attempt", a.id, "state", st)
}

func (a *attempt) fail(err error) error {
	a.logger.Infow("login failed", "attempt", a.id, "state", a.state, "err", err)
	a.state = StateFailed
	return err
}

// IssueSession runs the code → session pipeline. state may be empty.
func (s *OAuthService) IssueSession(ctx context.Context, providerName, code, state string) (*Session, error) {
	e, err := s.exchanger(providerName)
	if err != nil {
		return nil, err
	}
	name := e.Name()
	a := &attempt{id: uuid.NewString(), logger: s.logger.With("provider", name)}
	a.to(StateCodeReceived)

	if code == "" {
		return nil, a.fail(fmt.Errorf("%w: empty code", ErrInvalidAuthorizationCode))
	}
	// A registered code is always burned and its state checked; RegisteredCode
	// only decides whether an unregistered code is rejected.
	saved, found, err := s.store.ConsumeCode(ctx, string(name), code)
	if err != nil {
		return nil, a.fail(err)
	}
	switch {
	case found:
		if state != "" && state != saved {
			return nil, a.fail(fmt.Errorf("%w: state mismatch", ErrInvalidAuthorizationCode))
		}
	case s.opts.RegisteredCode[name]:
		return nil, a.fail(fmt.Errorf("%w: unknown, expired or used", ErrInvalidAuthorizationCode))
	default:
		a.logger.Debugw("code not registered, continuing", "attempt", a.id)
	}

	ptok, err := e.ExchangeCode(ctx, code)
	if err != nil {
		return nil, a.fail(fmt.Errorf("%w: %v", ErrProviderExchange, err))
	}
	if ptok.AccessToken == "" {
		return nil, a.fail(fmt.Errorf("%w: empty access token", ErrProviderExchange))
	}
	a.to(StateProviderTokenExchanged)

	info, err := e.FetchUserInfo(ctx, ptok.AccessToken)
	if err != nil {
		return nil, a.fail(fmt.Errorf("%w: %v", ErrProviderExchange, err))
	}
	profile, err := info.Normalize()
	if err != nil {
		return nil, a.fail(fmt.Errorf("%w: %v", ErrProviderExchange, err))
	}
	a.to(StateUserInfoFetched)

	subject := profile.ExternalID
	access, err := s.issuer.IssueAccess(subject, string(name), profile.Claims())
	if err != nil {
		return nil, a.fail(err)
	}
	refresh, err := s.issuer.IssueRefresh(subject, string(name))
	if err != nil {
		return nil, a.fail(err)
	}
	a.to(StateSessionIssued)

	if err := s.persist(ctx, name, subject, ptok, access, refresh); err != nil {
		return nil, a.fail(err)
	}
	a.to(StatePersisted)

	if s.opts.Identities != nil {
		if err := s.opts.Identities.Record(ctx, name, profile); err != nil {
			s.logger.Warnw("identity record failed", "attempt", a.id, "provider", name, "err", err)
		}
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.AccessTTL() / time.Second),
		Provider:     name,
		Profile:      profile,
	}, nil
}

// persist writes the four token classes in a fixed order. Earlier writes are
// kept when a later one fails; a retried login overwrites them.
func (s *OAuthService) persist(ctx context.Context, name provider.Name, subject string, ptok provider.Token, access, refresh string) error {
	p := string(name)

	providerTTL := token.ProviderAccessTTL
	if ptok.ExpiresIn > 0 {
		providerTTL = time.Duration(ptok.ExpiresIn) * time.Second
	}
	if err := s.store.Put(ctx, token.NamespaceOAuth, p, subject, token.KindAccess, ptok.AccessToken, providerTTL); err != nil {
		return fmt.Errorf("save provider access token: %w", err)
	}
	if ptok.RefreshToken != "" {
		if err := s.store.Put(ctx, token.NamespaceOAuth, p, subject, token.KindRefresh, ptok.RefreshToken, providerRefreshTTL(name)); err != nil {
			return fmt.Errorf("save provider refresh token: %w", err)
		}
	}
	if err := s.store.Put(ctx, token.NamespaceSession, p, subject, token.KindAccess, access, token.SessionAccessTTL); err != nil {
		return fmt.Errorf("save session access token: %w", err)
	}
	if err := s.store.Put(ctx, token.NamespaceSession, p, subject, token.KindRefresh, refresh, token.SessionRefreshTTL); err != nil {
		return fmt.Errorf("save session refresh token: %w", err)
	}
	return nil
}

func providerRefreshTTL(name provider.Name) time.Duration {
	if name == provider.Kakao {
		return token.KakaoRefreshTokenTTL
	}
	return token.GoogleRefreshTokenTTL
}

// ValidateSession reports whether token is a live session token.
func (s *OAuthService) ValidateSession(tok string) bool {
	return s.issuer.Validate(tok)
}

// GetSessionClaims rebuilds the profile carried by an access token.
func (s *OAuthService) GetSessionClaims(tok string) (provider.Profile, error) {
	c, err := s.issuer.GetAllClaims(tok)
	if err != nil {
		return provider.Profile{}, err
	}
	return profileFromClaims(c), nil
}

func profileFromClaims(c session.Claims) provider.Profile {
	return provider.Profile{
		ExternalID:    c.Subject(),
		Nickname:      c.String("nickname"),
		Email:         c.String("email"),
		EmailVerified: c.Bool("email_verified"),
		ProfileImage:  c.String("profile_image"),
	}
}

// User is the session profile plus the recorded login history, when there is one.
type User struct {
	provider.Profile
	Provider    provider.Name `json:"provider"`
	LoginCount  int64         `json:"login_count,omitempty"`
	LastLoginAt *time.Time    `json:"last_login_at,omitempty"`
}

// CurrentUser resolves the user behind a session token. A missing or failing
// identity record leaves the history fields empty.
func (s *OAuthService) CurrentUser(ctx context.Context, tok string) (*User, error) {
	c, err := s.issuer.GetAllClaims(tok)
	if err != nil {
		return nil, err
	}
	u := &User{Profile: profileFromClaims(c), Provider: provider.Name(c.Provider())}
	if s.opts.Identities == nil {
		return u, nil
	}
	rec, err := s.opts.Identities.Lookup(ctx, u.Provider, u.ExternalID)
	switch {
	case errors.Is(err, identityrepo.ErrNotFound):
	case err != nil:
		s.logger.Warnw("identity lookup failed", "provider", u.Provider, "err", err)
	default:
		u.LoginCount = rec.LoginCount
		last := rec.LastLoginAt
		u.LastLoginAt = &last
	}
	return u, nil
}

// Refresh mints a new access token from a refresh token that is still the
// one on record for its subject. Profile claims are carried over from the
// stored access token when it is still readable.
func (s *OAuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	c, err := s.issuer.GetAllClaims(refreshToken)
	if err != nil {
		return nil, err
	}
	if c.Kind() != session.KindRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", session.ErrInvalidToken)
	}
	p, sub := c.Provider(), c.Subject()
	name, err := provider.Parse(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrInvalidToken, err)
	}

	stored, ok, err := s.store.Get(ctx, token.NamespaceSession, p, sub, token.KindRefresh)
	if err != nil {
		return nil, err
	}
	if !ok || stored != refreshToken {
		return nil, ErrSessionRevoked
	}

	profile := provider.Profile{ExternalID: sub, Nickname: name.DefaultNickname()}
	if prev, ok, err := s.store.Get(ctx, token.NamespaceSession, p, sub, token.KindAccess); err != nil {
		return nil, err
	} else if ok {
		if pc, err := s.GetSessionClaims(prev); err == nil {
			profile = pc
		}
	}

	access, err := s.issuer.IssueAccess(sub, p, profile.Claims())
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, token.NamespaceSession, p, sub, token.KindAccess, access, token.SessionAccessTTL); err != nil {
		return nil, fmt.Errorf("save session access token: %w", err)
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.AccessTTL() / time.Second),
		Provider:     name,
		Profile:      profile,
	}, nil
}

// Logout drops the stored session tokens of the token's subject.
func (s *OAuthService) Logout(ctx context.Context, tok string) error {
	c, err := s.issuer.GetAllClaims(tok)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, token.NamespaceSession, c.Provider(), c.Subject())
}
