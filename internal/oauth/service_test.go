package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/identity/entity"
	identityrepo "github.com/ovaphlow/pitchfork/service-oauth-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/keys"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/provider"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/token"
	tokenrepo "github.com/ovaphlow/pitchfork/service-oauth-go/internal/token/repo"
)

type fakeExchanger struct {
	name     provider.Name
	token    provider.Token
	tokenErr error
	info     provider.UserInfo
	infoErr  error

	mu        sync.Mutex
	exchanged []string
}

func (f *fakeExchanger) Name() provider.Name { return f.name }

func (f *fakeExchanger) AuthCodeURL(state string) string {
	return "https://auth.example/" + string(f.name) + "?state=" + url.QueryEscape(state)
}

func (f *fakeExchanger) ExchangeCode(_ context.Context, code string) (provider.Token, error) {
	f.mu.Lock()
	f.exchanged = append(f.exchanged, code)
	f.mu.Unlock()
	return f.token, f.tokenErr
}

func (f *fakeExchanger) FetchUserInfo(_ context.Context, _ string) (provider.UserInfo, error) {
	return f.info, f.infoErr
}

func kakaoTester() *fakeExchanger {
	return &fakeExchanger{
		name:  provider.Kakao,
		token: provider.Token{AccessToken: "kakao-at", RefreshToken: "kakao-rt", ExpiresIn: 21599},
		info: provider.UserInfo{Provider: provider.Kakao, Kakao: &provider.KakaoUserInfo{
			ID: 12345,
			KakaoAccount: &provider.KakaoAccount{
				Email:           "tester@kakao.example",
				IsEmailVerified: true,
				Profile:         &provider.KakaoProfile{Nickname: "Tester", ProfileImageURL: "https://img.example/t.png"},
			},
		}},
	}
}

func googleUser() *fakeExchanger {
	return &fakeExchanger{
		name:  provider.Google,
		token: provider.Token{AccessToken: "google-at"},
		info: provider.UserInfo{Provider: provider.Google, Google: &provider.GoogleUserInfo{
			ID:            "g-1",
			Email:         "user@gmail.example",
			VerifiedEmail: true,
		}},
	}
}

type recorder struct {
	mu        sync.Mutex
	profiles  []provider.Profile
	err       error
	lookupErr error
}

func (r *recorder) Record(_ context.Context, _ provider.Name, p provider.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = append(r.profiles, p)
	return r.err
}

func (r *recorder) Lookup(_ context.Context, p provider.Name, externalID string) (*entity.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	var n int64
	for _, pr := range r.profiles {
		if pr.ExternalID == externalID {
			n++
		}
	}
	if n == 0 {
		return nil, identityrepo.ErrNotFound
	}
	return &entity.Identity{Provider: string(p), ExternalID: externalID, LoginCount: n, LastLoginAt: time.Unix(1_700_000_000, 0).UTC()}, nil
}

type fixture struct {
	svc    *OAuthService
	mr     *miniredis.Miniredis
	store  *tokenrepo.TokenRepo
	kakao  *fakeExchanger
	google *fakeExchanger
	rec    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	pair, err := keys.NewPair("access-secret", "refresh-secret")
	require.NoError(t, err)
	iss, err := session.NewIssuer(session.Config{Keys: pair})
	require.NoError(t, err)

	f := &fixture{
		mr:     mr,
		store:  tokenrepo.NewTokenRepo(rdb, nil),
		kakao:  kakaoTester(),
		google: googleUser(),
		rec:    &recorder{},
	}
	f.svc = NewOAuthService(iss, f.store, nil, Options{
		RegisteredCode: map[provider.Name]bool{provider.Kakao: true},
		Identities:     f.rec,
	}, f.kakao, f.google)
	return f
}

func TestIssueSession_Kakao(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.RegisterCode(ctx, "kakao", "abc", "xyz"))
	s, err := f.svc.IssueSession(ctx, "kakao", "abc", "xyz")
	require.NoError(t, err)

	assert.Equal(t, "Bearer", s.TokenType)
	assert.EqualValues(t, 3600, s.ExpiresIn)
	assert.Equal(t, provider.Kakao, s.Provider)
	assert.Equal(t, "12345", s.Profile.ExternalID)
	assert.Equal(t, "Tester", s.Profile.Nickname)
	assert.Equal(t, []string{"abc"}, f.kakao.exchanged)

	assert.Equal(t, 21599*time.Second, f.mr.TTL("oauth:kakao:12345:access"))
	assert.Equal(t, 5184000*time.Second, f.mr.TTL("oauth:kakao:12345:refresh"))
	assert.Equal(t, 3600*time.Second, f.mr.TTL("token:kakao:12345:access"))
	assert.Equal(t, 2592000*time.Second, f.mr.TTL("token:kakao:12345:refresh"))
	assert.False(t, f.mr.Exists("code:kakao:abc"))

	stored, err := f.mr.Get("token:kakao:12345:access")
	require.NoError(t, err)
	assert.Equal(t, s.AccessToken, stored)

	assert.True(t, f.svc.ValidateSession(s.AccessToken))
	assert.True(t, f.svc.ValidateSession(s.RefreshToken))
	p, err := f.svc.GetSessionClaims(s.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.Profile, p)

	require.Len(t, f.rec.profiles, 1)
	assert.Equal(t, "tester@kakao.example", f.rec.profiles[0].Email)

	t.Run("code is single use", func(t *testing.T) {
		_, err := f.svc.IssueSession(ctx, "kakao", "abc", "xyz")
		assert.ErrorIs(t, err, ErrInvalidAuthorizationCode)
		assert.Len(t, f.kakao.exchanged, 1)
	})

	t.Run("provider access token expires on its own clock", func(t *testing.T) {
		f.mr.FastForward(21600 * time.Second)
		assert.False(t, f.mr.Exists("oauth:kakao:12345:access"))
		assert.True(t, f.mr.Exists("oauth:kakao:12345:refresh"))
	})
}

func TestIssueSession_CodeRegistration(t *testing.T) {
	ctx := context.Background()

	t.Run("unregistered code", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.IssueSession(ctx, "kakao", "never-seen", "")
		assert.ErrorIs(t, err, ErrInvalidAuthorizationCode)
		assert.Empty(t, f.kakao.exchanged)
	})

	t.Run("state mismatch", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.RegisterCode(ctx, "kakao", "abc", "xyz"))
		_, err := f.svc.IssueSession(ctx, "kakao", "abc", "other")
		assert.ErrorIs(t, err, ErrInvalidAuthorizationCode)
		assert.Empty(t, f.kakao.exchanged)
	})

	t.Run("empty state skips comparison", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.RegisterCode(ctx, "kakao", "abc", "xyz"))
		_, err := f.svc.IssueSession(ctx, "kakao", "abc", "")
		assert.NoError(t, err)
	})

	t.Run("expired registration", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.RegisterCode(ctx, "kakao", "abc", "xyz"))
		assert.Equal(t, 600*time.Second, f.mr.TTL("code:kakao:abc"))
		f.mr.FastForward(601 * time.Second)
		_, err := f.svc.IssueSession(ctx, "kakao", "abc", "xyz")
		assert.ErrorIs(t, err, ErrInvalidAuthorizationCode)
	})

	t.Run("google does not require registration", func(t *testing.T) {
		f := newFixture(t)
		s, err := f.svc.IssueSession(ctx, "google", "g-code", "")
		require.NoError(t, err)
		assert.Equal(t, "구글 사용자", s.Profile.Nickname)
		assert.Equal(t, time.Hour, f.mr.TTL("oauth:google:g-1:access"))
		assert.False(t, f.mr.Exists("oauth:google:g-1:refresh"))
	})

	t.Run("optional registration still burns code and checks state", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.RegisterCode(ctx, "google", "g-code", "xyz"))
		_, err := f.svc.IssueSession(ctx, "google", "g-code", "WRONG")
		assert.ErrorIs(t, err, ErrInvalidAuthorizationCode)
		assert.False(t, f.mr.Exists("code:google:g-code"))
		assert.Empty(t, f.google.exchanged)
	})

	t.Run("optional registration consumes matching code", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.RegisterCode(ctx, "google", "g-code", "xyz"))
		_, err := f.svc.IssueSession(ctx, "google", "g-code", "xyz")
		require.NoError(t, err)
		assert.False(t, f.mr.Exists("code:google:g-code"))
		assert.Equal(t, []string{"g-code"}, f.google.exchanged)
	})

	t.Run("empty code", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.IssueSession(ctx, "google", "", "")
		assert.ErrorIs(t, err, ErrInvalidAuthorizationCode)
		assert.ErrorIs(t, f.svc.RegisterCode(ctx, "kakao", "", "s"), ErrInvalidAuthorizationCode)
	})

	t.Run("unknown provider", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.IssueSession(ctx, "naver", "c", "")
		assert.ErrorIs(t, err, provider.ErrUnknownProvider)
		assert.ErrorIs(t, f.svc.RegisterCode(ctx, "naver", "c", "s"), provider.ErrUnknownProvider)
	})
}

func TestIssueSession_ProviderFailures(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name  string
		setup func(e *fakeExchanger)
	}{
		{"exchange error", func(e *fakeExchanger) { e.tokenErr = errors.New("boom") }},
		{"empty access token", func(e *fakeExchanger) { e.token = provider.Token{} }},
		{"userinfo error", func(e *fakeExchanger) { e.infoErr = errors.New("timeout") }},
		{"userinfo without id", func(e *fakeExchanger) { e.info.Google.ID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.setup(f.google)
			_, err := f.svc.IssueSession(ctx, "google", "g-code", "")
			assert.ErrorIs(t, err, ErrProviderExchange)
			assert.Empty(t, f.mr.Keys())
			assert.Empty(t, f.rec.profiles)
		})
	}
}

func TestIssueSession_StoreOutage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.mr.SetError("ERR backend offline")
	_, err := f.svc.IssueSession(ctx, "google", "g-code", "")
	assert.ErrorIs(t, err, token.ErrStoreUnavailable)
	assert.Empty(t, f.rec.profiles)

	f.mr.SetError("")
	s, err := f.svc.IssueSession(ctx, "google", "g-code", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"oauth:google:g-1:access", "token:google:g-1:access", "token:google:g-1:refresh"}, f.mr.Keys())
	assert.True(t, f.svc.ValidateSession(s.AccessToken))

	t.Run("kakao consume fails closed", func(t *testing.T) {
		require.NoError(t, f.svc.RegisterCode(ctx, "kakao", "abc", "xyz"))
		f.mr.SetError("ERR backend offline")
		_, err := f.svc.IssueSession(ctx, "kakao", "abc", "xyz")
		assert.ErrorIs(t, err, token.ErrStoreUnavailable)
		assert.NotErrorIs(t, err, ErrInvalidAuthorizationCode)
		assert.Empty(t, f.kakao.exchanged)

		f.mr.SetError("")
		_, err = f.svc.IssueSession(ctx, "kakao", "abc", "xyz")
		assert.NoError(t, err)
	})
}

// flakyStore fails the nth Put, simulating an outage between writes.
type flakyStore struct {
	*tokenrepo.TokenRepo
	mu     sync.Mutex
	puts   int
	failAt int
}

func (s *flakyStore) Put(ctx context.Context, ns token.Namespace, p, sub, kind, value string, ttl time.Duration) error {
	s.mu.Lock()
	s.puts++
	n := s.puts
	s.mu.Unlock()
	if n == s.failAt {
		return fmt.Errorf("put: %w", token.ErrStoreUnavailable)
	}
	return s.TokenRepo.Put(ctx, ns, p, sub, kind, value, ttl)
}

func TestIssueSession_PartialPersistThenRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := &flakyStore{TokenRepo: f.store, failAt: 3}
	f.svc.store = store

	require.NoError(t, f.svc.RegisterCode(ctx, "kakao", "abc", "xyz"))
	_, err := f.svc.IssueSession(ctx, "kakao", "abc", "xyz")
	assert.ErrorIs(t, err, token.ErrStoreUnavailable)
	assert.True(t, f.mr.Exists("oauth:kakao:12345:access"))
	assert.True(t, f.mr.Exists("oauth:kakao:12345:refresh"))
	assert.False(t, f.mr.Exists("token:kakao:12345:access"))

	require.NoError(t, f.svc.RegisterCode(ctx, "kakao", "def", "xyz"))
	_, err = f.svc.IssueSession(ctx, "kakao", "def", "xyz")
	require.NoError(t, err)
	assert.Len(t, f.mr.Keys(), 4)
}

func TestIssueSession_IdentityFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.rec.err = errors.New("db down")
	_, err := f.svc.IssueSession(context.Background(), "google", "g-code", "")
	assert.NoError(t, err)
	assert.Len(t, f.rec.profiles, 1)
}

func TestAuthURL(t *testing.T) {
	f := newFixture(t)

	u1, s1, err := f.svc.AuthURL("kakao")
	require.NoError(t, err)
	_, s2, err := f.svc.AuthURL("kakao")
	require.NoError(t, err)

	assert.NotEmpty(t, s1)
	assert.NotEqual(t, s1, s2)
	assert.Contains(t, u1, "state="+url.QueryEscape(s1))

	_, _, err = f.svc.AuthURL("naver")
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestRefreshAndLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.RegisterCode(ctx, "kakao", "abc", "xyz"))
	s, err := f.svc.IssueSession(ctx, "kakao", "abc", "xyz")
	require.NoError(t, err)

	t.Run("access token is not a refresh token", func(t *testing.T) {
		_, err := f.svc.Refresh(ctx, s.AccessToken)
		assert.ErrorIs(t, err, session.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := f.svc.Refresh(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, session.ErrInvalidToken)
	})

	t.Run("refresh carries profile", func(t *testing.T) {
		r, err := f.svc.Refresh(ctx, s.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, s.RefreshToken, r.RefreshToken)
		assert.Equal(t, "Tester", r.Profile.Nickname)

		stored, err := f.mr.Get("token:kakao:12345:access")
		require.NoError(t, err)
		assert.Equal(t, r.AccessToken, stored)
	})

	t.Run("logout revokes", func(t *testing.T) {
		require.NoError(t, f.svc.Logout(ctx, s.AccessToken))
		assert.False(t, f.mr.Exists("token:kakao:12345:access"))
		assert.False(t, f.mr.Exists("token:kakao:12345:refresh"))
		assert.True(t, f.mr.Exists("oauth:kakao:12345:refresh"))

		_, err := f.svc.Refresh(ctx, s.RefreshToken)
		assert.ErrorIs(t, err, ErrSessionRevoked)
	})

	t.Run("logout with invalid token", func(t *testing.T) {
		assert.ErrorIs(t, f.svc.Logout(ctx, "nope"), session.ErrInvalidToken)
	})
}

func TestCurrentUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	s, err := f.svc.IssueSession(ctx, "google", "g-code", "")
	require.NoError(t, err)

	u, err := f.svc.CurrentUser(ctx, s.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.Profile, u.Profile)
	assert.Equal(t, provider.Google, u.Provider)
	assert.EqualValues(t, 1, u.LoginCount)
	require.NotNil(t, u.LastLoginAt)

	t.Run("lookup failure keeps profile", func(t *testing.T) {
		f.rec.lookupErr = errors.New("db down")
		t.Cleanup(func() { f.rec.lookupErr = nil })
		u, err := f.svc.CurrentUser(ctx, s.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "g-1", u.ExternalID)
		assert.Zero(t, u.LoginCount)
		assert.Nil(t, u.LastLoginAt)
	})

	t.Run("without identity store", func(t *testing.T) {
		f.svc.opts.Identities = nil
		u, err := f.svc.CurrentUser(ctx, s.AccessToken)
		require.NoError(t, err)
		assert.Zero(t, u.LoginCount)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := f.svc.CurrentUser(ctx, "junk")
		assert.ErrorIs(t, err, session.ErrInvalidToken)
	})
}
