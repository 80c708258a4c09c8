// Package provider talks to the Google and Kakao OAuth2 endpoints.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Name identifies an upstream identity provider.
type Name string

const (
	Google Name = "google"
	Kakao  Name = "kakao"
)

var ErrUnknownProvider = errors.New("unknown provider")

// Parse accepts the lowercase provider names used in routes and store keys.
func Parse(s string) (Name, error) {
	switch n := Name(s); n {
	case Google, Kakao:
		return n, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// DefaultNickname is used when the provider does not share a display name.
func (n Name) DefaultNickname() string {
	switch n {
	case Google:
		return "구글 사용자"
	case Kakao:
		return "카카오 사용자"
	}
	return "사용자"
}

const DefaultHTTPTimeout = 10 * time.Second

// Config is the per-provider client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Timeout      time.Duration
}

func (c Config) withDefaults(auth, tok, info string, scopes []string) Config {
	if c.AuthURL == "" {
		c.AuthURL = auth
	}
	if c.TokenURL == "" {
		c.TokenURL = tok
	}
	if c.UserInfoURL == "" {
		c.UserInfoURL = info
	}
	if len(c.Scopes) == 0 {
		c.Scopes = scopes
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultHTTPTimeout
	}
	return c
}

// Token is the subset of the provider token response the broker keeps.
type Token struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is in seconds; zero when the provider did not report it.
	ExpiresIn int64
}

// Client performs the authorization code exchange and user info fetch for one provider.
type Client struct {
	name        Name
	oauth       *oauth2.Config
	userInfoURL string
	timeout     time.Duration
	httpClient  *http.Client
}

// NewGoogle builds a Google client. Empty URLs fall back to Google's public endpoints.
func NewGoogle(cfg Config, hc *http.Client) *Client {
	cfg = cfg.withDefaults(
		"https://accounts.google.com/o/oauth2/v2/auth",
		"https://oauth2.googleapis.com/token",
		"https://www.googleapis.com/oauth2/v2/userinfo",
		[]string{"openid", "profile", "email"},
	)
	return newClient(Google, cfg, hc)
}

// NewKakao builds a Kakao client. The client secret is optional for Kakao apps.
func NewKakao(cfg Config, hc *http.Client) *Client {
	cfg = cfg.withDefaults(
		"https://kauth.kakao.com/oauth/authorize",
		"https://kauth.kakao.com/oauth/token",
		"https://kapi.kakao.com/v2/user/me",
		nil,
	)
	return newClient(Kakao, cfg, hc)
}

func newClient(name Name, cfg Config, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		name: name,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		timeout:     cfg.Timeout,
		httpClient:  hc,
	}
}

func (c *Client) Name() Name { return c.name }

// AuthCodeURL returns the consent page URL carrying state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

func (c *Client) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return context.WithTimeout(ctx, c.timeout)
}

// ExchangeCode redeems an authorization code at the token endpoint.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Token, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return Token{}, fmt.Errorf("%s token exchange: %w", c.name, err)
	}
	out := Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		if secs := int64(time.Until(tok.Expiry).Round(time.Second) / time.Second); secs > 0 {
			out.ExpiresIn = secs
		}
	}
	return out, nil
}

// FetchUserInfo calls the userinfo endpoint with accessToken as bearer.
func (c *Client) FetchUserInfo(ctx context.Context, accessToken string) (UserInfo, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	hc := c.oauth.Client(ctx, &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%s userinfo request: %w", c.name, err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%s userinfo: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return UserInfo{}, fmt.Errorf("%s userinfo read: %w", c.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return UserInfo{}, fmt.Errorf("%s userinfo: unexpected status %d", c.name, resp.StatusCode)
	}

	info := UserInfo{Provider: c.name}
	switch c.name {
	case Google:
		info.Google = &GoogleUserInfo{}
		err = json.Unmarshal(body, info.Google)
	case Kakao:
		info.Kakao = &KakaoUserInfo{}
		err = json.Unmarshal(body, info.Kakao)
	}
	if err != nil {
		return UserInfo{}, fmt.Errorf("%s userinfo decode: %w", c.name, err)
	}
	return info, nil
}
