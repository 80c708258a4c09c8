// Package config loads the broker configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/keys"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/provider"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/token"
)

var ErrInvalid = errors.New("invalid configuration")

// ProviderEnv is the client registration of one provider.
type ProviderEnv struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	RedirectURI  string   `env:"REDIRECT_URI"`
	Scopes       []string `env:"SCOPES"        envSeparator:","`
	AuthURL      string   `env:"AUTH_URL"`
	TokenURL     string   `env:"TOKEN_URL"`
	UserInfoURL  string   `env:"USERINFO_URL"`
}

// Enabled reports whether the provider has a client id.
func (p ProviderEnv) Enabled() bool { return strings.TrimSpace(p.ClientID) != "" }

type Config struct {
	Addr     string `env:"HTTP_ADDR"      envDefault:":8080"`
	BasePath string `env:"HTTP_BASE_PATH" envDefault:"/oauth-api"`

	JWTSecret        string `env:"JWT_SECRET"`
	JWTRefreshSecret string `env:"JWT_REFRESH_SECRET"`

	// Stored session entries always live 1h and 720h. RefreshTTL may not
	// exceed 720h or refresh tokens would outlive their store entry.
	AccessTTL  time.Duration `env:"JWT_ACCESS_TTL"  envDefault:"1h"`
	RefreshTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"720h"`

	// StoreEncryptionSecret, when set, seals every stored token value.
	StoreEncryptionSecret string `env:"STORE_ENCRYPTION_SECRET"`

	FrontendCallbackURL string        `env:"FRONTEND_CALLBACK_URL" envDefault:"http://localhost:3000/oauth/callback"`
	ProviderTimeout     time.Duration `env:"PROVIDER_HTTP_TIMEOUT" envDefault:"10s"`

	Google                  ProviderEnv `envPrefix:"GOOGLE_"`
	GoogleRequireRegistered bool        `env:"GOOGLE_REQUIRE_REGISTERED_CODE" envDefault:"true"`
	Kakao                   ProviderEnv `envPrefix:"KAKAO_"`
	KakaoRequireRegistered  bool        `env:"KAKAO_REQUIRE_REGISTERED_CODE"  envDefault:"false"`
}

// Load reads Config from the process environment.
func Load() (Config, error) {
	return load(env.Options{})
}

// LoadFrom reads Config from environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return Config{}, fmt.Errorf("%w: JWT_SECRET is required", keys.ErrConfiguration)
	}
	if cfg.RefreshTTL > token.SessionRefreshTTL {
		return Config{}, fmt.Errorf("%w: JWT_REFRESH_TTL %s exceeds stored refresh lifetime %s", ErrInvalid, cfg.RefreshTTL, token.SessionRefreshTTL)
	}
	if !cfg.Google.Enabled() && !cfg.Kakao.Enabled() {
		return Config{}, fmt.Errorf("%w: no provider configured", provider.ErrUnknownProvider)
	}
	cfg.BasePath = "/" + strings.Trim(cfg.BasePath, "/")
	return cfg, nil
}

// KeyPair derives the session signing keys.
func (c Config) KeyPair() (keys.Pair, error) {
	return keys.NewPair(c.JWTSecret, c.JWTRefreshSecret)
}

// Provider returns the client config for name, ok=false when it is not enabled.
func (c Config) Provider(name provider.Name) (provider.Config, bool) {
	var p ProviderEnv
	switch name {
	case provider.Google:
		p = c.Google
	case provider.Kakao:
		p = c.Kakao
	default:
		return provider.Config{}, false
	}
	if !p.Enabled() {
		return provider.Config{}, false
	}
	return provider.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURI,
		Scopes:       trimCSV(p.Scopes),
		AuthURL:      p.AuthURL,
		TokenURL:     p.TokenURL,
		UserInfoURL:  p.UserInfoURL,
		Timeout:      c.ProviderTimeout,
	}, true
}

// RegisteredCode lists which providers must see a registered code before exchange.
func (c Config) RegisteredCode() map[provider.Name]bool {
	return map[provider.Name]bool{
		provider.Google: c.GoogleRequireRegistered,
		provider.Kakao:  c.KakaoRequireRegistered,
	}
}

func trimCSV(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
