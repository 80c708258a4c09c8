package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/keys"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/provider"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/token"
	tokenrepo "github.com/ovaphlow/pitchfork/service-oauth-go/internal/token/repo"
	"github.com/ovaphlow/pitchfork/service-oauth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-oauth-go/pkg/kv"
	"github.com/ovaphlow/pitchfork/service-oauth-go/pkg/utilities"
)

func serve(parent context.Context) error {
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	sugar := lg.Sugar()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	rdb, err := kv.Connect(kv.ConfigFromEnv())
	if err != nil {
		return err
	}
	defer rdb.Close()

	var identities *identity.IdentityService
	if dbCfg := database.ConfigFromEnv(); dbCfg.DSN != "" {
		sqlDB, err := database.Connect(dbCfg)
		if err != nil {
			return err
		}
		sqlxDB := sqlx.NewDb(sqlDB, "postgres")
		defer sqlxDB.Close()

		identities = identity.NewIdentityService(sqlxDB)
		if err := identities.EnsureSchema(parent); err != nil {
			return fmt.Errorf("ensure identity schema: %w", err)
		}
	} else {
		sugar.Info("DATABASE_URL not set; identity records disabled")
	}

	svc, err := newOAuthService(cfg, rdb, identities, sugar)
	if err != nil {
		return err
	}

	handler := router.RegisterRoutes(
		cfg.BasePath,
		oauth.NewHandler(svc, cfg.FrontendCallbackURL, sugar),
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		sugar,
	)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sugar.Infow("listening", "addr", cfg.Addr, "base_path", cfg.BasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newOAuthService wires the issuer, token store and provider clients from cfg.
func newOAuthService(cfg config.Config, rdb redis.Cmdable, identities *identity.IdentityService, logger *zap.SugaredLogger) (*oauth.OAuthService, error) {
	pair, err := cfg.KeyPair()
	if err != nil {
		return nil, err
	}
	issuer, err := session.NewIssuer(session.Config{
		Keys:       pair,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		return nil, err
	}

	var sealer token.Sealer
	if cfg.StoreEncryptionSecret != "" {
		k, err := keys.Derive(cfg.StoreEncryptionSecret)
		if err != nil {
			return nil, fmt.Errorf("store encryption key: %w", err)
		}
		s, err := token.NewSealer(k)
		if err != nil {
			return nil, err
		}
		sealer = s
	}

	hc := &http.Client{Timeout: cfg.ProviderTimeout}
	var exchangers []oauth.Exchanger
	if pc, ok := cfg.Provider(provider.Google); ok {
		exchangers = append(exchangers, provider.NewGoogle(pc, hc))
	}
	if pc, ok := cfg.Provider(provider.Kakao); ok {
		exchangers = append(exchangers, provider.NewKakao(pc, hc))
	}

	opts := oauth.Options{RegisteredCode: cfg.RegisteredCode()}
	if identities != nil {
		opts.Identities = identities
	}
	return oauth.NewOAuthService(issuer, tokenrepo.NewTokenRepo(rdb, sealer), logger, opts, exchangers...), nil
}
