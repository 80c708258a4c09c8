package kv

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

const DefaultTimeout = 3 * time.Second

type Config struct {
	URL      string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Password string        `env:"REDIS_PASSWORD"`
	TLS      bool          `env:"REDIS_TLS"`
	PoolSize int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	Timeout  time.Duration `env:"REDIS_TIMEOUT" envDefault:"3s"`
}

// ConfigFromEnv reads Redis config from environment variables
func ConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{URL: "redis://localhost:6379/0", PoolSize: 10, Timeout: DefaultTimeout}
	}
	return cfg
}

// Connect builds a *redis.Client and verifies connectivity with a ping
func Connect(cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	// managed instances (e.g. Memorystore) terminate TLS on the redis:// scheme too
	if cfg.TLS && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	opts.DialTimeout = cfg.Timeout
	opts.ReadTimeout = cfg.Timeout
	opts.WriteTimeout = cfg.Timeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
