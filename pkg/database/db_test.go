package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'UTC'", quoteLiteral("UTC"))
	assert.Equal(t, "'Asia/Seoul'", quoteLiteral("Asia/Seoul"))
	assert.Equal(t, "'x'';DROP TABLE y;--'", quoteLiteral("x';DROP TABLE y;--"))
	assert.Equal(t, "''", quoteLiteral(""))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/oauth?sslmode=disable")
	t.Setenv("DATABASE_MAX_CONNS", "12")
	t.Setenv("DATABASE_TIMEZONE", "Asia/Seoul")

	cfg := ConfigFromEnv()
	assert.Equal(t, "postgres://u:p@localhost/oauth?sslmode=disable", cfg.DSN)
	assert.Equal(t, 12, cfg.MaxConns)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "Asia/Seoul", cfg.TimeZone)
}

func TestConfigFromEnv_BadValueFallsBack(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_MAX_CONNS", "many")

	cfg := ConfigFromEnv()
	assert.Empty(t, cfg.DSN)
	assert.Equal(t, 5, cfg.MaxConns)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}
