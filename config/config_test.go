package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("JWT_TTL_HOURS", "")
	t.Setenv("MINIO_USE_SSL", "")

	cfg := Load()
	assert.Equal(t, "./submeter-billing.db", cfg.DatabasePath)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.False(t, cfg.MinioUseSSL)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/x.db")
	t.Setenv("JWT_TTL_HOURS", "2")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("PUBLIC_BASE_URL", "https://billing.example/")
	t.Setenv("SMTP_PORT", "not-a-port")

	cfg := Load()
	assert.Equal(t, "/tmp/x.db", cfg.DatabasePath)
	assert.Equal(t, 2*time.Hour, cfg.JWTTTL)
	assert.True(t, cfg.MinioUseSSL)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "https://billing.example", cfg.PublicBaseURL)
	assert.Equal(t, 587, cfg.SMTPPort)
}
