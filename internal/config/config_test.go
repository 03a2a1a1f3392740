package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subpay/backend/internal/core"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Owner.Principal)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
owner:
  principal: owner-prod
  spender: engine-prod
redis:
  addr: localhost:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, core.Principal("owner-prod"), cfg.OwnerPrincipal())
	assert.Equal(t, core.Principal("engine-prod"), cfg.SpenderPrincipal())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SUBPAY_OWNER", "owner-env")
	t.Setenv("REDIS_ADDR", "redis-env:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, core.Principal("owner-env"), cfg.OwnerPrincipal())
	assert.Equal(t, "redis-env:6379", cfg.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
