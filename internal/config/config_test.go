package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IRREngine/internal/config"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9091", cfg.MetricsAddr)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.RefreshTimeout)
	assert.Equal(t, 5*time.Second, cfg.SyncComputeTimeout)
	assert.Empty(t, cfg.NATSURL, "refresh listener is opt-in")
	assert.Equal(t, "portal.irr.refresh.>", cfg.RefreshSubject,
		"subscription must catch suffixed refresh subjects")
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
postgres_url: postgres://portal:secret@db:5432/portal
nats_url: nats://broker:4222
refresh_subject: portal.irr.refresh
http_addr: ":9000"
cache_ttl: 1h
sync_compute_timeout: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://portal:secret@db:5432/portal", cfg.PostgresURL)
	assert.Equal(t, "nats://broker:4222", cfg.NATSURL)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 2*time.Second, cfg.SyncComputeTimeout)
	assert.Equal(t, 30*time.Second, cfg.RefreshTimeout, "unset keys keep their defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":9000\"\n"), 0o644))

	t.Setenv("IRR_HTTP_ADDR", ":7070")
	t.Setenv("IRR_POSTGRES_DSN", "postgres://env:env@db:5432/portal")
	t.Setenv("IRR_CACHE_TTL", "90m")
	t.Setenv("IRR_SYNC_COMPUTE_TIMEOUT", "10") // bare integer means seconds

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, "postgres://env:env@db:5432/portal", cfg.PostgresURL)
	assert.Equal(t, 90*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 10*time.Second, cfg.SyncComputeTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *config.Config) {}, false},
		{"empty postgres url", func(c *config.Config) { c.PostgresURL = "" }, true},
		{"zero cache ttl", func(c *config.Config) { c.CacheTTL = 0 }, true},
		{"negative sync timeout", func(c *config.Config) { c.SyncComputeTimeout = -time.Second }, true},
		{"nats without subject", func(c *config.Config) {
			c.NATSURL = "nats://broker:4222"
			c.RefreshSubject = ""
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
