package goAuthClient

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.App.ID = testAppID
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with app id",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "missing app id",
			mutate: func(c *Config) {
				c.App.ID = "  "
			},
			wantValid: false,
		},
		{
			name: "app id with separator",
			mutate: func(c *Config) {
				c.App.ID = "a:b"
			},
			wantValid: false,
		},
		{
			name: "relative base path",
			mutate: func(c *Config) {
				c.Routes.BasePath = "api/client"
			},
			wantValid: false,
		},
		{
			name: "empty storage prefix",
			mutate: func(c *Config) {
				c.Storage.Prefix = ""
			},
			wantValid: false,
		},
		{
			name: "negative lookahead",
			mutate: func(c *Config) {
				c.Refresh.Lookahead = -time.Second
			},
			wantValid: false,
		},
		{
			name: "background interval too short",
			mutate: func(c *Config) {
				c.Refresh.BackgroundInterval = time.Millisecond
			},
			wantValid: false,
		},
		{
			name: "background interval valid",
			mutate: func(c *Config) {
				c.Refresh.BackgroundInterval = time.Second
			},
			wantValid: true,
		},
		{
			name: "negative timeout",
			mutate: func(c *Config) {
				c.Request.Timeout = -time.Second
			},
			wantValid: false,
		},
		{
			name: "zero timeout",
			mutate: func(c *Config) {
				c.Request.Timeout = 0
			},
			wantValid: true,
		},
		{
			name: "audit without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfigFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	raw := `
app:
  id: notes-app
  version: "1.4.0"
refresh:
  lookahead: 2m
  background_interval: 30s
metrics:
  enable_latency_histograms: true
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "notes-app", cfg.App.ID)
	require.Equal(t, "1.4.0", cfg.App.Version)
	require.Equal(t, 2*time.Minute, cfg.Refresh.Lookahead)
	require.Equal(t, 30*time.Second, cfg.Refresh.BackgroundInterval)
	require.True(t, cfg.Metrics.EnableLatencyHistograms)

	// Keys absent from the file keep their defaults.
	require.Equal(t, DefaultConfig().Routes.BasePath, cfg.Routes.BasePath)
	require.Equal(t, DefaultConfig().Request.Timeout, cfg.Request.Timeout)
	require.True(t, cfg.Metrics.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFileErrors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [unclosed"), 0o600))
	_, err = LoadConfigFile(path)
	require.ErrorContains(t, err, "parse config")
}

func TestApplyEnvOverridesFields(t *testing.T) {
	t.Setenv("GOAUTHCLIENT_APP_ID", "env-app")
	t.Setenv("GOAUTHCLIENT_REFRESH_LOOKAHEAD", "45s")
	t.Setenv("GOAUTHCLIENT_AUDIT_ENABLED", "true")
	t.Setenv("GOAUTHCLIENT_STORAGE_PREFIX", "custom")

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(&cfg))
	require.Equal(t, "env-app", cfg.App.ID)
	require.Equal(t, 45*time.Second, cfg.Refresh.Lookahead)
	require.True(t, cfg.Audit.Enabled)
	require.Equal(t, "custom", cfg.Storage.Prefix)
	require.Equal(t, DefaultConfig().Device.SDKVersion, cfg.Device.SDKVersion)
}

func TestApplyEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("GOAUTHCLIENT_REQUEST_TIMEOUT", "soon")

	cfg := DefaultConfig()
	require.Error(t, ApplyEnv(&cfg))
}

func TestBuildRequiresTransportAndValidConfig(t *testing.T) {
	_, err := New().WithConfig(validConfig()).Build()
	require.ErrorIs(t, err, ErrTransportRequired)

	_, err = New().WithTransport(nil).Build()
	require.Error(t, err)

	env := newTestEnv(t)
	require.Equal(t, testAppID, env.engine.Config().App.ID)
}

func TestBuilderIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	b := New().WithConfig(validConfig()).WithTransport(env.server)
	e, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)

	_, err = b.Build()
	require.Error(t, err)
}
