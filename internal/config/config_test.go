package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Connection.WebhookURL = "https://relay.example.test/webhook"
	cfg.Connection.WidgetID = "w-1"
	return cfg
}

func TestDefaultValidatesWithConnection(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())
}

func TestValidateSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "missing webhook",
			mutate:  func(c *Config) { c.Connection.WebhookURL = "" },
			wantErr: ErrMissingWebhookURL,
		},
		{
			name:    "relative webhook",
			mutate:  func(c *Config) { c.Connection.WebhookURL = "/webhook" },
			wantErr: ErrInvalidWebhookURL,
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.Connection.WebhookURL = "ftp://relay.example.test" },
			wantErr: ErrInvalidWebhookURL,
		},
		{
			name: "missing scope key",
			mutate: func(c *Config) {
				c.Connection.WidgetID = ""
				c.Connection.LicenseKey = ""
			},
			wantErr: ErrMissingScopeKey,
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Connection.Timeout = 0 },
			wantErr: ErrInvalidTimeout,
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: ErrInvalidMaxAttempts,
		},
		{
			name:    "excessive attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 11 },
			wantErr: ErrInvalidMaxAttempts,
		},
		{
			name:    "max delay below base",
			mutate:  func(c *Config) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 },
			wantErr: ErrInvalidDelay,
		},
		{
			name:    "jitter out of range",
			mutate:  func(c *Config) { c.Retry.JitterPercent = 150 },
			wantErr: ErrInvalidJitter,
		},
		{
			name:    "negative file size",
			mutate:  func(c *Config) { c.Features.MaxFileSizeKB = -1 },
			wantErr: ErrInvalidMaxFileSize,
		},
		{
			name:    "negative reconnects",
			mutate:  func(c *Config) { c.Stream.MaxReconnects = -1 },
			wantErr: ErrInvalidMaxReconnects,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widget.yaml")
	yaml := `
connection:
  webhook_url: https://relay.example.test/webhook
  widget_id: w-42
  license_key: lk-secret
  timeout: 10s
features:
  allowed_extensions: [".png", ".pdf"]
  max_file_size_kb: 512
retry:
  max_attempts: 5
  base_delay: 250ms
  max_delay: 8s
  jitter_percent: 10
stream:
  max_reconnects: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://relay.example.test/webhook", cfg.Connection.WebhookURL)
	assert.Equal(t, "w-42", cfg.Connection.WidgetID)
	assert.Equal(t, 10*time.Second, cfg.Connection.Timeout)
	assert.Equal(t, []string{".png", ".pdf"}, cfg.Features.AllowedExtensions)
	assert.Equal(t, 512, cfg.Features.MaxFileSizeKB)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 2, cfg.Stream.MaxReconnects)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widget.yaml")
	yaml := `
connection:
  webhook_url: https://relay.example.test/webhook
  widget_id: w-1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultTimeout, cfg.Connection.Timeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 25, cfg.Retry.JitterPercent)
	assert.Equal(t, 3, cfg.Stream.MaxReconnects)
}

func TestLoadSearchesHomeDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".widget")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	yaml := `
connection:
  webhook_url: https://relay.example.test/webhook
  widget_id: w-home
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "widget.yaml"), []byte(yaml), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "w-home", cfg.Connection.WidgetID)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widget.yaml")
	yaml := `
connection:
  webhook_url: not-a-url
  widget_id: w-1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	_, err := Load(path)
	assert.True(t, errors.Is(err, ErrInvalidWebhookURL), "got %v", err)
}

func TestScopeKeyFallsBackToLicense(t *testing.T) {
	t.Parallel()

	c := ConnectionConfig{LicenseKey: "lk-1"}
	assert.Equal(t, "lk-1", c.ScopeKey())

	c.WidgetID = "w-1"
	assert.Equal(t, "w-1", c.ScopeKey())
}

func TestNormalizeExtensions(t *testing.T) {
	t.Parallel()

	got := NormalizeExtensions([]string{"PNG", ".Pdf", " txt ", ""})
	assert.Equal(t, []string{".png", ".pdf", ".txt"}, got)

	assert.Nil(t, NormalizeExtensions(nil))
}
