// Package config provides widget configuration management with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (WIDGET_* runtime override)
//  2. Config file (an explicit path, or widget.yaml searched in the working
//     directory and $HOME/.widget)
//  3. Default values
//
// Validation is fail-fast: Load returns a sentinel-wrapped error for the
// first invalid value so embedders see misconfiguration at construction, not
// on the first send.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates every setting the widget runtime consumes.
type Config struct {
	Connection    ConnectionConfig    `mapstructure:"connection"`
	Features      FeaturesConfig      `mapstructure:"features"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Stream        StreamConfig        `mapstructure:"stream"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ConnectionConfig describes the webhook backend a widget delivers to.
type ConnectionConfig struct {
	// WebhookURL is the relay endpoint receiving outbound payloads.
	WebhookURL string `mapstructure:"webhook_url"`

	// WidgetID identifies the widget instance to the backend.
	WidgetID string `mapstructure:"widget_id"`

	// LicenseKey authenticates the embedding site.
	LicenseKey string `mapstructure:"license_key"` // SENSITIVE: never logged

	// Timeout bounds one delivery attempt end to end.
	Timeout time.Duration `mapstructure:"timeout"`

	// StrictStreamURLs rejects stream URLs pointing at private networks,
	// loopback, or metadata endpoints. Enable on server-side embeddings
	// where the backend response is not fully trusted. Off by default so
	// local development against a loopback relay keeps working.
	StrictStreamURLs bool `mapstructure:"strict_stream_urls"`
}

// FeaturesConfig carries the attachment policy supplied by the
// configuration layer.
type FeaturesConfig struct {
	// AllowedExtensions whitelists attachment file extensions (with dot,
	// lowercase). Empty means attachments of any type are accepted.
	AllowedExtensions []string `mapstructure:"allowed_extensions"`

	// MaxFileSizeKB rejects attachments larger than this. Zero means no cap.
	MaxFileSizeKB int `mapstructure:"max_file_size_kb"`
}

// RetryConfig configures the delivery backoff policy.
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	JitterPercent int           `mapstructure:"jitter_percent"`
}

// StreamConfig configures the server-push channel lifecycle.
type StreamConfig struct {
	// MaxReconnects bounds reconnection attempts after channel-level errors.
	MaxReconnects int `mapstructure:"max_reconnects"`
}

// ObservabilityConfig configures optional OTLP trace export.
type ObservabilityConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"` // OTLP/HTTP collector, host:port
}

// ScopeKey derives the session scope from the widget identity. Falls back to
// the license key when no widget id is configured.
func (c ConnectionConfig) ScopeKey() string {
	if c.WidgetID != "" {
		return c.WidgetID
	}
	return c.LicenseKey
}

// Load reads configuration from file and environment.
// An empty path searches for widget.yaml in the working directory, then in
// $HOME/.widget.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("widget")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".widget"))
		}
	}

	setDefaults(v)

	v.SetEnvPrefix("WIDGET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Missing file with no explicit path: defaults + env only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in defaults without touching file or env.
// The webhook URL is left empty and must be supplied by the embedder.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{Timeout: DefaultTimeout},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BaseDelay:     time.Second,
			MaxDelay:      30 * time.Second,
			JitterPercent: 25,
		},
		Stream: StreamConfig{MaxReconnects: 3},
	}
}

// DefaultTimeout bounds one delivery attempt when no timeout is configured.
const DefaultTimeout = 30 * time.Second

func setDefaults(v *viper.Viper) {
	v.SetDefault("connection.timeout", DefaultTimeout)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.jitter_percent", 25)

	v.SetDefault("stream.max_reconnects", 3)

	v.SetDefault("features.max_file_size_kb", 10240)

	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.endpoint", "localhost:4318")
}
