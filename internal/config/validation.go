package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingWebhookURL indicates no webhook endpoint was configured.
	ErrMissingWebhookURL = errors.New("missing webhook URL")

	// ErrInvalidWebhookURL indicates the webhook endpoint is not an
	// absolute http(s) URL.
	ErrInvalidWebhookURL = errors.New("invalid webhook URL")

	// ErrMissingScopeKey indicates neither widget id nor license key is set.
	ErrMissingScopeKey = errors.New("missing widget id and license key")

	// ErrInvalidTimeout indicates a non-positive delivery timeout.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidMaxAttempts indicates the retry budget is out of range.
	ErrInvalidMaxAttempts = errors.New("invalid max attempts")

	// ErrInvalidDelay indicates a retry delay is out of range.
	ErrInvalidDelay = errors.New("invalid retry delay")

	// ErrInvalidJitter indicates the jitter percentage is out of range.
	ErrInvalidJitter = errors.New("invalid jitter percent")

	// ErrInvalidMaxFileSize indicates a negative attachment size cap.
	ErrInvalidMaxFileSize = errors.New("invalid max file size")

	// ErrInvalidMaxReconnects indicates a negative reconnect budget.
	ErrInvalidMaxReconnects = errors.New("invalid max reconnects")
)

// Validate performs range checks on every setting. Returns the first
// violation wrapped around its sentinel error.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := c.Connection.validate(); err != nil {
		return err
	}
	if err := c.Retry.validate(); err != nil {
		return err
	}
	if c.Features.MaxFileSizeKB < 0 {
		return fmt.Errorf("%w: %d KB", ErrInvalidMaxFileSize, c.Features.MaxFileSizeKB)
	}
	if c.Stream.MaxReconnects < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxReconnects, c.Stream.MaxReconnects)
	}
	return nil
}

func (c ConnectionConfig) validate() error {
	if c.WebhookURL == "" {
		return ErrMissingWebhookURL
	}

	u, err := url.Parse(c.WebhookURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidWebhookURL, c.WebhookURL)
	}

	if c.ScopeKey() == "" {
		return ErrMissingScopeKey
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTimeout, c.Timeout)
	}
	return nil
}

func (c RetryConfig) validate() error {
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("%w: %d (must be 1-10)", ErrInvalidMaxAttempts, c.MaxAttempts)
	}
	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("%w: base %v, max %v", ErrInvalidDelay, c.BaseDelay, c.MaxDelay)
	}
	if c.JitterPercent < 0 || c.JitterPercent > 100 {
		return fmt.Errorf("%w: %d (must be 0-100)", ErrInvalidJitter, c.JitterPercent)
	}
	return nil
}

// NormalizeExtensions lowercases and dot-prefixes the allowed extension list
// so lookups are uniform.
func NormalizeExtensions(exts []string) []string {
	if len(exts) == 0 {
		return nil
	}
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
