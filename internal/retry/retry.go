// Package retry implements the bounded exponential-backoff policy used for
// message delivery and stream reconnection.
//
// The policy is pure computation: it decides whether another attempt fits the
// budget and how long to wait before it. Sleeping, context cancellation and
// the actual re-issue are the caller's job.
package retry

import (
	"math/rand"
	"sync"
	"time"

	"github.com/embedchat/widget/internal/neterr"
)

// Config configures the retry behavior for a delivery cycle.
type Config struct {
	// MaxAttempts counts the initial attempt plus all retries.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// JitterPercent perturbs each computed delay by ±N% (uniform) to avoid
	// synchronized retry storms across widget instances.
	JitterPercent int
}

// DefaultConfig returns sensible defaults for webhook delivery.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		JitterPercent: 25,
	}
}

// Policy decides retry eligibility and backoff delays. A single Policy
// instance is reused across independent send cycles; Reset starts a new
// cycle. Safe for concurrent use.
type Policy struct {
	cfg Config

	mu       sync.Mutex
	attempts int
	randFn   func() float64
}

// New creates a Policy with the given configuration. Zero or negative
// MaxAttempts means a single attempt and no retries.
func New(cfg Config) *Policy {
	return &Policy{cfg: cfg, randFn: rand.Float64}
}

// Config returns the policy configuration.
func (p *Policy) Config() Config { return p.cfg }

// ShouldRetry reports whether the attempt that just failed with err should be
// followed by another one. attempt is zero-based: attempt 0 is the initial
// try. Non-retryable errors end the cycle immediately; otherwise another
// attempt is allowed iff it still fits inside MaxAttempts.
func (p *Policy) ShouldRetry(attempt int, err *neterr.Error) bool {
	if err == nil || !err.Retryable {
		return false
	}
	return attempt < p.cfg.MaxAttempts-1
}

// Delay computes the backoff before retry number attempt+1: BaseDelay
// doubled per attempt, clamped to MaxDelay, then jittered by
// ±JitterPercent%. MaxDelay bounds the final value: upward jitter at the
// cap is clamped away. The pre-jitter value is monotonically non-decreasing
// in attempt up to the cap.
func (p *Policy) Delay(attempt int) time.Duration {
	backoff := p.cfg.BaseDelay << uint(attempt)
	if backoff <= 0 || backoff > p.cfg.MaxDelay {
		// Negative after overflow on large attempt values.
		backoff = p.cfg.MaxDelay
	}

	p.mu.Lock()
	p.attempts++
	jitter := p.randFn()
	p.mu.Unlock()

	if p.cfg.JitterPercent > 0 {
		// Uniform in [-JitterPercent%, +JitterPercent%] around backoff.
		span := float64(backoff) * float64(p.cfg.JitterPercent) / 100
		backoff += time.Duration(span * (2*jitter - 1))
	}

	if backoff < 0 {
		backoff = 0
	}
	if backoff > p.cfg.MaxDelay {
		backoff = p.cfg.MaxDelay
	}
	return backoff
}

// Attempts returns how many delays the current cycle has handed out.
func (p *Policy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Reset clears attempt bookkeeping so a new send cycle starts from zero.
func (p *Policy) Reset() {
	p.mu.Lock()
	p.attempts = 0
	p.mu.Unlock()
}
