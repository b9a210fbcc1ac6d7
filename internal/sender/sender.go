// Package sender orchestrates message delivery to the webhook backend.
//
// A send appends the user message to shared state before any network I/O,
// then delivers the payload with bounded, classified retries. A response may
// answer synchronously (the assistant message is appended immediately) or
// hand back a stream URL, in which case a stream.Client takes over and
// finalizes the assistant message when the channel completes. Exactly one
// assistant message is produced per logical send, never both.
package sender

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/embedchat/widget/internal/config"
	"github.com/embedchat/widget/internal/log"
	"github.com/embedchat/widget/internal/neterr"
	"github.com/embedchat/widget/internal/retry"
	"github.com/embedchat/widget/internal/security"
	"github.com/embedchat/widget/internal/session"
	"github.com/embedchat/widget/internal/state"
	"github.com/embedchat/widget/internal/stream"
)

// ErrBusy indicates a send is already in flight on this Sender.
var ErrBusy = errors.New("send already in flight")

// Attachment is one file the user attached to a message. Data is read lazily
// during payload construction; an unreadable attachment is dropped without
// failing the send.
type Attachment struct {
	Name   string
	Type   string
	Reader io.Reader
}

// Options parameterizes one send.
type Options struct {
	Text        string
	Attachments []Attachment

	// Timeout overrides the configured per-attempt timeout when positive.
	Timeout time.Duration

	// Metadata is forwarded opaquely to the backend.
	Metadata map[string]any
}

// Result reports how a send concluded.
type Result struct {
	// MessageID is the backend-assigned id of the assistant reply.
	MessageID string

	// Streaming is true when the reply arrives over a push channel. The
	// assistant message is then appended by the stream, not synchronously.
	Streaming bool

	// Stream is the live channel client when Streaming is true.
	Stream *stream.Client
}

// payload is the outbound webhook body.
type payload struct {
	Text        string              `json:"text"`
	ChatInput   string              `json:"chatInput"`
	SessionID   string              `json:"sessionId"`
	WidgetID    string              `json:"widgetId"`
	LicenseKey  string              `json:"licenseKey"`
	Attachments []payloadAttachment `json:"attachments,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

type payloadAttachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"` // base64
}

// response is the webhook reply, synchronous or streaming.
type response struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
	Streaming bool   `json:"streaming"`
	StreamURL string `json:"streamUrl"`
}

// Sender delivers messages for one widget instance. Safe for concurrent
// calls, but only one logical send runs at a time; concurrent Send calls
// fail fast with ErrBusy.
type Sender struct {
	cfg      *config.Config
	states   *state.Manager
	sessions *session.Manager
	policy   *retry.Policy
	logger   log.Logger

	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	tracer       trace.Tracer
	urlCheck     *security.URLValidator

	allowedExts map[string]struct{}

	mu           sync.Mutex
	busy         bool
	cancel       context.CancelFunc
	activeStream *stream.Client
}

// Option customizes a Sender.
type Option func(*Sender)

// WithHTTPClient replaces the webhook HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.httpClient = c }
}

// WithStreamHTTPClient replaces the long-lived stream HTTP client (tests).
func WithStreamHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.streamClient = c }
}

// WithRateLimiter throttles delivery attempts. The limiter gates every
// attempt, retries included.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(s *Sender) { s.limiter = l }
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(tr trace.Tracer) Option {
	return func(s *Sender) { s.tracer = tr }
}

// New creates a Sender.
func New(cfg *config.Config, states *state.Manager, sessions *session.Manager, policy *retry.Policy, logger log.Logger, opts ...Option) *Sender {
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Sender{
		cfg:      cfg,
		states:   states,
		sessions: sessions,
		policy:   policy,
		logger:   logger,
		httpClient: &http.Client{
			// Per-attempt deadlines come from the request context; the
			// client itself stays unbounded.
		},
		streamClient: &http.Client{},
		tracer:       otel.Tracer("github.com/embedchat/widget/internal/sender"),
	}

	if cfg.Connection.StrictStreamURLs {
		s.urlCheck = security.NewURLValidator()
		s.streamClient = &http.Client{
			Transport:     s.urlCheck.SafeTransport(),
			CheckRedirect: s.urlCheck.CheckRedirect,
		}
	}

	exts := config.NormalizeExtensions(cfg.Features.AllowedExtensions)
	if len(exts) > 0 {
		s.allowedExts = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			s.allowedExts[e] = struct{}{}
		}
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Busy reports whether a send is currently in flight.
func (s *Sender) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Abort cancels the in-flight send, if any, and disconnects a stream this
// sender opened. The cancelled send surfaces through the normal failure path
// as a non-retryable abort error.
func (s *Sender) Abort() {
	s.mu.Lock()
	cancel := s.cancel
	active := s.activeStream
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if active != nil {
		active.Disconnect()
	}
}

// Send delivers one user message. The user message is visible in state
// before the first network attempt and is never rolled back on failure.
func (s *Sender) Send(ctx context.Context, opts Options) (*Result, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.busy = true
	sendCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	// Step 1: the user's text enters the transcript before any I/O.
	s.states.Apply(state.Patch{
		ClearErr: true,
		AppendMessages: []state.Message{{
			ID:        uuid.NewString(),
			Role:      state.RoleUser,
			Content:   opts.Text,
			Timestamp: time.Now().UTC(),
		}},
	})

	// Step 2: loading until a terminal outcome.
	s.states.Apply(state.Patch{IsLoading: state.Bool(true)})

	body, err := s.buildPayload(opts)
	if err != nil {
		classified := neterr.Classify(err)
		s.fail(classified)
		return nil, classified
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Connection.Timeout
	}

	ctx, span := s.tracer.Start(sendCtx, "widget.send",
		trace.WithAttributes(
			attribute.String("widget.id", s.cfg.Connection.WidgetID),
			attribute.Int("attachments", len(body.Attachments)),
		))
	defer span.End()

	resp, classified := s.deliver(ctx, body, timeout)
	if classified != nil {
		span.SetAttributes(attribute.String("error.kind", string(classified.Kind)))
		s.fail(classified)
		return nil, classified
	}
	span.SetAttributes(attribute.Bool("streaming", resp.Streaming))

	if resp.Streaming {
		return s.startStream(ctx, resp)
	}

	s.states.Apply(state.Patch{
		IsLoading: state.Bool(false),
		AppendMessages: []state.Message{{
			ID:        resp.MessageID,
			Role:      state.RoleAssistant,
			Content:   resp.Message,
			Timestamp: time.Now().UTC(),
		}},
	})
	return &Result{MessageID: resp.MessageID}, nil
}

// deliver runs the classified retry loop around attempt.
func (s *Sender) deliver(ctx context.Context, body *payload, timeout time.Duration) (*response, *neterr.Error) {
	s.policy.Reset()
	start := time.Now()

	var lastErr *neterr.Error
	for attempt := 0; ; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, neterr.Classify(err)
			}
		}

		resp, classified := s.attempt(ctx, body, timeout)
		if classified == nil {
			s.logger.Debug("message delivered",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
				"streaming", resp.Streaming,
			)
			return resp, nil
		}
		lastErr = classified

		if !s.policy.ShouldRetry(attempt, classified) {
			s.logger.Warn("delivery failed",
				"attempts", attempt+1,
				"kind", string(classified.Kind),
				"elapsed", time.Since(start),
				"error", classified,
			)
			return nil, lastErr
		}

		delay := s.policy.Delay(attempt)
		s.logger.Debug("retrying delivery",
			"attempt", attempt+1,
			"delay", delay,
			"error", classified,
		)

		select {
		case <-ctx.Done():
			return nil, neterr.Classify(ctx.Err())
		case <-time.After(delay):
		}
	}
}

// attempt performs a single POST with a derived deadline. The timeout is an
// abort: it cancels the same context Abort does, and classification tells
// the two apart.
func (s *Sender) attempt(ctx context.Context, body *payload, timeout time.Duration) (*response, *neterr.Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, neterr.Parse(err)
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, s.cfg.Connection.WebhookURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, neterr.Classify(err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		// The per-attempt deadline surfaces as DeadlineExceeded on
		// attemptCtx while a caller abort cancels ctx itself.
		if ctx.Err() != nil {
			return nil, neterr.Classify(ctx.Err())
		}
		return nil, neterr.Classify(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
		return nil, neterr.ClassifyStatus(httpResp.StatusCode)
	}

	var resp response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, neterr.Parse(err)
	}
	return &resp, nil
}

// startStream hands the reply over to a push channel. The channel lives
// beyond this Send call; it is cancelled by Abort or its own lifecycle, not
// by the send context.
func (s *Sender) startStream(ctx context.Context, resp *response) (*Result, error) {
	if s.urlCheck != nil {
		if err := s.urlCheck.Validate(resp.StreamURL); err != nil {
			classified := neterr.CORS(fmt.Errorf("stream url rejected: %w", err))
			s.fail(classified)
			return nil, classified
		}
	}

	streamPolicy := retry.New(retry.Config{
		MaxAttempts:   s.cfg.Stream.MaxReconnects,
		BaseDelay:     s.cfg.Retry.BaseDelay,
		MaxDelay:      s.cfg.Retry.MaxDelay,
		JitterPercent: s.cfg.Retry.JitterPercent,
	})

	client := stream.New(s.streamClient, s.states, streamPolicy, s.logger.With("component", "stream"))

	if err := client.Connect(context.WithoutCancel(ctx), resp.StreamURL, resp.MessageID); err != nil {
		classified := neterr.Classify(err)
		s.fail(classified)
		return nil, classified
	}

	s.mu.Lock()
	s.activeStream = client
	s.mu.Unlock()

	s.logger.Debug("stream started", "url", resp.StreamURL, "messageId", resp.MessageID)
	return &Result{MessageID: resp.MessageID, Streaming: true, Stream: client}, nil
}

// buildPayload assembles the outbound body. Attachment encoding fails
// closed: an oversized, disallowed, or unreadable file is skipped with a
// warning and the send proceeds with the text portion.
func (s *Sender) buildPayload(opts Options) (*payload, error) {
	sessionID, err := s.sessions.SessionID()
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	p := &payload{
		Text:       opts.Text,
		ChatInput:  opts.Text,
		SessionID:  sessionID,
		WidgetID:   s.cfg.Connection.WidgetID,
		LicenseKey: s.cfg.Connection.LicenseKey,
		Metadata:   opts.Metadata,
	}

	for _, att := range opts.Attachments {
		encoded, ok := s.encodeAttachment(att)
		if ok {
			p.Attachments = append(p.Attachments, encoded)
		}
	}
	return p, nil
}

func (s *Sender) encodeAttachment(att Attachment) (payloadAttachment, bool) {
	if s.allowedExts != nil {
		ext := strings.ToLower(filepath.Ext(att.Name))
		if _, ok := s.allowedExts[ext]; !ok {
			s.logger.Warn("attachment skipped: extension not allowed", "name", att.Name)
			return payloadAttachment{}, false
		}
	}

	if att.Reader == nil {
		s.logger.Warn("attachment skipped: no reader", "name", att.Name)
		return payloadAttachment{}, false
	}

	limit := int64(s.cfg.Features.MaxFileSizeKB) * 1024
	var r io.Reader = att.Reader
	if limit > 0 {
		r = io.LimitReader(att.Reader, limit+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		s.logger.Warn("attachment skipped: unreadable", "name", att.Name, "error", err)
		return payloadAttachment{}, false
	}
	if limit > 0 && int64(len(data)) > limit {
		s.logger.Warn("attachment skipped: too large", "name", att.Name, "limitKB", s.cfg.Features.MaxFileSizeKB)
		return payloadAttachment{}, false
	}

	return payloadAttachment{
		Name: att.Name,
		Type: att.Type,
		Data: base64.StdEncoding.EncodeToString(data),
	}, true
}

// fail records a terminal delivery failure. The user message appended in
// step 1 stays in the transcript.
func (s *Sender) fail(classified *neterr.Error) {
	s.states.Apply(state.Patch{
		IsLoading: state.Bool(false),
		Err:       classified,
	})
}
