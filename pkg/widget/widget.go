// Package widget is the embeddable chat widget runtime.
//
// A Widget owns one conversation against a webhook backend: it keeps the
// visible state (open/closed, transcript, loading, error, streaming text),
// persists a session id per widget identity, and delivers messages with
// classified retries and streaming reply handling. Hosts construct one
// Widget per embedded instance and observe it through Subscribe.
package widget

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/embedchat/widget/internal/config"
	"github.com/embedchat/widget/internal/log"
	"github.com/embedchat/widget/internal/retry"
	"github.com/embedchat/widget/internal/sender"
	"github.com/embedchat/widget/internal/session"
	"github.com/embedchat/widget/internal/state"
)

// Re-exported view types so hosts do not import internal packages.
type (
	// State is a point-in-time snapshot of the widget.
	State = state.State
	// Message is one transcript entry.
	Message = state.Message
	// Role tags a message author.
	Role = state.Role
	// SendOptions parameterizes one send.
	SendOptions = sender.Options
	// Attachment is a file included with a message.
	Attachment = sender.Attachment
	// SendResult reports how a send concluded.
	SendResult = sender.Result
)

// Author roles.
const (
	RoleUser      = state.RoleUser
	RoleAssistant = state.RoleAssistant
)

// ErrBusy is returned by SendMessage while a send is already in flight.
var ErrBusy = sender.ErrBusy

// Widget is one embedded chat instance. All methods are safe for
// concurrent use.
type Widget struct {
	cfg      *config.Config
	logger   log.Logger
	states   *state.Manager
	sessions *session.Manager
	sender   *sender.Sender
}

// Option customizes construction.
type Option func(*options)

type options struct {
	logger     log.Logger
	storage    session.Storage
	limiter    *rate.Limiter
	senderOpts []sender.Option
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStorage sets the session store. The default is in-memory, scoped to
// the process; use session.NewFileStorage for persistence across restarts.
func WithStorage(s session.Storage) Option {
	return func(o *options) { o.storage = s }
}

// WithRateLimiter throttles outbound delivery attempts.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithSenderOptions forwards low-level options to the message sender.
func WithSenderOptions(opts ...sender.Option) Option {
	return func(o *options) { o.senderOpts = append(o.senderOpts, opts...) }
}

// New validates cfg and assembles a widget. The returned widget holds no
// background goroutines until a streaming reply is in flight.
func New(cfg *config.Config, opts ...Option) (*Widget, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNop()
	}

	sessions := session.NewManager(cfg.Connection.ScopeKey(), o.storage, o.logger.With("component", "session"))
	states := state.NewManager(state.State{})
	policy := retry.New(retry.Config{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		JitterPercent: cfg.Retry.JitterPercent,
	})

	senderOpts := o.senderOpts
	if o.limiter != nil {
		senderOpts = append(senderOpts, sender.WithRateLimiter(o.limiter))
	}

	return &Widget{
		cfg:      cfg,
		logger:   o.logger,
		states:   states,
		sessions: sessions,
		sender:   sender.New(cfg, states, sessions, policy, o.logger.With("component", "sender"), senderOpts...),
	}, nil
}

// SendMessage delivers text as the user. It returns once the backend has
// answered synchronously or handed the reply to a stream; streamed content
// then arrives through state updates.
func (w *Widget) SendMessage(ctx context.Context, text string) (*SendResult, error) {
	return w.sender.Send(ctx, SendOptions{Text: text})
}

// SendMessageWith delivers a message with attachments, metadata, or a
// per-send timeout override.
func (w *Widget) SendMessageWith(ctx context.Context, opts SendOptions) (*SendResult, error) {
	return w.sender.Send(ctx, opts)
}

// Abort cancels the in-flight send or active stream, if any. The cancelled
// send surfaces a non-retryable abort error in state.
func (w *Widget) Abort() { w.sender.Abort() }

// Busy reports whether a send is in flight.
func (w *Widget) Busy() bool { return w.sender.Busy() }

// State returns a snapshot. Mutating it does not affect the widget.
func (w *Widget) State() State { return w.states.Get() }

// Messages returns the transcript from the current snapshot.
func (w *Widget) Messages() []Message { return w.states.Get().Messages }

// Subscribe registers a listener invoked after every state change with the
// new snapshot. It returns an unsubscribe function. Listeners run
// synchronously on the mutating goroutine and must not block.
func (w *Widget) Subscribe(fn func(State)) (unsubscribe func()) {
	return w.states.Subscribe(fn)
}

// Open shows the widget panel.
func (w *Widget) Open() { w.states.Apply(state.Patch{IsOpen: state.Bool(true)}) }

// Close hides the widget panel.
func (w *Widget) Close() { w.states.Apply(state.Patch{IsOpen: state.Bool(false)}) }

// Toggle flips panel visibility.
func (w *Widget) Toggle() {
	open := w.states.Get().IsOpen
	w.states.Apply(state.Patch{IsOpen: state.Bool(!open)})
}

// SessionID returns the stable session id, creating one on first use.
func (w *Widget) SessionID() (string, error) { return w.sessions.SessionID() }

// SessionStart reports when the current session was created.
func (w *Widget) SessionStart() (time.Time, error) { return w.sessions.StartTime() }

// ResetSession discards the session id and clears the transcript. The next
// send starts a fresh conversation.
func (w *Widget) ResetSession() error {
	if err := w.sessions.Reset(); err != nil {
		return err
	}
	w.states.Apply(state.Patch{
		ClearErr:       true,
		ClearStreaming: true,
		IsLoading:      state.Bool(false),
		ClearMessages:  true,
	})
	w.logger.Debug("session reset")
	return nil
}
