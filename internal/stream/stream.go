// Package stream manages the server-push channel that delivers an assistant
// reply incrementally.
//
// A Client owns one logical answer: it connects to the stream URL handed
// back by the webhook, appends each text chunk to the shared streaming
// buffer, and on the terminal sentinel finalizes the concatenated text into
// exactly one assistant message. Channel-level drops are retried with the
// same backoff policy used for message delivery; each reconnect re-fetches
// the stream URL from its beginning and discards the partial text, so the
// finalized message is exactly what the surviving connection delivered. A
// sentinel or an explicit Disconnect is terminal for the channel instance.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/embedchat/widget/internal/log"
	"github.com/embedchat/widget/internal/neterr"
	"github.com/embedchat/widget/internal/retry"
	"github.com/embedchat/widget/internal/state"
)

// Sentinel is the terminal payload closing a stream.
const Sentinel = "[DONE]"

// Status describes the channel lifecycle.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

// ErrAlreadyConnected indicates Connect was called twice on one Client.
var ErrAlreadyConnected = errors.New("stream client already connected")

// Client consumes one server-push channel. Create one Client per streaming
// answer; a closed Client is not reusable.
type Client struct {
	httpClient *http.Client
	states     *state.Manager
	policy     *retry.Policy
	logger     log.Logger

	mu        sync.Mutex
	status    Status
	cancel    context.CancelFunc
	buf       strings.Builder
	messageID string

	done chan struct{}
}

// New creates a stream client feeding the given state manager. The policy
// bounds reconnection attempts; httpClient must not carry a global timeout
// (the channel is long-lived), so pass a dedicated client or nil for the
// default.
func New(httpClient *http.Client, states *state.Manager, policy *retry.Policy, logger log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		httpClient: httpClient,
		states:     states,
		policy:     policy,
		logger:     logger,
		status:     StatusIdle,
		done:       make(chan struct{}),
	}
}

// Status returns the current channel state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Done is closed when the reader goroutine has exited, whether by sentinel,
// disconnect, or abandoned reconnection.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Connect opens the push channel and consumes it on a background goroutine.
// messageID becomes the id of the finalized assistant message; an empty id
// gets a generated one. Returns immediately after the goroutine is started.
func (c *Client) Connect(ctx context.Context, url, messageID string) error {
	c.mu.Lock()
	if c.status != StatusIdle {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	c.messageID = messageID
	c.status = StatusConnecting

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx, url)
	return nil
}

// Disconnect closes the channel without finalizing a partial message.
// Idempotent; safe to call from any goroutine.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	already := c.status == StatusClosed
	c.status = StatusClosed
	c.mu.Unlock()

	if already {
		return
	}
	if cancel != nil {
		cancel()
		<-c.done
	}

	// Partial text is dropped, never promoted to a message.
	c.states.Apply(state.Patch{ClearStreaming: true, IsLoading: state.Bool(false)})
}

// run drives connect/read/reconnect until the channel terminates.
func (c *Client) run(ctx context.Context, url string) {
	defer close(c.done)

	maxReconnects := c.policy.Config().MaxAttempts
	attempt := 0

	for {
		finished, err := c.consume(ctx, url)
		if finished {
			return
		}

		if ctx.Err() != nil {
			// Disconnected or parent cancelled; Disconnect cleans state.
			c.setStatus(StatusClosed)
			return
		}

		c.setStatus(StatusError)
		classified := neterr.Classify(err)
		if !classified.Retryable || attempt >= maxReconnects-1 {
			c.abandon(classified)
			return
		}

		delay := c.policy.Delay(attempt)
		c.logger.Debug("stream reconnecting",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			c.setStatus(StatusClosed)
			return
		case <-time.After(delay):
		}

		// Reconnecting re-fetches the URL from its beginning: the server
		// replays the whole answer, so accumulated partial text would be
		// duplicated. Drop it and rebuild from the fresh connection.
		c.resetBuffer()
		attempt++
	}
}

func (c *Client) resetBuffer() {
	c.mu.Lock()
	c.buf.Reset()
	c.mu.Unlock()

	c.states.Apply(state.Patch{ClearStreaming: true})
}

// consume opens the SSE connection and reads events until the sentinel,
// a channel error, or cancellation. Returns finished=true when the channel
// is terminally done (sentinel received and finalized).
func (c *Client) consume(ctx context.Context, url string) (finished bool, err error) {
	c.setStatus(StatusConnecting)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, neterr.ClassifyStatus(resp.StatusCode)
	}

	c.setStatus(StatusConnected)
	c.logger.Debug("stream connected", "url", url)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if payload == Sentinel {
				c.finalize()
				return true, nil
			}
			c.append(payload)
		case line == "" || strings.HasPrefix(line, ":"):
			// Event separator or keep-alive comment.
		default:
			// event:/id: fields carry no payload for this protocol.
		}
	}

	if scanErr := scanner.Err(); scanErr != nil {
		return false, scanErr
	}
	// Server closed the connection without a sentinel: channel-level drop.
	return false, errors.New("stream closed before sentinel")
}

// append adds a chunk to the in-progress buffer and publishes it. Chunks
// arrive strictly in channel order because a single goroutine reads the body.
func (c *Client) append(chunk string) {
	c.mu.Lock()
	c.buf.WriteString(chunk)
	text := c.buf.String()
	c.mu.Unlock()

	c.states.Apply(state.Patch{Streaming: state.Str(text)})
}

// finalize atomically clears the streaming buffer and appends the finalized
// assistant message, then closes the channel.
func (c *Client) finalize() {
	c.mu.Lock()
	text := c.buf.String()
	id := c.messageID
	c.status = StatusClosed
	c.mu.Unlock()

	c.states.Apply(state.Patch{
		ClearStreaming: true,
		IsLoading:      state.Bool(false),
		AppendMessages: []state.Message{{
			ID:        id,
			Role:      state.RoleAssistant,
			Content:   text,
			Timestamp: time.Now().UTC(),
		}},
	})

	c.logger.Debug("stream finalized", "messageId", id, "bytes", len(text))
}

// abandon gives up on reconnection and surfaces the error.
func (c *Client) abandon(err *neterr.Error) {
	c.setStatus(StatusError)
	c.states.Apply(state.Patch{
		ClearStreaming: true,
		IsLoading:      state.Bool(false),
		Err:            err,
	})
	c.logger.Warn("stream abandoned", "kind", string(err.Kind), "error", err)
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	// A terminal close always wins over late transitions from the reader.
	if c.status != StatusClosed || s == StatusClosed {
		c.status = s
	}
	c.mu.Unlock()
}
