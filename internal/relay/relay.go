// Package relay is a reference webhook backend for the widget.
//
// It terminates the widget's delivery protocol: POST /webhook accepts a
// message payload and answers either synchronously or with a stream handle,
// and GET /streams/{id} plays the handed-off reply back as Server-Sent
// Events terminated by the [DONE] sentinel. The reply itself comes from a
// pluggable Responder so the relay can front any upstream.
//
// File structure:
//   - relay.go: server setup and lifecycle
//   - handlers.go: webhook and stream endpoints
//   - response.go: JSON response helpers
//   - limit.go: per-client rate limiting middleware
package relay

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/embedchat/widget/internal/log"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8740"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	// IdleTimeout closes stale keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Config tunes the relay server.
type Config struct {
	// ChunkDelay paces stream chunks; zero emits them back to back.
	ChunkDelay time.Duration

	// RequestsPerSecond caps webhook calls per client IP. Zero disables
	// rate limiting.
	RequestsPerSecond float64

	// Burst is the rate limiter burst per client IP.
	Burst int
}

// Request is one inbound widget message as seen by a Responder.
type Request struct {
	Text        string
	SessionID   string
	WidgetID    string
	Attachments int
}

// Reply is what a Responder produces. A non-empty Chunks slice makes the
// reply stream; otherwise Message answers synchronously.
type Reply struct {
	Message string
	Chunks  []string
}

// Responder produces the assistant reply for one inbound message.
type Responder interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, req Request) (Reply, error)

func (f ResponderFunc) Respond(ctx context.Context, req Request) (Reply, error) {
	return f(ctx, req)
}

// EchoResponder answers every message with its own text, streamed word by
// word when it contains more than one word. Useful for demos and tests.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, req Request) (Reply, error) {
	words := strings.Fields(req.Text)
	if len(words) <= 1 {
		return Reply{Message: req.Text}, nil
	}
	chunks := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		chunks[i] = w
	}
	return Reply{Chunks: chunks}, nil
}

// Server is the relay HTTP server.
type Server struct {
	cfg       Config
	responder Responder
	logger    log.Logger
	router    chi.Router

	mu      sync.Mutex
	pending map[string]*pendingStream
}

// pendingStream is a reply parked between the webhook response and the
// stream fetch.
type pendingStream struct {
	messageID string
	chunks    []string
}

// NewServer creates a relay with all routes registered. A nil responder
// falls back to EchoResponder.
func NewServer(cfg Config, responder Responder, logger log.Logger) *Server {
	if responder == nil {
		responder = EchoResponder{}
	}
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Server{
		cfg:       cfg,
		responder: responder,
		logger:    logger,
		pending:   make(map[string]*pendingStream),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestsPerSecond > 0 {
		r.Use(perClientLimit(cfg.RequestsPerSecond, cfg.Burst))
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook", s.handleWebhook)
	r.Get("/streams/{streamID}", s.handleStream)

	s.router = r
	return s
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: ReadHeaderTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("relay shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) park(messageID string, chunks []string) string {
	id := newStreamID()
	s.mu.Lock()
	s.pending[id] = &pendingStream{messageID: messageID, chunks: chunks}
	s.mu.Unlock()
	return id
}

// lookup returns a parked stream without consuming it, so a client that
// dropped mid-playback can reconnect and replay from the start.
func (s *Server) lookup(id string) (*pendingStream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	return p, ok
}

// complete retires a stream after its sentinel has been delivered.
func (s *Server) complete(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}
