package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/embedchat/widget/internal/config"
	"github.com/embedchat/widget/internal/observability"
	"github.com/embedchat/widget/internal/session"
	"github.com/embedchat/widget/pkg/widget"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat against the configured webhook",
	RunE:  runChat,
}

var sessionDir string

func init() {
	chatCmd.Flags().StringVar(&sessionDir, "session-dir", "", "persist sessions under this directory (default: in-memory)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Observability.Enabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Observability.Endpoint,
			ServiceName: "widget-chat",
		}, logger)
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("trace flush failed", "error", err)
			}
		}()
	}

	opts := []widget.Option{widget.WithLogger(logger)}
	if sessionDir != "" {
		store, err := session.NewFileStorage(sessionDir)
		if err != nil {
			return fmt.Errorf("opening session dir: %w", err)
		}
		opts = append(opts, widget.WithStorage(store))
	}

	w, err := widget.New(cfg, opts...)
	if err != nil {
		return err
	}

	return chatLoop(ctx, w, os.Stdin, os.Stdout, cfg)
}

// chatLoop reads lines from in and prints the conversation to out. Streamed
// replies are rendered incrementally as chunks arrive.
func chatLoop(ctx context.Context, w *widget.Widget, in io.Reader, out io.Writer, cfg *config.Config) error {
	sessionID, err := w.SessionID()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s (session %s)\n", cfg.Connection.WebhookURL, sessionID)
	fmt.Fprintln(out, `Type a message, "/reset" to start over, "/quit" to exit.`)

	// Render streamed text incrementally. printed tracks how much of the
	// current streaming buffer is already on screen.
	var printed int
	unsubscribe := w.Subscribe(func(s widget.State) {
		if s.Streaming == nil {
			printed = 0
			return
		}
		if len(*s.Streaming) > printed {
			fmt.Fprint(out, (*s.Streaming)[printed:])
			printed = len(*s.Streaming)
		}
	})
	defer unsubscribe()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/reset":
			if err := w.ResetSession(); err != nil {
				errorf("reset failed: %v", err)
				continue
			}
			id, _ := w.SessionID()
			fmt.Fprintf(out, "New session %s\n", id)
			continue
		}

		res, err := w.SendMessage(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			errorf("send failed: %v", err)
			continue
		}

		if res.Streaming {
			select {
			case <-res.Stream.Done():
			case <-ctx.Done():
				w.Abort()
				return nil
			}
			fmt.Fprintln(out)
			continue
		}

		msgs := w.Messages()
		if len(msgs) > 0 {
			fmt.Fprintln(out, msgs[len(msgs)-1].Content)
		}
	}
}
