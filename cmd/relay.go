package cmd

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/embedchat/widget/internal/relay"
)

var (
	relayAddr       string
	relayChunkDelay time.Duration
	relayRPS        float64
	relayBurst      int
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the reference webhook backend",
	Long: `relay serves a webhook backend that echoes messages back, streaming
multi-word replies over SSE. Point a widget's webhook_url at it for local
development and integration testing.`,
	RunE: runRelay,
}

func init() {
	relayCmd.Flags().StringVar(&relayAddr, "addr", relay.DefaultAddr, "listen address")
	relayCmd.Flags().DurationVar(&relayChunkDelay, "chunk-delay", 30*time.Millisecond, "pause between stream chunks")
	relayCmd.Flags().Float64Var(&relayRPS, "rps", 0, "per-client requests per second (0 disables limiting)")
	relayCmd.Flags().IntVar(&relayBurst, "burst", 5, "per-client rate limit burst")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := relay.NewServer(relay.Config{
		ChunkDelay:        relayChunkDelay,
		RequestsPerSecond: relayRPS,
		Burst:             relayBurst,
	}, nil, logger)

	return srv.Run(ctx, relayAddr)
}
