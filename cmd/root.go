// Package cmd implements the widget CLI.
//
// The binary is a host harness around the widget runtime: `chat` runs an
// interactive conversation against a configured webhook, `relay` serves the
// reference backend, and `version` prints build information.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/embedchat/widget/internal/config"
	"github.com/embedchat/widget/internal/log"
)

var (
	cfgPath  string
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "widget",
	Short: "Embeddable chat widget runtime",
	Long: `widget hosts the chat widget runtime outside a browser.

Without a subcommand it starts an interactive chat against the configured
webhook backend. Configuration comes from widget.yaml, WIDGET_* environment
variables, and an optional .env file, in that order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

// Execute runs the CLI. Called from main.
func Execute() error {
	// Missing .env is the common case and not an error.
	_ = godotenv.Load()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to widget.yaml (default: search ., $HOME/.widget)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
}

// newLogger builds the process logger from the persistent flags.
func newLogger() log.Logger {
	return log.New(log.Config{Level: log.ParseLevel(logLevel), JSON: logJSON})
}

// loadConfig loads and validates the widget configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
