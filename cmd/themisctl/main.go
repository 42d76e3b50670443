// Command themisctl is the operator toolbox for a Themis deployment: dev
// tokens, password hashes, seed data and a terminal chat against the API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"themis/internal/config"
	"themis/internal/observe"
)

var (
	cfg     config.Config
	logger  *zap.Logger
	verbose bool
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "themisctl",
	Short: "Operator tools for the Themis FAQ chatbot",
	Long: `themisctl reads the same environment (.env) as the API server.

Available subcommands:
  token          - Sign a bearer token for an existing user id
  hash-password  - Print a bcrypt hash for bootstrapping a users row
  seed           - Insert or remove the sample admin user and intents
  chat           - Talk to the chatbot from the terminal`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = observe.NewLogger(cfg.AppEnv, level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
