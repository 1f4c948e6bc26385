package cmd

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"coinflip/config"
)

// NewRootCmd builds the coinflip command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "coinflip",
		Short:         "Wager ERC20 tokens on an on-chain coin flip",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(config.Get())
		},
	}

	rootCmd.AddCommand(
		FlipCmd(),
		BalanceCmd(),
		WatchCmd(),
	)

	return rootCmd
}

// Execute runs the command tree until it finishes or ctx is cancelled
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func configureLogging(cfg *config.Config) {
	log.SetOutput(os.Stderr)

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Environment == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
