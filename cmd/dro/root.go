package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/dro/internal/config"
	"github.com/copyleftdev/dro/internal/logging"
)

var (
	logLevel  string
	logFormat string

	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dro",
	Short: "Learned step optimizer driven by a trained recurrent controller",
	Long: `dro restores a trained recurrent controller from a checkpoint and lets it
propose points for a black-box objective, either a built-in function or a
remote peer reached over ZeroMQ or HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if logLevel != "" {
			c.Logging.Level = logLevel
		}
		if logFormat != "" {
			c.Logging.Format = logFormat
		}

		l, err := logging.NewLogger(&c.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg, logger = c, l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (json, text); overrides LOG_FORMAT")
}
