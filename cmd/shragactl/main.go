// shragactl is the operator CLI for the Shraga coordination plane: dev-box
// lifecycle management, sync-root inspection, and session-folder utilities.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shraga-ai/shraga/internal/common/config"
	"github.com/shraga-ai/shraga/internal/common/logger"
)

var (
	cfg *config.Config
	log *logger.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "shragactl",
		Short:         "Operator tooling for the Shraga coordination plane",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			log, err = logger.NewLogger(logger.LoggingConfig{
				Level:  cfg.Logging.Level,
				Format: "console",
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},
	}

	root.AddCommand(devboxCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(sessionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
