package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mr1hm/go-hazard-alerts/internal/config"
	"github.com/mr1hm/go-hazard-alerts/internal/logging"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "hazard-alert",
	Short: "Hazard proximity alerts and map filtering",
	Long:  "Ingests hazard records from the disaster backend, answers filter and proximity queries over HTTP and gRPC, and streams alerts for hazards near a position.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c

		// Offline commands print results on stdout, so their logs go to stderr.
		if cmd.Name() == serveCmdName {
			logging.Setup(cfg.Logging.Level)
		} else {
			logging.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level)
		}
		return nil
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Fatalf("hazard-alert: %v", err)
	}
}
