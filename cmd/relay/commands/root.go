// Package commands implements the relay CLI with cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/logger"
)

func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "LINE to AI chat relay",
		Long: `relay answers LINE messages with an AI backend, keeping a short per-user
conversation and a daily quota.

Examples:
  relay serve
  relay worker
  relay sign --secret $LINE_CHANNEL_SECRET --file body.json
  relay hash-password`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a YAML config file (overrides CONFIG_PATH)")

	rootCmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newSignCmd(),
		newHashPasswordCmd(),
	)
	return rootCmd
}

// loadConfig applies --config, loads the configuration and sets up logging.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv("CONFIG_PATH", path); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	logger.SetLevel(cfg.LogLevel)
	logger.Install()
	return cfg, nil
}
