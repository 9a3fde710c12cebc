// Command worldmodel runs the object world model service and offers
// maintenance and client subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/banshee-data/worldmodel/internal/config"
	"github.com/banshee-data/worldmodel/internal/monitoring"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "worldmodel",
	Short: "Object world model: percept fusion and object tracking",
	Long: `worldmodel fuses pose and image percepts from detectors into a model of
tracked objects, asks verification services about them and publishes
every change.

Examples:
  worldmodel serve --config config/worldmodel.defaults.json
  worldmodel migrate up
  worldmodel objects list --server localhost:8091
  worldmodel version`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return errors.Wrap(err, "failed to load configuration")
		}
		cfg = loaded

		level := cfg.GetLogLevel()
		if logLevel != "" {
			level = logLevel
		}
		logger, err := monitoring.NewLogger(level, cfg.GetLogFormat())
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", level)
		}
		monitoring.SetLogger(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		monitoring.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (.json, .yaml or .toml); WORLDMODEL_* variables override it")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(objectsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
