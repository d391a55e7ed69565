package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/majkutK-unitn/anonymization-module/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "kanon",
	Short: "kanon - a k-anonymization engine",
	Long: `kanon anonymizes a tabular dataset by generalizing its
quasi-identifier attributes until every equivalence class has at least
k members.

Examples:
  # Run Mondrian over the in-memory document backend
  kanon run --algorithm mondrian --backend memdoc --config run.yaml

  # Validate a configuration file without running anything
  kanon validate --config run.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.Init(logLevel, logQueries)
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		loggers = l
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if loggers != nil {
			return loggers.Close()
		}
		return nil
	},
}

// loggers is populated by PersistentPreRunE once cobra has parsed flags;
// subcommands read it rather than re-initializing logging themselves.
var loggers *logging.Loggers

var (
	configPath string
	logLevel   string
	logQueries bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("KANON_CONFIG"), "path to the run configuration file (required)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOrDefault("KANON_LOG_LEVEL", "warn"), "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logQueries, "log-queries", envBool("KANON_LOG_QUERIES"), "mirror backend queries to stdout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	return os.Getenv(key) == "true" || os.Getenv(key) == "1"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
