// Package main provides the entry point for the apply engine CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/apply-engine/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "apply_agent",
	Short: "Cross-tab job application engine",
	Long:  "apply_agent scrapes job listings across browser tabs, walks each posting through its ATS application flow, and records every attempt. One orchestrator goroutine owns all session state; page agents drive real Chrome tabs.",
}

var (
	rootConfigPath string
	rootVerbose    bool
	rootJSONLogs   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Debug-level logging")
	rootCmd.PersistentFlags().BoolVar(&rootJSONLogs, "json-logs", false, "Machine-readable log output")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig merges the config file, defaults, and the root persistent flags.
// Command-specific flag overrides are applied by the caller before Validate.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg config.Config
	if rootConfigPath != "" {
		loaded, err := config.LoadConfig(rootConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}

	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = rootVerbose
	}
	if cmd.Flags().Changed("json-logs") {
		cfg.JSONLogs = rootJSONLogs
	}

	merged := cfg.MergeWithDefaults(config.Default())
	return &merged, nil
}
