package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/apply-engine/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the apply engine until interrupted",
	Long: `Launches Chrome, opens the configured listing pages, and starts scraping and
applying immediately. The engine runs until Ctrl-C, a platform-wide quota hit
on every platform, or the browser going away.

Configuration can be loaded from a JSON file using --config. Command-line
arguments override config file values.`,
	RunE: runEngineCmd,
}

var (
	runDatabaseURL string
	runSpreadsheet string
	runLinkedInURL string
	runIndeedURL   string
	runPlatforms   []string
	runLimitTotal  int
	runLimitPer    int
	runHeadless    bool
)

func init() {
	runCmd.Flags().StringVar(&runDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	runCmd.Flags().StringVar(&runSpreadsheet, "spreadsheet", "", "Google Sheets spreadsheet ID for application logging")
	runCmd.Flags().StringVar(&runLinkedInURL, "linkedin-url", "", "LinkedIn job search URL to scrape")
	runCmd.Flags().StringVar(&runIndeedURL, "indeed-url", "", "Indeed job search URL to scrape")
	runCmd.Flags().StringSliceVar(&runPlatforms, "platforms", nil, "Platforms to drive (linkedin, indeed)")
	runCmd.Flags().IntVar(&runLimitTotal, "limit-total", 0, "Daily application cap across all platforms")
	runCmd.Flags().IntVar(&runLimitPer, "limit-per-platform", 0, "Daily application cap per platform")
	runCmd.Flags().BoolVar(&runHeadless, "headless", true, "Run Chrome headless (disable to watch the engine work)")

	rootCmd.AddCommand(runCmd)
}

func runEngineCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = runDatabaseURL
	} else if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cmd.Flags().Changed("spreadsheet") {
		cfg.SpreadsheetID = runSpreadsheet
	}
	if cmd.Flags().Changed("linkedin-url") {
		cfg.LinkedInURL = runLinkedInURL
	}
	if cmd.Flags().Changed("indeed-url") {
		cfg.IndeedURL = runIndeedURL
	}
	if cmd.Flags().Changed("platforms") {
		cfg.Platforms = runPlatforms
	}
	if cmd.Flags().Changed("limit-total") {
		cfg.DailyLimitTotal = runLimitTotal
	}
	if cmd.Flags().Changed("limit-per-platform") {
		cfg.DailyLimitPerPlatform = runLimitPer
	}
	if cmd.Flags().Changed("headless") {
		cfg.Headless = runHeadless
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.LinkedInURL == "" && cfg.IndeedURL == "" {
		return fmt.Errorf("at least one listing URL is required (--linkedin-url or --indeed-url)")
	}

	if err := logging.Initialize(cfg.Verbose, cfg.JSONLogs); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logging.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	g, gctx := errgroup.WithContext(ctx)
	rt.Spawn(g, gctx)

	if err := rt.engine.Start(gctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	logging.L().Infow("engine running; interrupt to stop")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
