package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/apply-engine/internal/classify"
	"github.com/jonathan/apply-engine/internal/fetch"
	"github.com/jonathan/apply-engine/internal/logging"
	"github.com/jonathan/apply-engine/internal/observability"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a single ATS page without running the engine",
	Long: `Fetches a URL (or reads a saved HTML snapshot) and prints the page
classification the live agent would act on: type, confidence, and the
evidence behind it. Useful for checking why a site misbehaved.`,
	RunE: runClassifyCmd,
}

var (
	classifyURL     string
	classifyFile    string
	classifyRender  bool
	classifyMinConf float64
)

func init() {
	classifyCmd.Flags().StringVarP(&classifyURL, "url", "u", "", "URL to fetch and classify (mutually exclusive with --file)")
	classifyCmd.Flags().StringVarP(&classifyFile, "file", "f", "", "Path to a saved HTML snapshot")
	classifyCmd.Flags().BoolVar(&classifyRender, "render", false, "Force a headless-browser render before classifying (requires Chrome)")
	classifyCmd.Flags().Float64Var(&classifyMinConf, "min-confidence", 0, "Acceptance threshold override (0 uses the configured default)")

	rootCmd.AddCommand(classifyCmd)
}

func runClassifyCmd(cmd *cobra.Command, _ []string) error {
	if classifyURL == "" && classifyFile == "" {
		return fmt.Errorf("either --url or --file must be provided")
	}
	if classifyURL != "" && classifyFile != "" {
		return fmt.Errorf("--url and --file are mutually exclusive; provide only one")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.Verbose, cfg.JSONLogs); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logging.Sync() }()

	minConf := cfg.Tuning.MinConfidence
	if cmd.Flags().Changed("min-confidence") {
		minConf = classifyMinConf
	}

	ctx := context.Background()
	printer := observability.NewPrinter(os.Stdout)

	var html string
	switch {
	case classifyFile != "":
		data, err := os.ReadFile(classifyFile)
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
		html = string(data)
		printer.PrintPage(classifyFile, fetch.VendorUnknown, 0, len(html), false)

	default:
		result, err := fetch.URL(ctx, classifyURL, nil)
		if result == nil {
			return fmt.Errorf("failed to fetch page: %w", err)
		}
		if err != nil {
			// Non-success status still carries a body; error pages
			// classify too.
			logging.L().Warnw("fetch returned an error page", "error", err)
		}
		html = result.HTML
		rendered := false

		// Script-driven ATS pages serve an empty shell over plain HTTP;
		// rendering is what the live agent would see.
		if classifyRender || fetch.ShouldRender(html) {
			renderedHTML, err := fetch.Rendered(ctx, classifyURL, 60*time.Second)
			if err != nil {
				return fmt.Errorf("failed to render page: %w", err)
			}
			html = renderedHTML
			rendered = true
		}
		printer.PrintPage(classifyURL, fetch.DetectVendor(classifyURL), result.StatusCode, len(html), rendered)
	}

	res, err := classify.ClassifyHTML(html, classify.Options{MinConfidence: minConf})
	if err != nil {
		return fmt.Errorf("failed to classify page: %w", err)
	}
	printer.PrintClassification(res)

	return nil
}
