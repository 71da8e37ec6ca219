// Package config provides configuration loading and validation for the engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the engine configuration that can be loaded from a JSON
// file. All fields are optional; missing values use defaults or must be
// provided via CLI flags.
type Config struct {
	// Connections
	DatabaseURL   string `json:"database_url,omitempty"`   // PostgreSQL connection URL (empty disables persistence)
	SpreadsheetID string `json:"spreadsheet_id,omitempty"` // Google Sheets spreadsheet for application logging
	SheetName     string `json:"sheet_name,omitempty"`     // Tab name inside the spreadsheet
	ProfileDir    string `json:"profile_dir,omitempty"`    // Directory holding the encrypted profile store

	// Platforms
	Platforms   []string `json:"platforms,omitempty"`    // Enabled source platforms (linkedin, indeed)
	LinkedInURL string   `json:"linkedin_url,omitempty"` // Listing search URL for LinkedIn
	IndeedURL   string   `json:"indeed_url,omitempty"`   // Listing search URL for Indeed

	// Daily quotas
	DailyLimitTotal       int `json:"daily_limit_total,omitempty"`        // Applications per day across all platforms
	DailyLimitPerPlatform int `json:"daily_limit_per_platform,omitempty"` // Applications per day per platform

	// Behavior
	Headless bool `json:"headless,omitempty"`  // Run Chrome headless
	Verbose  bool `json:"verbose,omitempty"`   // Debug-level logging
	JSONLogs bool `json:"json_logs,omitempty"` // Machine-readable log output

	// Control API
	ServerHost    string `json:"server_host,omitempty"`
	ServerPort    int    `json:"server_port,omitempty"`
	AllowedOrigin string `json:"allowed_origin,omitempty"`

	// Heuristic tuning. Defaults are empirically chosen; override per site
	// behavior rather than editing code.
	Tuning Tuning `json:"tuning,omitempty"`
}

// Tuning holds the timeout, retry, and confidence constants used by the
// orchestrator, navigator, and classifier. Values are plain ints in JSON
// (seconds or milliseconds as suffixed); duration accessors convert.
type Tuning struct {
	SessionTimeoutSec int     `json:"session_timeout_sec,omitempty"` // Safety timer per job session
	FillTimeoutSec    int     `json:"fill_timeout_sec,omitempty"`    // Bound on the form-fill handoff
	StepRetries       int     `json:"step_retries,omitempty"`        // Attempts per navigator step
	StepBackoffMS     int     `json:"step_backoff_ms,omitempty"`     // Base backoff between step attempts
	QuietPeriodSec    int     `json:"quiet_period_sec,omitempty"`    // User-interaction quiet period before auto-resume
	SettleDelayMS     int     `json:"settle_delay_ms,omitempty"`     // Post-navigation settle debounce
	MinConfidence     float64 `json:"min_confidence,omitempty"`      // Classification acceptance threshold
	UnknownWaitSec    int     `json:"unknown_wait_sec,omitempty"`    // How long an unknown page may stay unknown
	PagesPerMinute    int     `json:"pages_per_minute,omitempty"`    // Pagination pacing per platform
}

// Default returns the configuration used when neither the config file nor
// flags specify a value.
func Default() Config {
	return Config{
		SheetName:             "Applications",
		ProfileDir:            "profile.d",
		Platforms:             []string{"linkedin", "indeed"},
		DailyLimitTotal:       40,
		DailyLimitPerPlatform: 25,
		Headless:              true,
		ServerHost:            "localhost",
		ServerPort:            8090,
		AllowedOrigin:         "*",
		Tuning: Tuning{
			SessionTimeoutSec: 300,
			FillTimeoutSec:    30,
			StepRetries:       3,
			StepBackoffMS:     500,
			QuietPeriodSec:    30,
			SettleDelayMS:     400,
			MinConfidence:     0.5,
			UnknownWaitSec:    20,
			PagesPerMinute:    6,
		},
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values. Required fields
// are not checked here; those are enforced by CLI flag validation after
// merging.
func (c *Config) Validate() error {
	for _, p := range c.Platforms {
		if p != "linkedin" && p != "indeed" {
			return fmt.Errorf("config error: unknown platform %q (supported: linkedin, indeed)", p)
		}
	}

	if c.DailyLimitTotal < 0 {
		return fmt.Errorf("config error: 'daily_limit_total' must be non-negative")
	}
	if c.DailyLimitPerPlatform < 0 {
		return fmt.Errorf("config error: 'daily_limit_per_platform' must be non-negative")
	}
	if c.DailyLimitPerPlatform > 0 && c.DailyLimitTotal > 0 && c.DailyLimitPerPlatform > c.DailyLimitTotal {
		return fmt.Errorf("config error: 'daily_limit_per_platform' cannot exceed 'daily_limit_total'")
	}

	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("config error: 'server_port' out of range: %d", c.ServerPort)
	}

	if c.Tuning.MinConfidence < 0 || c.Tuning.MinConfidence > 1 {
		return fmt.Errorf("config error: 'min_confidence' must be within [0,1]")
	}
	if c.Tuning.StepRetries < 0 {
		return fmt.Errorf("config error: 'step_retries' must be non-negative")
	}
	if c.Tuning.SessionTimeoutSec < 0 || c.Tuning.FillTimeoutSec < 0 ||
		c.Tuning.QuietPeriodSec < 0 || c.Tuning.UnknownWaitSec < 0 {
		return fmt.Errorf("config error: timeout values must be non-negative")
	}

	return nil
}

// MergeWithDefaults returns a new Config with unset fields filled from
// defaults. File values win over defaults; CLI flags are applied on top by
// the command layer.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.SpreadsheetID == "" {
		result.SpreadsheetID = defaults.SpreadsheetID
	}
	if result.SheetName == "" {
		result.SheetName = defaults.SheetName
	}
	if result.ProfileDir == "" {
		result.ProfileDir = defaults.ProfileDir
	}
	if len(result.Platforms) == 0 {
		result.Platforms = defaults.Platforms
	}
	if result.LinkedInURL == "" {
		result.LinkedInURL = defaults.LinkedInURL
	}
	if result.IndeedURL == "" {
		result.IndeedURL = defaults.IndeedURL
	}
	if result.DailyLimitTotal == 0 {
		result.DailyLimitTotal = defaults.DailyLimitTotal
	}
	if result.DailyLimitPerPlatform == 0 {
		result.DailyLimitPerPlatform = defaults.DailyLimitPerPlatform
	}
	if result.ServerHost == "" {
		result.ServerHost = defaults.ServerHost
	}
	if result.ServerPort == 0 {
		result.ServerPort = defaults.ServerPort
	}
	if result.AllowedOrigin == "" {
		result.AllowedOrigin = defaults.AllowedOrigin
	}

	result.Tuning = result.Tuning.mergeWithDefaults(defaults.Tuning)

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

func (t Tuning) mergeWithDefaults(defaults Tuning) Tuning {
	result := t
	if result.SessionTimeoutSec == 0 {
		result.SessionTimeoutSec = defaults.SessionTimeoutSec
	}
	if result.FillTimeoutSec == 0 {
		result.FillTimeoutSec = defaults.FillTimeoutSec
	}
	if result.StepRetries == 0 {
		result.StepRetries = defaults.StepRetries
	}
	if result.StepBackoffMS == 0 {
		result.StepBackoffMS = defaults.StepBackoffMS
	}
	if result.QuietPeriodSec == 0 {
		result.QuietPeriodSec = defaults.QuietPeriodSec
	}
	if result.SettleDelayMS == 0 {
		result.SettleDelayMS = defaults.SettleDelayMS
	}
	if result.MinConfidence == 0 {
		result.MinConfidence = defaults.MinConfidence
	}
	if result.UnknownWaitSec == 0 {
		result.UnknownWaitSec = defaults.UnknownWaitSec
	}
	if result.PagesPerMinute == 0 {
		result.PagesPerMinute = defaults.PagesPerMinute
	}
	return result
}

// Duration accessors. The engine deals in time.Duration; JSON stays integral.

func (t Tuning) SessionTimeout() time.Duration { return time.Duration(t.SessionTimeoutSec) * time.Second }
func (t Tuning) FillTimeout() time.Duration    { return time.Duration(t.FillTimeoutSec) * time.Second }
func (t Tuning) StepBackoff() time.Duration    { return time.Duration(t.StepBackoffMS) * time.Millisecond }
func (t Tuning) QuietPeriod() time.Duration    { return time.Duration(t.QuietPeriodSec) * time.Second }
func (t Tuning) SettleDelay() time.Duration    { return time.Duration(t.SettleDelayMS) * time.Millisecond }
func (t Tuning) UnknownWait() time.Duration    { return time.Duration(t.UnknownWaitSec) * time.Second }
