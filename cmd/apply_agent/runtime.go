package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/apply-engine/internal/agent"
	"github.com/jonathan/apply-engine/internal/browser"
	"github.com/jonathan/apply-engine/internal/config"
	"github.com/jonathan/apply-engine/internal/engine"
	"github.com/jonathan/apply-engine/internal/identity"
	"github.com/jonathan/apply-engine/internal/logging"
	"github.com/jonathan/apply-engine/internal/navigate"
	"github.com/jonathan/apply-engine/internal/profile"
	"github.com/jonathan/apply-engine/internal/sheets"
	"github.com/jonathan/apply-engine/internal/store"
)

// Environment variables consumed by the runtime wiring. Connection URLs and
// spreadsheet ids live in config; secrets stay in the environment.
const (
	envProfileKey  = "APPLY_PROFILE_KEY"         // passphrase for the encrypted profile store
	envSheetsToken = "GOOGLE_SHEETS_TOKEN"       // bearer token for the Sheets API
	envSheetsCreds = "GOOGLE_SHEETS_CREDENTIALS" // service-account credentials file
)

// runtime holds the wired engine stack shared by the run and serve commands.
// Optional collaborators (store, sheets, filler) stay nil when unconfigured;
// the engine degrades to in-memory quotas and no record mirroring.
type runtime struct {
	cfg *config.Config

	store   *store.Store
	records *sheets.AsyncLogger
	browser *browser.Browser
	sup     *agent.Supervisor
	engine  *engine.Engine

	cleanups []func()
}

// buildRuntime wires every configured collaborator and hands back the stack
// ready to Spawn. On error everything already opened is released.
func buildRuntime(ctx context.Context, cfg *config.Config) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	log := logging.Named("wiring")
	deps := engine.Deps{}

	if cfg.DatabaseURL != "" {
		st, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return rt, fmt.Errorf("failed to connect to database: %w", err)
		}
		rt.store = st
		rt.cleanups = append(rt.cleanups, st.Close)
		if err := st.EnsureSchema(ctx); err != nil {
			return rt, fmt.Errorf("failed to ensure schema: %w", err)
		}
		deps.Applications = st
		deps.QuotaStore = st
	} else {
		log.Warnw("no database configured; quotas reset on restart")
	}

	if cfg.SpreadsheetID != "" {
		appender, err := buildAppender(ctx, cfg)
		if err != nil {
			return rt, err
		}
		rt.records = sheets.NewAsyncLogger(appender, 0)
		deps.Records = rt.records
	}

	filler, err := buildFiller(ctx, rt, cfg)
	if err != nil {
		return rt, err
	}

	b, err := browser.Launch(ctx, browser.Options{Headless: cfg.Headless})
	if err != nil {
		return rt, err
	}
	rt.browser = b
	rt.cleanups = append(rt.cleanups, b.Close)

	rt.sup = agent.NewSupervisor(cfg, agent.NewSession(b), filler)
	deps.Commander = rt.sup
	rt.engine = engine.New(cfg, deps)
	rt.sup.Bind(rt.engine)

	return rt, nil
}

// buildAppender authenticates against the Sheets API. A bearer token in the
// environment wins; otherwise a credentials file, falling back to Application
// Default Credentials when neither is set.
func buildAppender(ctx context.Context, cfg *config.Config) (sheets.Appender, error) {
	if token := os.Getenv(envSheetsToken); token != "" {
		provider := identity.NewStaticProvider(token)
		appender, err := sheets.NewAppenderWithTokens(ctx, provider, cfg.SpreadsheetID, cfg.SheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to create sheets appender: %w", err)
		}
		return appender, nil
	}
	appender, err := sheets.NewAppender(ctx, os.Getenv(envSheetsCreds), cfg.SpreadsheetID, cfg.SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets appender: %w", err)
	}
	return appender, nil
}

// buildFiller loads the stored profile into a form filler. A missing
// passphrase or profile is not fatal: the engine still scrapes and
// classifies, and form handoffs fail with fill_unavailable.
func buildFiller(ctx context.Context, rt *runtime, cfg *config.Config) (navigate.Filler, error) {
	log := logging.Named("wiring")

	credential := os.Getenv(envProfileKey)
	if credential == "" {
		log.Warnw("profile passphrase not set; forms will not be filled", "env", envProfileKey)
		return nil, nil
	}

	fs, err := profile.NewFileStore(cfg.ProfileDir)
	if err != nil {
		return nil, err
	}
	raw, err := fs.Load(ctx, profile.SectionProfile, credential)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if raw == nil {
		log.Warnw("no stored profile; forms will not be filled", "dir", cfg.ProfileDir)
		return nil, nil
	}
	doc, err := profile.ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}

	resumePath := ""
	resume, err := fs.Resume(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("failed to load resume: %w", err)
	}
	if resume != nil {
		path, cleanup, err := profile.MaterializeResume(resume)
		if err != nil {
			return nil, fmt.Errorf("failed to materialize resume: %w", err)
		}
		resumePath = path
		rt.cleanups = append(rt.cleanups, cleanup)
	} else {
		log.Warnw("no stored resume; upload fields will be skipped")
	}

	return profile.NewFormFiller(doc, resumePath), nil
}

// Spawn starts the long-running loops under g. The engine itself is not
// started; callers decide whether scraping begins immediately (run) or on
// command (serve).
func (rt *runtime) Spawn(g *errgroup.Group, ctx context.Context) {
	g.Go(func() error { return rt.engine.Run(ctx) })
	g.Go(func() error { return rt.sup.Run(ctx) })
	if rt.records != nil {
		g.Go(func() error {
			rt.records.Run(ctx)
			return nil
		})
	}
}

// Close releases everything buildRuntime opened, in reverse order.
func (rt *runtime) Close() {
	for i := len(rt.cleanups) - 1; i >= 0; i-- {
		rt.cleanups[i]()
	}
	rt.cleanups = nil
}
