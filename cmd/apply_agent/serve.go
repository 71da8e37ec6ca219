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

	"github.com/jonathan/apply-engine/internal/config"
	"github.com/jonathan/apply-engine/internal/logging"
	"github.com/jonathan/apply-engine/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine behind the HTTP control API",
	Long: `Launches Chrome and the engine but does not start scraping; a status UI (or
curl) drives it through the control API: POST /api/v1/engine/start and /stop,
GET /api/v1/engine/state, plus a WebSocket/SSE state-event feed.

Requires JWT_SECRET and APPLY_API_PASSWORD_HASH in the environment; mint a
hash with the hash-password command.`,
	RunE: runServeCmd,
}

var (
	serveHost string
	servePort int
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Interface to listen on")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cmd.Flags().Changed("host") {
		cfg.ServerHost = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.ServerPort = servePort
	}

	if err := cfg.Validate(); err != nil {
		return err
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

	srv, err := server.New(server.Config{
		Host:          cfg.ServerHost,
		Port:          cfg.ServerPort,
		AllowedOrigin: cfg.AllowedOrigin,
	}, rt.engine)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	rt.Spawn(g, gctx)
	g.Go(func() error { return srv.Run(gctx) })

	logging.L().Infow("control API listening", "host", cfg.ServerHost, "port", cfg.ServerPort)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Mint an APPLY_API_PASSWORD_HASH value for the control API",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		auth := &config.APIAuth{
			Pepper:     os.Getenv("PASSWORD_PEPPER"),
			BcryptCost: 12,
		}
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
