package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/royal-intrigue/internal/api"
	"github.com/talgya/royal-intrigue/internal/engine"
)

var servePort int

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reigns over HTTP",
	Long: `Serve the reign API. Every POST /api/v1/reigns starts a new reign; finished
reigns are archived when DB_DIALECT is not "none".`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default COURT_PORT or 8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Oracle ────────────────────────────────────────────────────────
	oracle, closeOracle, err := cfg.BuildOracle(ctx)
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	defer closeOracle()
	if cfg.OracleConfigured() {
		slog.Info("oracle enabled", "provider", cfg.OracleProvider)
	} else {
		slog.Warn("oracle credentials not set; advisors will report errors", "provider", cfg.OracleProvider)
	}

	// ── Archive ───────────────────────────────────────────────────────
	db, err := cfg.OpenArchive()
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if db != nil {
		defer db.Close()
	} else {
		slog.Warn("reign archive disabled")
	}

	if cfg.AdminKey == "" {
		slog.Warn("COURT_ADMIN_KEY not set; save endpoint disabled")
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	var sessions atomic.Int64
	factory := func() *engine.Session {
		n := int(sessions.Add(1))
		return engine.NewSession(cfg.SessionOptions(oracle, cfg.NewSource(n)))
	}

	port := cfg.Port
	if servePort != 0 {
		port = servePort
	}
	apiServer := &api.Server{
		Reigns:   api.NewRegistry(factory, db, 0),
		DB:       db,
		Port:     port,
		AdminKey: cfg.AdminKey,
		Oracle:   cfg.OracleProvider,
	}
	srv := apiServer.Start()
	defer apiServer.Close()

	fmt.Printf("\nThe court is in session.\n")
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", port)
	fmt.Println("Ctrl+C to adjourn.")

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
	fmt.Println("Court adjourned.")
	return nil
}
