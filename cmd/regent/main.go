// Command regent plays reigns against a running court server. Each crisis
// it consults the council, weighs the advice with an oracle, and decrees
// an allocation, falling back to its own triage when the oracle fails.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/talgya/royal-intrigue/internal/config"
	"github.com/talgya/royal-intrigue/internal/regent"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if !cfg.OracleConfigured() {
		slog.Error("oracle credentials are required", "provider", cfg.OracleProvider)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	oracle, closeOracle, err := cfg.BuildOracle(ctx)
	if err != nil {
		slog.Error("oracle setup failed", "error", err)
		os.Exit(1)
	}
	defer closeOracle()

	slog.Info("regent starting",
		"api_url", cfg.APIURL,
		"reigns", cfg.RegentReigns,
		"oracle", cfg.OracleProvider,
	)

	observer := regent.NewObserver(cfg.APIURL)
	slog.Info("waiting for court API...")
	if err := observer.WaitForAPI(ctx); err != nil {
		slog.Error("court API unavailable", "error", err)
		os.Exit(1)
	}

	r := &regent.Regent{
		Observer: observer,
		Actor:    regent.NewActor(cfg.APIURL),
		Oracle:   oracle,
		Memory:   regent.LoadMemory(cfg.RegentMemory),
	}

	played := 0
	for played < cfg.RegentReigns {
		summary, err := r.PlayReign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("received signal, shutting down")
				break
			}
			slog.Error("reign failed", "error", err)
			break
		}
		played++
		fmt.Printf("Reign %s ended after %d crises: %s (%d fallbacks)\n",
			summary.ReignID, summary.Turns, summary.Final.FormatEffects(), summary.Fallbacks)
		for _, rv := range summary.Reveals {
			fmt.Printf("  %s secretly sought: %s\n", rv.Name, rv.SecretGoal)
		}
	}

	if err := r.Memory.Save(cfg.RegentMemory); err != nil {
		slog.Error("failed to save memory", "path", cfg.RegentMemory, "error", err)
	}
	fmt.Printf("Regent stepped down after %d reigns.\n", played)
}
