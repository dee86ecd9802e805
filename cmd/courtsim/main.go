// Command courtsim runs the royal court: an HTTP API, a terminal game, and
// the chronicle of past reigns.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/royal-intrigue/internal/config"
)

var (
	cfg     *config.Config
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "courtsim",
	Short: "Rule a kingdom advised by a council with secret agendas",
	Long: `courtsim runs a six-crisis reign. Each crisis offers two or three policies;
your advisors counsel you, some of them in bad faith, and you divide the
crown's effort between the options.

Configuration comes from the environment (or a .env file) and, optionally,
a YAML file named by COURT_CONFIG.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		setupLogging(level)
		return nil
	},
}

func setupLogging(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(chronicleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
