package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/royal-intrigue/internal/persistence"
)

var (
	chronicleLimit int
	chronicleTurns bool
)

// chronicleCmd lists archived reigns
var chronicleCmd = &cobra.Command{
	Use:   "chronicle [reign-id]",
	Short: "Read the chronicle of past reigns",
	Long: `List the most recent archived reigns, or show one reign in detail
when an ID is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChronicle,
}

func init() {
	chronicleCmd.Flags().IntVarP(&chronicleLimit, "limit", "n", 10, "Number of reigns to list")
	chronicleCmd.Flags().BoolVar(&chronicleTurns, "turns", false, "Show each turn of a single reign")
}

func runChronicle(cmd *cobra.Command, args []string) error {
	db, err := cfg.OpenArchive()
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if db == nil {
		return errors.New("the reign archive is disabled (DB_DIALECT=none)")
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		return showReign(out, db, args[0], chronicleTurns)
	}
	return listReigns(out, db, chronicleLimit)
}

func listReigns(out io.Writer, db *persistence.DB, limit int) error {
	reigns, err := db.ListReigns(limit)
	if err != nil {
		return fmt.Errorf("list reigns: %w", err)
	}
	total, err := db.CountReigns()
	if err != nil {
		return fmt.Errorf("count reigns: %w", err)
	}
	if len(reigns) == 0 {
		fmt.Fprintln(out, "No reigns have been chronicled yet.")
		return nil
	}

	fmt.Fprintf(out, "%s reigns chronicled.\n\n", humanize.Comma(int64(total)))
	for _, r := range reigns {
		when := "still reigning"
		if !r.EndedAt.IsZero() {
			when = "ended " + humanize.Time(r.EndedAt)
		}
		f := r.Final
		fmt.Fprintf(out, "%s  %d turns, %s\n    Treasury %d  Stability %d  Popularity %d  Army %d\n",
			r.ID, r.Turns, when, f.Treasury, f.Stability, f.Popularity, f.Army)
	}
	return nil
}

func showReign(out io.Writer, db *persistence.DB, id string, turns bool) error {
	r, err := db.GetReign(id)
	if err != nil {
		return fmt.Errorf("reign %s: %w", id, err)
	}
	fmt.Fprintf(out, "Reign %s\nBegan %s", r.ID, humanize.Time(r.StartedAt))
	if !r.EndedAt.IsZero() {
		fmt.Fprintf(out, ", ended %s", humanize.Time(r.EndedAt))
	}
	fmt.Fprintf(out, " after %d turns.\n", r.Turns)
	fmt.Fprintf(out, "Final: %s\n", r.Final.FormatEffects())

	if turns {
		summaries, err := db.LoadTurns(id)
		if err != nil {
			return fmt.Errorf("load turns: %w", err)
		}
		for _, t := range summaries {
			fmt.Fprintf(out, "\n%s crisis: %s\n  allocation %v\n  change     %s\n",
				humanize.Ordinal(t.Turn), t.Crisis, t.Allocation, t.Deltas.FormatEffects())
		}
	}

	if len(r.Reveals) > 0 {
		fmt.Fprintln(out, "\nThe council:")
		for _, rv := range r.Reveals {
			fmt.Fprintf(out, "  %s (%s, influence %d): %s\n", rv.Name, rv.Persona, rv.Influence, rv.SecretGoal)
		}
	}
	return nil
}
