package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/royal-intrigue/internal/council"
	"github.com/talgya/royal-intrigue/internal/engine"
	"github.com/talgya/royal-intrigue/internal/kingdom"
	"github.com/talgya/royal-intrigue/internal/llm"
	"github.com/talgya/royal-intrigue/internal/persistence"
)

// playCmd runs a reign in the terminal
var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a reign in the terminal",
	Long: `Play a reign interactively. Commands:

  consult                  hear the council on the current crisis
  ask <advisor>: <text>    question one advisor ("ask all: ..." for everyone)
  allocate <pct> <pct>...  divide effort between the options (must total 100)
  next                     move on to the next crisis
  status                   show the kingdom and the crisis
  reveal                   show the advisors' secret goals (after the reign)
  reset                    abandon this reign and start over
  quit                     leave the throne`,
	RunE: runPlay,
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	oracle, closeOracle, err := cfg.BuildOracle(ctx)
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	defer closeOracle()
	if !cfg.OracleConfigured() {
		slog.Warn("oracle credentials not set; advisors will report errors", "provider", cfg.OracleProvider)
	}

	db, err := cfg.OpenArchive()
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if db != nil {
		defer db.Close()
	}

	s := engine.NewSession(cfg.SessionOptions(oracle, cfg.NewSource(0)))
	s.OnGameOver = func(c *engine.Chronicle) {
		if db == nil {
			return
		}
		if err := db.SaveReign(c); err != nil {
			slog.Error("failed to archive reign", "reign", c.ReignID, "error", err)
		}
	}

	t := &terminal{session: s, oracle: oracle, db: db, out: cmd.OutOrStdout()}
	return t.run(ctx, cmd.InOrStdin())
}

type terminal struct {
	session *engine.Session
	oracle  llm.Oracle
	db      *persistence.DB
	out     io.Writer
}

func (t *terminal) printf(format string, a ...any) {
	fmt.Fprintf(t.out, format, a...)
}

func (t *terminal) run(ctx context.Context, in io.Reader) error {
	t.printf("\nLong live the monarch. Your council awaits.\n")
	if err := t.session.BeginReign(); err != nil {
		return err
	}
	t.status()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		t.printf("> ")
		var line string
		select {
		case <-ctx.Done():
			t.printf("\nThe court is dismissed.\n")
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if quit := t.dispatch(ctx, line); quit {
			t.printf("The court is dismissed.\n")
			return nil
		}
	}
}

func (t *terminal) dispatch(ctx context.Context, line string) bool {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch strings.ToLower(verb) {
	case "quit", "exit":
		return true
	case "status":
		t.status()
	case "consult":
		err = t.consult(ctx)
	case "ask":
		err = t.ask(ctx, rest)
	case "allocate":
		err = t.allocate(ctx, rest)
	case "next":
		if err = t.session.StartNextCrisis(); err == nil {
			t.status()
		}
	case "reveal":
		err = t.reveal()
	case "reset":
		t.session.Reset()
		if err = t.session.BeginReign(); err == nil {
			t.printf("A new reign begins.\n")
			t.status()
		}
	default:
		t.printf("Unknown command %q. Try consult, ask, allocate, next, status, reveal, reset or quit.\n", verb)
	}

	if err != nil {
		t.printf("%s\n", describeError(err))
	}
	return false
}

func describeError(err error) string {
	var verr *kingdom.ValidationError
	switch {
	case errors.As(err, &verr):
		return "Invalid allocation: " + verr.Error()
	case errors.Is(err, engine.ErrGameOver):
		return "Your reign is over. Type reveal to see what your council wanted, or reset."
	case errors.Is(err, engine.ErrInvalidPhase):
		return "Not now: " + err.Error()
	default:
		return err.Error()
	}
}

func (t *terminal) status() {
	v := t.session.Snapshot()
	st := v.Stats
	t.printf("\nTreasury %d  Stability %d  Popularity %d  Army %d  (%s)\n",
		st.Treasury, st.Stability, st.Popularity, st.Army, v.Health)
	if v.LastDeltas != nil {
		t.printf("Last turn: %s\n", v.LastDeltas.FormatEffects())
	}
	if v.Crisis != nil && v.Phase != engine.PhaseResolved && v.Phase != engine.PhaseGameOver {
		t.printf("\nThe %s crisis of %d: %s\n", humanize.Ordinal(v.Turn), v.MaxTurns, v.Crisis.Description)
		for _, o := range v.Crisis.Options {
			t.printf("  %s. %s\n     %s\n", o.Label, o.Text, o.Effects.FormatEffects())
		}
	}
	t.printf("Phase: %s\n\n", v.Phase)
}

func (t *terminal) printResponses(responses []council.Response) {
	if len(responses) == 0 {
		t.printf("The council says nothing.\n")
		return
	}
	for _, r := range responses {
		t.printf("%s: %s\n", r.Advisor, r.Text)
	}
}

func (t *terminal) consult(ctx context.Context) error {
	t.printf("The council deliberates...\n")
	advice, err := t.session.ConsultAdvisors(ctx)
	if err != nil {
		return err
	}
	t.printf("\n")
	t.printResponses(advice)
	return nil
}

func (t *terminal) ask(ctx context.Context, rest string) error {
	name, message, ok := strings.Cut(rest, ":")
	if !ok {
		return errors.New(`usage: ask <advisor>: <message>`)
	}
	name, message = strings.TrimSpace(name), strings.TrimSpace(message)

	if strings.EqualFold(name, "all") {
		responses, err := t.session.AskAll(ctx, message)
		if err != nil {
			return err
		}
		t.printResponses(responses)
		return nil
	}
	r, err := t.session.AskAdvisor(ctx, name, message)
	if err != nil {
		return err
	}
	t.printResponses(council.Spoken([]council.Response{r}))
	return nil
}

// parseAllocation reads space- or comma-separated percentages. An empty
// argument splits evenly, giving any remainder to the first option.
func parseAllocation(args string, options int) ([]int, error) {
	fields := strings.FieldsFunc(args, func(r rune) bool {
		return r == ' ' || r == ',' || r == '%'
	})
	if len(fields) == 0 {
		pcts := kingdom.EqualSplit(options)
		if len(pcts) > 0 {
			sum := 0
			for _, p := range pcts {
				sum += p
			}
			pcts[0] += 100 - sum
		}
		return pcts, nil
	}
	pcts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%q is not a whole percentage", f)
		}
		pcts[i] = n
	}
	return pcts, nil
}

func (t *terminal) allocate(ctx context.Context, rest string) error {
	v := t.session.Snapshot()
	options := 0
	if v.Crisis != nil {
		options = len(v.Crisis.Options)
	}
	pcts, err := parseAllocation(rest, options)
	if err != nil {
		return err
	}
	res, err := t.session.SubmitAllocation(pcts)
	if err != nil {
		return err
	}
	t.printf("Decree issued. %s\n", res.Deltas.FormatEffects())
	if res.GameOver {
		t.printf("\nYour reign is complete after %d crises.\n", res.Turn)
		t.status()
		if err := t.reveal(); err != nil {
			return err
		}
		if t.oracle != nil {
			e := llm.WriteEpitaph(ctx, t.oracle, t.session.Chronicle().EpitaphData())
			t.printf("\nFrom the royal annals:\n%s\n", e.Content)
		}
		if t.db != nil {
			t.printf("The chronicle has been written.\n")
		}
		return nil
	}
	t.printf("Type next for the %s crisis.\n", humanize.Ordinal(res.Turn+1))
	return nil
}

func (t *terminal) reveal() error {
	reveals, err := t.session.RevealGoals()
	if err != nil {
		return err
	}
	t.printf("\nYour council, unmasked:\n")
	for _, r := range reveals {
		t.printf("  %s (%s, influence %d): %s\n", r.Name, r.Persona, r.Influence, r.SecretGoal)
	}
	return nil
}
