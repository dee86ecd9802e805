package regent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/talgya/royal-intrigue/internal/council"
	"github.com/talgya/royal-intrigue/internal/kingdom"
	"github.com/talgya/royal-intrigue/internal/llm"
)

// maxConsults bounds how often the regent re-consults a silent council.
const maxConsults = 3

// Regent plays whole reigns: observe, decide, act, once per crisis.
type Regent struct {
	Observer *Observer
	Actor    *Actor
	Oracle   llm.Oracle
	Memory   *ReignMemory
}

// Summary is the outcome of one played reign.
type Summary struct {
	ReignID   string           `json:"reign_id"`
	Final     kingdom.Stats    `json:"final"`
	Turns     int              `json:"turns"`
	Fallbacks int              `json:"fallbacks"`
	Reveals   []council.Reveal `json:"reveals"`
}

// PlayReign creates a reign on the server and plays it to the end.
func (r *Regent) PlayReign(ctx context.Context) (*Summary, error) {
	if r.Memory == nil {
		r.Memory = &ReignMemory{}
	}

	view, err := r.Actor.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("create reign: %w", err)
	}
	id := view.ReignID
	slog.Info("regent takes the throne", "reign", id)

	if err := r.Actor.Begin(ctx, id); err != nil {
		return nil, fmt.Errorf("begin reign: %w", err)
	}

	summary := &Summary{ReignID: id}
	for {
		res, fallback, err := r.playTurn(ctx, id)
		if err != nil {
			return nil, err
		}
		summary.Turns = res.Turn
		summary.Final = res.After
		if fallback {
			summary.Fallbacks++
		}
		if res.GameOver {
			break
		}
		if err := r.Actor.Next(ctx, id); err != nil {
			return nil, fmt.Errorf("next crisis: %w", err)
		}
	}

	summary.Reveals, err = r.Observer.Reveal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reveal goals: %w", err)
	}
	slog.Info("regent reign complete", "reign", id, "turns", summary.Turns, "final", summary.Final, "fallbacks", summary.Fallbacks)
	return summary, nil
}

type turnResult struct {
	Turn     int
	After    kingdom.Stats
	GameOver bool
}

// playTurn executes one observe → decide → act cycle.
func (r *Regent) playTurn(ctx context.Context, id string) (*turnResult, bool, error) {
	spoken := 0
	for i := 0; i < maxConsults && spoken == 0; i++ {
		advice, err := r.Actor.Consult(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("consult: %w", err)
		}
		spoken = len(advice)
	}
	if spoken == 0 {
		return nil, false, fmt.Errorf("council stayed silent after %d consultations", maxConsults)
	}

	// Observe.
	view, err := r.Observer.Observe(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("observe: %w", err)
	}
	health := Triage(view)
	slog.Info("observation complete",
		"turn", view.Turn,
		"weakest", health.Weakest.String(),
		"level", health.CrisisLevel,
		"advice", len(view.Advice),
	)

	// Decide.
	decision, err := Decide(ctx, r.Oracle, view, r.Memory)
	if err != nil {
		slog.Warn("decision failed, using triage", "error", err)
		decision = FallbackDecision(health, len(view.Crisis.Options))
	}
	slog.Info("decision made", "allocation", decision.Allocation, "rationale", decision.Rationale)

	// Act.
	res, err := r.Actor.Allocate(ctx, id, decision.Allocation)
	if err != nil {
		return nil, false, fmt.Errorf("allocate: %w", err)
	}
	r.Memory.Record(TurnRecord{
		Reign:       id,
		Turn:        res.Turn,
		Crisis:      view.Crisis.Description,
		Allocation:  decision.Allocation,
		Deltas:      res.Deltas,
		CrisisLevel: health.CrisisLevel,
		Fallback:    decision.Fallback,
		Rationale:   decision.Rationale,
	})
	return &turnResult{Turn: res.Turn, After: res.After, GameOver: res.GameOver}, decision.Fallback, nil
}
