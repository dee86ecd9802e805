// Package engine runs a reign: the six-turn state machine that draws
// crises, consults the council, and applies the ruler's allocations.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/royal-intrigue/internal/council"
	"github.com/talgya/royal-intrigue/internal/crisis"
	"github.com/talgya/royal-intrigue/internal/entropy"
	"github.com/talgya/royal-intrigue/internal/kingdom"
	"github.com/talgya/royal-intrigue/internal/llm"
)

// MaxTurns is the number of crises in a reign.
const MaxTurns = 6

// Phase is a state of the reign.
type Phase string

const (
	PhaseWelcome            Phase = "welcome"
	PhaseCrisisActive       Phase = "crisis_active"
	PhaseAwaitingAllocation Phase = "awaiting_allocation"
	PhaseResolved           Phase = "resolved"
	PhaseGameOver           Phase = "game_over"
)

// Options wires a session to its collaborators.
type Options struct {
	Oracle        llm.Oracle
	Rand          entropy.Source
	Catalog       *crisis.Catalog
	Council       council.Config
	StartingStats kingdom.Stats
}

func (o *Options) defaults() {
	if o.Rand == nil {
		o.Rand = entropy.Crypto{}
	}
	if o.Catalog == nil {
		o.Catalog = crisis.Default()
	}
	if o.Oracle == nil {
		o.Oracle = llm.Unavailable{Backend: "none"}
	}
	if o.StartingStats == (kingdom.Stats{}) {
		o.StartingStats = kingdom.DefaultStartingStats
	}
}

// Resolution is the outcome of a submitted allocation.
type Resolution struct {
	Turn       int           `json:"turn"`
	Allocation []int         `json:"allocation"`
	Deltas     kingdom.Stats `json:"deltas"` // rounded, before clamping
	Before     kingdom.Stats `json:"before"`
	After      kingdom.Stats `json:"after"`
	GameOver   bool          `json:"game_over"`
}

// Session is one reign. All player actions go through it; they are
// serialized so the kingdom state is never mutated during a consultation.
type Session struct {
	// OnGameOver is called once, with the lock held, when the reign ends.
	OnGameOver func(*Chronicle)

	mu   sync.Mutex
	opts Options

	id        string
	startedAt time.Time
	endedAt   time.Time

	state   *kingdom.KingdomState
	council *council.Council
	thread  *council.Thread

	phase      Phase
	crisis     *crisis.Crisis
	effects    []kingdom.Stats
	advice     []council.Response
	lastDeltas *kingdom.Stats

	turns  []TurnRecord
	events []Event
}

// NewSession creates a reign in the welcome phase.
func NewSession(opts Options) *Session {
	opts.defaults()
	s := &Session{opts: opts}
	s.init()
	return s
}

func (s *Session) init() {
	s.id = uuid.NewString()
	s.startedAt = time.Now().UTC()
	s.endedAt = time.Time{}
	s.state = kingdom.NewKingdomState(s.opts.StartingStats)
	s.council = council.New(s.opts.Oracle, s.opts.Rand, s.opts.Council)
	s.thread = council.NewThread()
	s.phase = PhaseWelcome
	s.crisis = nil
	s.effects = nil
	s.advice = nil
	s.lastDeltas = nil
	s.turns = nil
	s.events = nil
}

// ID returns the reign's identifier. It changes on Reset.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// BeginReign draws the first crisis.
func (s *Session) BeginReign() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseWelcome {
		return &PhaseError{Action: "begin reign", Phase: s.phase}
	}
	slog.Info("reign begins", "reign", s.id)
	return s.drawCrisis()
}

// ConsultAdvisors asks the whole council about the current crisis and
// returns the advice that was spoken, in seat order. The reign moves on to
// allocation once at least one advisor has spoken.
func (s *Session) ConsultAdvisors(ctx context.Context) ([]council.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseCrisisActive {
		return nil, &PhaseError{Action: "consult advisors", Phase: s.phase}
	}

	responses := s.council.Consult(ctx, s.briefing(), s.thread)
	spoken := council.Spoken(responses)
	s.advice = append(s.advice, spoken...)

	if len(s.advice) > 0 {
		s.phase = PhaseAwaitingAllocation
	}
	slog.Info("council consulted", "reign", s.id, "turn", s.state.Turn, "spoken", len(spoken), "phase", s.phase)
	return spoken, nil
}

// AskAdvisor sends the ruler's message to one advisor.
func (s *Session) AskAdvisor(ctx context.Context, name, message string) (council.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireCrisis("ask advisor", message); err != nil {
		return council.Response{}, err
	}
	resp, err := s.council.AskOne(ctx, name, strings.TrimSpace(message), s.briefing(), s.thread)
	if err != nil {
		return council.Response{}, err
	}
	if !resp.Silent {
		s.advice = append(s.advice, resp)
	}
	return resp, nil
}

// AskAll sends the ruler's message to every advisor.
func (s *Session) AskAll(ctx context.Context, message string) ([]council.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireCrisis("ask all", message); err != nil {
		return nil, err
	}
	spoken := council.Spoken(s.council.AskAll(ctx, strings.TrimSpace(message), s.briefing(), s.thread))
	s.advice = append(s.advice, spoken...)
	return spoken, nil
}

// SubmitAllocation applies the ruler's percentages to the current crisis.
// Percentages must match the option count and sum to exactly 100;
// otherwise a *kingdom.ValidationError is returned and nothing changes.
func (s *Session) SubmitAllocation(pcts []int) (*Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseAwaitingAllocation {
		return nil, &PhaseError{Action: "submit allocation", Phase: s.phase}
	}
	alloc, err := kingdom.FromPercentages(pcts, len(s.crisis.Options))
	if err != nil {
		return nil, err
	}

	before := s.state.Stats
	deltas := kingdom.Apply(alloc, s.state, s.effects)
	s.council.UpdateInfluence()

	res := &Resolution{
		Turn:       s.state.Turn,
		Allocation: append([]int(nil), pcts...),
		Deltas:     deltas,
		Before:     before,
		After:      s.state.Stats,
	}
	s.turns = append(s.turns, TurnRecord{
		Turn:       s.state.Turn,
		Crisis:     *s.crisis,
		Effects:    s.effects,
		Advice:     s.advice,
		Allocation: res.Allocation,
		Deltas:     deltas,
		Before:     before,
		After:      res.After,
	})
	s.emit("policy", fmt.Sprintf("Policy executed for crisis %d: %s", s.state.Turn, formatAllocation(pcts)))
	slog.Info("policy executed", "reign", s.id, "turn", s.state.Turn, "allocation", pcts, "stats", s.state.Stats)

	s.lastDeltas = &deltas
	s.crisis = nil
	s.effects = nil
	s.advice = nil
	s.phase = PhaseResolved

	if s.state.Turn >= MaxTurns {
		s.endReign()
		res.GameOver = true
	}
	return res, nil
}

// StartNextCrisis draws the next crisis after a resolution.
func (s *Session) StartNextCrisis() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseGameOver {
		return ErrGameOver
	}
	if s.phase != PhaseResolved {
		return &PhaseError{Action: "start next crisis", Phase: s.phase}
	}
	return s.drawCrisis()
}

// RevealGoals discloses the council's secret goals. Only available once
// the reign is over; repeated calls return the same answer.
func (s *Session) RevealGoals() ([]council.Reveal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseGameOver {
		return nil, &PhaseError{Action: "reveal goals", Phase: s.phase}
	}
	return s.council.RevealGoals(), nil
}

// Reset discards the reign and starts a fresh one in the welcome phase.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.id
	s.init()
	slog.Info("reign reset", "old_reign", old, "reign", s.id)
}

func (s *Session) drawCrisis() error {
	if s.state.Turn >= MaxTurns {
		s.endReign()
		return ErrGameOver
	}
	c := s.opts.Catalog.Draw(s.opts.Rand)
	s.state.Turn++
	s.crisis = &c
	s.effects = kingdom.GenerateEffects(s.opts.Rand, len(c.Options))
	s.advice = nil
	s.phase = PhaseCrisisActive

	s.emit("crisis", fmt.Sprintf("Crisis %d: %s", s.state.Turn, c.Description))
	slog.Info("crisis drawn", "reign", s.id, "turn", s.state.Turn, "crisis", c.Description)
	return nil
}

func (s *Session) endReign() {
	if s.phase == PhaseGameOver {
		return
	}
	s.phase = PhaseGameOver
	s.endedAt = time.Now().UTC()
	s.emit("reign", "The reign has ended.")
	slog.Info("reign over", "reign", s.id, "turns", s.state.Turn, "stats", s.state.Stats)

	if s.OnGameOver != nil {
		s.OnGameOver(s.chronicle())
	}
}

func (s *Session) requireCrisis(action, message string) error {
	if s.phase != PhaseCrisisActive && s.phase != PhaseAwaitingAllocation {
		return &PhaseError{Action: action, Phase: s.phase}
	}
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

func (s *Session) briefing() council.Briefing {
	return council.Briefing{
		Crisis:  s.crisis.Description,
		Options: append([]string(nil), s.crisis.Options...),
		Effects: append([]kingdom.Stats(nil), s.effects...),
		State:   *s.state,
	}
}

func formatAllocation(pcts []int) string {
	parts := make([]string, len(pcts))
	for i, p := range pcts {
		parts[i] = fmt.Sprintf("%d%% to %s", p, crisis.OptionLabel(i))
	}
	return strings.Join(parts, ", ")
}
