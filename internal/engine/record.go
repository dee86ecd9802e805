package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/talgya/royal-intrigue/internal/council"
	"github.com/talgya/royal-intrigue/internal/crisis"
	"github.com/talgya/royal-intrigue/internal/kingdom"
	"github.com/talgya/royal-intrigue/internal/llm"
)

// Event is a notable moment in the reign.
type Event struct {
	Turn        int       `json:"turn"`
	At          time.Time `json:"at"`
	Description string    `json:"description"`
	Category    string    `json:"category"` // "crisis", "policy", "reign"
}

// maxEvents bounds the in-memory event log.
const maxEvents = 100

func (s *Session) emit(category, description string) {
	s.events = append(s.events, Event{
		Turn:        s.state.Turn,
		At:          time.Now().UTC(),
		Description: description,
		Category:    category,
	})
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
}

// TurnRecord captures one resolved crisis.
type TurnRecord struct {
	Turn       int                `json:"turn"`
	Crisis     crisis.Crisis      `json:"crisis"`
	Effects    []kingdom.Stats    `json:"effects"`
	Advice     []council.Response `json:"advice"`
	Allocation []int              `json:"allocation"`
	Deltas     kingdom.Stats      `json:"deltas"`
	Before     kingdom.Stats      `json:"before"`
	After      kingdom.Stats      `json:"after"`
}

// Chronicle is the complete record of a finished (or ongoing) reign.
type Chronicle struct {
	ReignID   string               `json:"reign_id"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   time.Time            `json:"ended_at"`
	Final     kingdom.KingdomState `json:"final"`
	Turns     []TurnRecord         `json:"turns"`
	Reveals   []council.Reveal     `json:"reveals,omitempty"`
	Thread    []council.Entry      `json:"thread"`
}

// Chronicle returns the reign's record so far. Secret goals are only
// included once the reign is over.
func (s *Session) Chronicle() *Chronicle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chronicle()
}

func (s *Session) chronicle() *Chronicle {
	c := &Chronicle{
		ReignID:   s.id,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
		Final:     *s.state,
		Turns:     append([]TurnRecord(nil), s.turns...),
		Thread:    s.thread.Entries(),
	}
	if s.phase == PhaseGameOver {
		c.Reveals = s.council.RevealGoals()
	}
	return c
}

// EpitaphData summarises the chronicle for the court chronicler.
func (c *Chronicle) EpitaphData() *llm.EpitaphData {
	data := &llm.EpitaphData{Turns: len(c.Turns), Start: c.Final.Stats, Final: c.Final.Stats}
	if len(c.Turns) > 0 {
		data.Start = c.Turns[0].Before
	}
	for _, t := range c.Turns {
		parts := make([]string, 0, len(t.Allocation))
		for i, p := range t.Allocation {
			if i < len(t.Crisis.Options) {
				parts = append(parts, fmt.Sprintf("%d%% to %q", p, t.Crisis.Options[i]))
			}
		}
		data.Decrees = append(data.Decrees, fmt.Sprintf("Crisis %d, %s: %s", t.Turn, t.Crisis.Description, strings.Join(parts, ", ")))
	}
	for _, r := range c.Reveals {
		data.Council = append(data.Council, fmt.Sprintf("%s the %s (influence %d) secretly sought: %s", r.Name, r.Persona, r.Influence, r.SecretGoal))
	}
	return data
}

// OptionView is a policy option with its effect vector.
type OptionView struct {
	Label   string        `json:"label"`
	Text    string        `json:"text"`
	Effects kingdom.Stats `json:"effects"`
}

// CrisisView is the active crisis as shown to the ruler.
type CrisisView struct {
	Description string       `json:"description"`
	Options     []OptionView `json:"options"`
}

// View is a read-only snapshot of the reign for presentation.
type View struct {
	ReignID    string                `json:"reign_id"`
	Phase      Phase                 `json:"phase"`
	Turn       int                   `json:"turn"`
	MaxTurns   int                   `json:"max_turns"`
	Stats      kingdom.Stats         `json:"stats"`
	Health     kingdom.Health        `json:"health"`
	Crisis     *CrisisView           `json:"crisis,omitempty"`
	Advice     []council.Response    `json:"advice"`
	LastDeltas *kingdom.Stats        `json:"last_deltas,omitempty"`
	Advisors   []council.AdvisorInfo `json:"advisors"`
	Thread     []council.Entry       `json:"thread"`
	Events     []Event               `json:"events"`
}

// Snapshot returns the current view. The thread is truncated for display.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ReignID:  s.id,
		Phase:    s.phase,
		Turn:     s.state.Turn,
		MaxTurns: MaxTurns,
		Stats:    s.state.Stats,
		Health:   kingdom.HealthOf(s.state.Average()),
		Advice:   append([]council.Response{}, s.advice...),
		Advisors: s.council.Advisors(),
		Thread:   s.thread.Tail(council.DisplayTail),
		Events:   append([]Event{}, s.events...),
	}
	if s.lastDeltas != nil {
		d := *s.lastDeltas
		v.LastDeltas = &d
	}
	if s.crisis != nil {
		cv := &CrisisView{Description: s.crisis.Description}
		for i, opt := range s.crisis.Options {
			ov := OptionView{Label: crisis.OptionLabel(i), Text: opt}
			if i < len(s.effects) {
				ov.Effects = s.effects[i]
			}
			cv.Options = append(cv.Options, ov)
		}
		v.Crisis = cv
	}
	return v
}
