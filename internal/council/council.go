package council

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/royal-intrigue/internal/kingdom"
	"github.com/talgya/royal-intrigue/internal/llm"
)

// Influence gained per resolved turn is drawn from [MinInfluenceGain, MaxInfluenceGain].
const (
	MinInfluenceGain = 1
	MaxInfluenceGain = 5
)

// DefaultSize is the number of advisors seated on a new council.
const DefaultSize = 3

// Rand is the randomness the council needs.
type Rand interface {
	IntN(n int) int
}

// Config tunes how the council talks to the oracle.
type Config struct {
	Size        int           // advisors seated; DefaultSize when zero
	Temperature float32       // llm.DefaultTemperature when zero
	Timeout     time.Duration // per advisor call; none when zero
	Concurrency int           // parallel oracle calls; one at a time when <= 1
}

// Briefing is the crisis as presented to advisors.
type Briefing struct {
	Crisis  string
	Options []string
	Effects []kingdom.Stats
	State   kingdom.KingdomState
}

// Response is one advisor's reply to a consultation.
type Response struct {
	Advisor string `json:"advisor"`
	Text    string `json:"text"`
	Silent  bool   `json:"silent,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
}

// Council is a fixed roster of advisors created once per reign.
type Council struct {
	advisors []*Advisor
	oracle   llm.Oracle
	rng      Rand
	cfg      Config
}

// New seats a council. Names run "Advisor 1".."Advisor N"; personas and
// secret goals are assigned by seat, cycling through their lists.
func New(oracle llm.Oracle, rng Rand, cfg Config) *Council {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = llm.DefaultTemperature
	}
	advisors := make([]*Advisor, cfg.Size)
	for i := range advisors {
		advisors[i] = NewAdvisor(
			fmt.Sprintf("Advisor %d", i+1),
			Personas[i%len(Personas)],
			SecretGoals[i%len(SecretGoals)],
		)
	}
	return &Council{advisors: advisors, oracle: oracle, rng: rng, cfg: cfg}
}

// Advisors returns the public view of the roster, in seat order.
func (c *Council) Advisors() []AdvisorInfo {
	out := make([]AdvisorInfo, len(c.advisors))
	for i, a := range c.advisors {
		out[i] = a.info()
	}
	return out
}

// Find resolves an advisor name case-insensitively.
func (c *Council) Find(name string) (*Advisor, error) {
	key := strings.TrimSpace(name)
	for _, a := range c.advisors {
		if strings.EqualFold(a.Name, key) {
			return a, nil
		}
	}
	return nil, &UnknownAdvisorError{Name: name, Suggestion: suggest(name, c.advisors)}
}

// Consult asks every advisor for advice on the briefing. Responses come
// back in seat order whatever order the oracle answers in; non-silent ones
// are appended to the thread in that same order.
func (c *Council) Consult(ctx context.Context, brief Briefing, thread *Thread) []Response {
	responses := c.gather(ctx, c.advisors, brief, thread.Lines())
	commit(thread, responses)
	return responses
}

// AskOne posts the ruler's message to one advisor and records the reply.
func (c *Council) AskOne(ctx context.Context, name, message string, brief Briefing, thread *Thread) (Response, error) {
	a, err := c.Find(name)
	if err != nil {
		return Response{}, err
	}
	thread.Append(Entry{Speaker: Player, To: a.Name, Message: message})

	responses := c.gather(ctx, []*Advisor{a}, brief, thread.Lines())
	commit(thread, responses)
	return responses[0], nil
}

// AskAll posts the ruler's message to the whole council and records the replies.
func (c *Council) AskAll(ctx context.Context, message string, brief Briefing, thread *Thread) []Response {
	thread.Append(Entry{Speaker: Player, To: AudienceAll, Message: message})
	return c.Consult(ctx, brief, thread)
}

// UpdateInfluence grows every advisor's influence by a small random amount
// and records the new value. Called once per resolved turn.
func (c *Council) UpdateInfluence() {
	span := MaxInfluenceGain - MinInfluenceGain + 1
	for _, a := range c.advisors {
		a.Influence += MinInfluenceGain + c.rng.IntN(span)
		a.History = append(a.History, a.Influence)
	}
}

// RevealGoals discloses every advisor's secret goal and final influence.
func (c *Council) RevealGoals() []Reveal {
	out := make([]Reveal, len(c.advisors))
	for i, a := range c.advisors {
		out[i] = Reveal{Name: a.Name, Persona: a.Persona, SecretGoal: a.goal, Influence: a.Influence}
	}
	return out
}

// gather runs one oracle call per advisor, bounded by the configured
// concurrency, and returns the responses indexed by roster position.
// A failing or slow advisor never blocks the others' results.
func (c *Council) gather(ctx context.Context, advisors []*Advisor, brief Briefing, history []string) []Response {
	responses := make([]Response, len(advisors))

	var g errgroup.Group
	g.SetLimit(max(1, c.cfg.Concurrency))
	for i, a := range advisors {
		prompt := llm.BuildAdvisorPrompt(&llm.AdvisorContext{
			Name:       a.Name,
			Persona:    string(a.Persona),
			SecretGoal: string(a.goal),
			Crisis:     brief.Crisis,
			Options:    brief.Options,
			Effects:    brief.Effects,
			State:      brief.State,
			History:    history,
		})
		g.Go(func() error {
			responses[i] = c.ask(ctx, a, prompt)
			return nil
		})
	}
	_ = g.Wait()
	return responses
}

func (c *Council) ask(ctx context.Context, a *Advisor, prompt string) Response {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	slog.Debug("consulting advisor", "advisor", a.Name, "prompt_len", len(prompt))
	text, err := c.oracle.Generate(ctx, prompt, llm.Options{Temperature: c.cfg.Temperature})
	if err != nil {
		slog.Warn("advisor oracle call failed", "advisor", a.Name, "error", err)
		return Response{Advisor: a.Name, Text: llm.ErrorReply(err), Failed: true}
	}
	text = strings.TrimSpace(text)
	return Response{Advisor: a.Name, Text: text, Silent: llm.IsSilent(text)}
}

// commit appends non-silent responses to the thread as one ordered batch.
func commit(thread *Thread, responses []Response) {
	entries := make([]Entry, 0, len(responses))
	for _, r := range responses {
		if r.Silent {
			continue
		}
		entries = append(entries, Entry{Speaker: r.Advisor, Message: r.Text})
	}
	thread.Append(entries...)
}

// Spoken filters out silent responses, keeping order.
func Spoken(responses []Response) []Response {
	out := make([]Response, 0, len(responses))
	for _, r := range responses {
		if !r.Silent {
			out = append(out, r)
		}
	}
	return out
}
