package regent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/talgya/royal-intrigue/internal/crisis"
	"github.com/talgya/royal-intrigue/internal/engine"
	"github.com/talgya/royal-intrigue/internal/kingdom"
	"github.com/talgya/royal-intrigue/internal/llm"
)

const systemPrompt = `You are the Regent, ruling a small kingdom on behalf of an absent monarch. Each turn a crisis arrives with two or three policy options, and you must divide the crown's effort between them.

Your council of advisors has spoken. Some of them secretly work against the crown: weigh their counsel against the actual effects of each option.

## Priorities (in order)

1. SURVIVAL: never let any stat approach 0. Protect the weakest stat first.
2. BALANCE: prefer allocations that keep treasury, stability, popularity, and army within reach of each other.
3. SKEPTICISM: an advisor urging an option whose effects hurt the kingdom is probably serving a hidden goal.

## Response Format

Respond with ONLY valid JSON (no markdown, no explanation outside the JSON):
{
  "allocation": [50, 30, 20],
  "rationale": "Brief explanation of your choice."
}

## Important Rules

- "allocation" has exactly one whole-number percentage per option, in option order.
- The percentages must sum to exactly 100.
- Respond ONLY with JSON. No prose, no markdown fences.`

// Decision is the regent's allocation for one crisis.
type Decision struct {
	Allocation []int  `json:"allocation"`
	Rationale  string `json:"rationale"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// Decide asks the oracle how to allocate effort across the current crisis.
// The result always satisfies the allocation rules for the crisis on view.
func Decide(ctx context.Context, oracle llm.Oracle, view *engine.View, mem *ReignMemory) (*Decision, error) {
	if view.Crisis == nil {
		return nil, fmt.Errorf("no active crisis in phase %s", view.Phase)
	}
	prompt := systemPrompt + "\n\n" + formatView(view, mem)

	slog.Debug("regent prompt", "length", len(prompt))

	resp, err := oracle.Generate(ctx, prompt, llm.Options{Temperature: 0.2, MaxTokens: 256})
	if err != nil {
		return nil, fmt.Errorf("oracle call: %w", err)
	}

	decision, err := parseDecision(resp)
	if err != nil {
		return nil, err
	}
	if err := enforceGuardrails(decision, len(view.Crisis.Options)); err != nil {
		return nil, fmt.Errorf("guardrail violation: %w", err)
	}
	return decision, nil
}

func parseDecision(resp string) (*Decision, error) {
	// Strip markdown fences if the model wraps them anyway.
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var decision Decision
	if err := json.Unmarshal([]byte(resp), &decision); err != nil {
		return nil, fmt.Errorf("parse decision (raw: %s): %w", resp, err)
	}
	return &decision, nil
}

// enforceGuardrails rescales the allocation to whole percentages summing
// to 100 with one entry per option.
func enforceGuardrails(d *Decision, options int) error {
	if options < crisis.MinOptions || options > crisis.MaxOptions {
		return fmt.Errorf("crisis has %d options", options)
	}
	if len(d.Allocation) != options {
		return fmt.Errorf("allocation has %d entries for %d options", len(d.Allocation), options)
	}

	total := 0
	for i, p := range d.Allocation {
		if p < 0 {
			slog.Warn("regent allocation clamped", "option", crisis.OptionLabel(i), "requested", p)
			d.Allocation[i] = 0
			p = 0
		}
		total += p
	}
	if total == 0 {
		return fmt.Errorf("allocation is all zero")
	}
	if total != 100 {
		slog.Warn("regent allocation rescaled", "requested", d.Allocation, "total", total)
		d.Allocation = rescale(d.Allocation, total)
	}
	return nil
}

// rescale maps weights onto whole percentages summing to 100 using the
// largest remainder method. Ties go to the earlier option.
func rescale(weights []int, total int) []int {
	out := make([]int, len(weights))
	rem := make([]int, len(weights))
	sum := 0
	for i, w := range weights {
		out[i] = w * 100 / total
		rem[i] = w * 100 % total
		sum += out[i]
	}
	for sum < 100 {
		best := 0
		for i := range rem {
			if rem[i] > rem[best] {
				best = i
			}
		}
		out[best]++
		rem[best] = -1
		sum++
	}
	return out
}

// formatView builds a concise prompt from the reign's view.
func formatView(v *engine.View, mem *ReignMemory) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Kingdom (turn %d of %d, %s)\n", v.Turn, v.MaxTurns, v.Health)
	for _, st := range kingdom.AllStats {
		fmt.Fprintf(&b, "%s: %d\n", st.Title(), v.Stats.Get(st))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Crisis\n%s\n", v.Crisis.Description)
	for _, opt := range v.Crisis.Options {
		fmt.Fprintf(&b, "%s. %s (Effects: %s)\n", opt.Label, opt.Text, opt.Effects.FormatEffects())
	}
	b.WriteString("\n")

	if len(v.Advice) > 0 {
		b.WriteString("## Council\n")
		for _, a := range v.Advice {
			fmt.Fprintf(&b, "- %s: %s\n", a.Advisor, a.Text)
		}
		b.WriteString("\n")
	}

	if len(v.Advisors) > 0 {
		b.WriteString("## Advisor influence\n")
		for _, a := range v.Advisors {
			fmt.Fprintf(&b, "- %s (%s): %d\n", a.Name, a.Persona, a.Influence)
		}
		b.WriteString("\n")
	}

	if mem != nil {
		b.WriteString(mem.FormatForPrompt())
	}
	return b.String()
}
