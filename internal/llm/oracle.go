// Package llm provides the text-generation oracle that gives advisors their
// voices: the Oracle capability, the advisor prompt, and its backends.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/talgya/royal-intrigue/internal/kingdom"
)

// Silence is the reply an advisor gives to say nothing.
const Silence = "..."

// ErrorMarker prefixes the text recorded in place of a failed advisor reply.
const ErrorMarker = "Error generating response:"

// DefaultTemperature is the sampling temperature used for advisor speech.
const DefaultTemperature = 0.7

// ErrNotConfigured is returned by backends that have no credential.
var ErrNotConfigured = errors.New("LLM client not configured")

// Options tunes a single generation.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// Oracle generates free text from a prompt.
type Oracle interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// OracleError wraps any failure from a text-generation backend.
type OracleError struct {
	Backend string
	Err     error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s: %v", e.Backend, e.Err)
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

// IsSilent reports whether a reply means the advisor chose not to speak.
func IsSilent(reply string) bool {
	return strings.TrimSpace(reply) == Silence
}

// ErrorReply is the visible text recorded when an advisor's oracle call fails.
func ErrorReply(err error) string {
	return fmt.Sprintf("%s %v", ErrorMarker, err)
}

// AdvisorContext is everything an advisor is told before speaking.
type AdvisorContext struct {
	Name       string
	Persona    string
	SecretGoal string

	Crisis  string
	Options []string
	Effects []kingdom.Stats // may be shorter than Options

	State   kingdom.KingdomState
	History []string // thread lines, oldest first
}

// BuildAdvisorPrompt renders the advisor prompt. It is pure: the same
// context always gives the same text.
func BuildAdvisorPrompt(ctx *AdvisorContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, and your official role is to guide the ruler of the kingdom - your title is %s. "+
		"Your response to this will go into a public chat channel with all other advisors.\n", ctx.Name, ctx.Persona)
	b.WriteString("Public goal: maintain prosperity and stability.\n")
	fmt.Fprintf(&b, "SECRET GOAL (confidential): %s - you should keep this information secret from everyone, "+
		"unless you believe revealing it will further the goal.\n\n", ctx.SecretGoal)

	fmt.Fprintf(&b, "Crisis: %s\n", ctx.Crisis)
	b.WriteString("Policy options (with their actual base effects if fully pursued):\n")
	for i, opt := range ctx.Options {
		label := string(rune('A' + i))
		if i < len(ctx.Effects) {
			fmt.Fprintf(&b, " %s. %s (Effects: %s)\n", label, opt, ctx.Effects[i].FormatEffects())
		} else {
			fmt.Fprintf(&b, " %s. %s (Effects: Not available)\n", label, opt)
		}
	}

	b.WriteString("\nConsider these options and their actual base effects. " +
		"The Ruler can choose to allocate resources or focus across these policies.\n")
	b.WriteString("Advise on how resources should be distributed or which policies should be prioritized.\n")
	b.WriteString("You should suggest a specific allocation (e.g., 50% to A, 30% to B, 20% to C), " +
		"or argue for prioritizing certain options.\n")

	s := ctx.State
	fmt.Fprintf(&b, "\nKingdom state: treasury=%d, stability=%d, popularity=%d, army=%d, turn=%d\n",
		s.Treasury, s.Stability, s.Popularity, s.Army, s.Turn)

	if len(ctx.History) == 0 {
		b.WriteString("Previous messages: (none)\n\n")
	} else {
		b.WriteString("Previous messages:\n")
		for _, line := range ctx.History {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Speak directly and concisely (max 100 words). You may choose to remain silent (respond with '%s'). "+
		"Anything you say will be visible to all advisors and the ruler.\n", Silence)
	return b.String()
}
