// Reign epitaphs: a finished reign's record turned into a short chronicle entry.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/talgya/royal-intrigue/internal/kingdom"
)

// EpitaphData holds the raw facts of a finished reign.
type EpitaphData struct {
	Turns int
	Start kingdom.Stats
	Final kingdom.Stats

	// Decrees are one line per resolved crisis, oldest first.
	Decrees []string

	// Council lines describe each advisor's true goal and final influence.
	Council []string
}

// Epitaph is a generated chronicle entry.
type Epitaph struct {
	GeneratedAt time.Time `json:"generated_at"`
	Content     string    `json:"content"`
	Fallback    bool      `json:"fallback,omitempty"`
}

const epitaphSystem = `You are the Court Chronicler, keeper of the royal annals. A reign has just ended. Write its entry in the annals: 120 words or fewer of formal, slightly wry court prose. Judge the ruler by how the realm fared, and hint at which advisors served themselves rather than the crown. Do not use headings or lists.`

// WriteEpitaph asks the oracle for a chronicle entry. It never fails: when
// the oracle errors or stays silent, a plain summary is returned instead.
func WriteEpitaph(ctx context.Context, oracle Oracle, data *EpitaphData) *Epitaph {
	prompt := epitaphSystem + "\n\n" + buildEpitaphPrompt(data)

	content, err := oracle.Generate(ctx, prompt, Options{Temperature: DefaultTemperature, MaxTokens: 300})
	if err == nil && strings.TrimSpace(content) != "" && !IsSilent(content) {
		return &Epitaph{GeneratedAt: time.Now().UTC(), Content: strings.TrimSpace(content)}
	}
	if err != nil {
		slog.Warn("epitaph generation failed, using summary", "error", err)
	}
	return &Epitaph{
		GeneratedAt: time.Now().UTC(),
		Content:     fallbackEpitaph(data),
		Fallback:    true,
	}
}

func buildEpitaphPrompt(data *EpitaphData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "THE REIGN: %d crises.\n", data.Turns)
	fmt.Fprintf(&b, "AT THE CORONATION: %s\n", formatStats(data.Start))
	fmt.Fprintf(&b, "AT THE END: %s (the realm is %s)\n\n", formatStats(data.Final), kingdom.HealthOf(data.Final.Average()))

	if len(data.Decrees) > 0 {
		b.WriteString("DECREES:\n")
		for _, d := range data.Decrees {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteString("\n")
	}

	if len(data.Council) > 0 {
		b.WriteString("THE COUNCIL, UNMASKED:\n")
		for _, c := range data.Council {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}

func formatStats(s kingdom.Stats) string {
	parts := make([]string, 0, len(kingdom.AllStats))
	for _, st := range kingdom.AllStats {
		parts = append(parts, fmt.Sprintf("%s %d", st.Title(), s.Get(st)))
	}
	return strings.Join(parts, ", ")
}

func fallbackEpitaph(data *EpitaphData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Here ends a reign of %d crises. ", data.Turns)

	var rose, fell []string
	for _, st := range kingdom.AllStats {
		switch d := data.Final.Get(st) - data.Start.Get(st); {
		case d > 0:
			rose = append(rose, strings.ToLower(st.Title()))
		case d < 0:
			fell = append(fell, strings.ToLower(st.Title()))
		}
	}
	if len(rose) > 0 {
		fmt.Fprintf(&b, "Under this crown the %s grew. ", strings.Join(rose, " and "))
	}
	if len(fell) > 0 {
		fmt.Fprintf(&b, "The %s suffered. ", strings.Join(fell, " and "))
	}
	fmt.Fprintf(&b, "The realm was left %s.", kingdom.HealthOf(data.Final.Average()))
	return b.String()
}
