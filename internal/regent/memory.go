package regent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/talgya/royal-intrigue/internal/kingdom"
)

const (
	maxRecords    = 30
	promptRecords = 5 // how many recent records to include in the prompt
)

// TurnRecord captures one decision the regent made.
type TurnRecord struct {
	Reign       string        `json:"reign"`
	Turn        int           `json:"turn"`
	Crisis      string        `json:"crisis"`
	Allocation  []int         `json:"allocation"`
	Deltas      kingdom.Stats `json:"deltas"`
	CrisisLevel string        `json:"crisis_level"`
	Fallback    bool          `json:"fallback,omitempty"`
	Rationale   string        `json:"rationale,omitempty"`
}

// ReignMemory is a ring of recent regent decisions, kept across reigns.
type ReignMemory struct {
	Records []TurnRecord `json:"records"`
}

// LoadMemory reads the memory file. Returns empty memory if not found.
func LoadMemory(path string) *ReignMemory {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ReignMemory{}
	}
	var mem ReignMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		slog.Warn("regent memory corrupted, starting fresh", "error", err)
		return &ReignMemory{}
	}
	return &mem
}

// Save writes the memory to disk.
func (m *ReignMemory) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal regent memory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write regent memory: %w", err)
	}
	return nil
}

// Record adds a record, trimming to maxRecords.
func (m *ReignMemory) Record(r TurnRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// FormatForPrompt summarizes the last few decisions.
func (m *ReignMemory) FormatForPrompt() string {
	if len(m.Records) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Recent decisions\n")

	start := max(0, len(m.Records)-promptRecords)
	for _, r := range m.Records[start:] {
		fmt.Fprintf(&b, "- Turn %d: %q allocation=%v, result: %s, level=%s",
			r.Turn, r.Crisis, r.Allocation, r.Deltas.FormatEffects(), r.CrisisLevel)
		if r.Fallback {
			b.WriteString(", fallback")
		}
		b.WriteString("\n")
	}
	return b.String()
}
