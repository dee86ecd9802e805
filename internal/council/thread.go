package council

import "sync"

// Player is the speaker name used for the ruler's own messages.
const Player = "Player"

// AudienceAll addresses a player message to the whole council.
const AudienceAll = "all"

// Entry is one message in the conversation thread.
type Entry struct {
	Speaker string `json:"speaker"`
	To      string `json:"to,omitempty"`
	Message string `json:"message"`
}

// String renders "Advisor 1: ..." or "Player to all: ...".
func (e Entry) String() string {
	if e.To != "" {
		return e.Speaker + " to " + e.To + ": " + e.Message
	}
	return e.Speaker + ": " + e.Message
}

// Thread is the append-only conversation shared by the ruler and the
// council for a whole reign. Appends are serialized.
type Thread struct {
	mu      sync.Mutex
	entries []Entry
}

// NewThread returns an empty thread.
func NewThread() *Thread {
	return &Thread{}
}

// Append adds entries in the order given.
func (t *Thread) Append(entries ...Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entries...)
}

// Len returns the number of entries.
func (t *Thread) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries returns a copy of every entry, oldest first.
func (t *Thread) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

// Lines returns every entry rendered as text.
func (t *Thread) Lines() []string {
	entries := t.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

// DisplayTail is how many entries a conversation log shows.
const DisplayTail = 15

// Tail returns at most the last n entries. The thread itself is never pruned.
func (t *Thread) Tail(n int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 {
		return nil
	}
	start := len(t.entries) - n
	if start < 0 {
		start = 0
	}
	return append([]Entry(nil), t.entries[start:]...)
}
