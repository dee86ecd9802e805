package llm

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Script is what a Scripted oracle does for one speaker.
type Script struct {
	Replies []string      // returned in order; the last one repeats
	Err     error         // returned instead of a reply when set
	Delay   time.Duration // simulated latency, cut short by ctx
}

// Scripted is an offline Oracle that answers from fixed scripts keyed by
// the speaker named in the prompt's opening "You are <name>," line.
type Scripted struct {
	Scripts map[string]*Script
	Default string

	mu      sync.Mutex
	calls   map[string]int
	prompts []string
}

// NewScripted returns a Scripted oracle with the given default reply.
func NewScripted(defaultReply string) *Scripted {
	return &Scripted{Scripts: make(map[string]*Script), Default: defaultReply}
}

// Set installs the script for a speaker.
func (s *Scripted) Set(name string, script Script) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scripts[name] = &script
	return s
}

// Generate implements Oracle.
func (s *Scripted) Generate(ctx context.Context, prompt string, _ Options) (string, error) {
	name := speakerOf(prompt)

	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.prompts = append(s.prompts, prompt)
	script := s.Scripts[name]
	n := s.calls[name]
	s.calls[name]++
	s.mu.Unlock()

	if script == nil {
		return s.Default, nil
	}
	if script.Delay > 0 {
		timer := time.NewTimer(script.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", &OracleError{Backend: "scripted", Err: ctx.Err()}
		}
	}
	if script.Err != nil {
		return "", &OracleError{Backend: "scripted", Err: script.Err}
	}
	if len(script.Replies) == 0 {
		return s.Default, nil
	}
	if n >= len(script.Replies) {
		n = len(script.Replies) - 1
	}
	return script.Replies[n], nil
}

// Prompts returns every prompt received so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Calls returns how many prompts named the given speaker.
func (s *Scripted) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func speakerOf(prompt string) string {
	rest, ok := strings.CutPrefix(prompt, "You are ")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, ",")
	return name
}

// Unavailable is an Oracle that always fails, used when no backend is
// configured so consultations record error markers instead of stalling.
type Unavailable struct {
	Backend string
	Err     error
}

// Generate implements Oracle.
func (u Unavailable) Generate(context.Context, string, Options) (string, error) {
	err := u.Err
	if err == nil {
		err = ErrNotConfigured
	}
	return "", &OracleError{Backend: u.Backend, Err: err}
}
