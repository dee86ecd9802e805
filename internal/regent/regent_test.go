package regent

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/royal-intrigue/internal/api"
	"github.com/talgya/royal-intrigue/internal/council"
	"github.com/talgya/royal-intrigue/internal/engine"
	"github.com/talgya/royal-intrigue/internal/entropy"
	"github.com/talgya/royal-intrigue/internal/kingdom"
	"github.com/talgya/royal-intrigue/internal/llm"
)

func sampleView() *engine.View {
	return &engine.View{
		ReignID:  "r-1",
		Phase:    engine.PhaseAwaitingAllocation,
		Turn:     2,
		MaxTurns: engine.MaxTurns,
		Stats:    kingdom.Stats{Treasury: 20, Stability: 70, Popularity: 60, Army: 65},
		Health:   kingdom.HealthStruggling,
		Crisis: &engine.CrisisView{
			Description: "Bandits raid the trade routes.",
			Options: []engine.OptionView{
				{Label: "A", Text: "Hire mercenaries", Effects: kingdom.Stats{Treasury: -8, Army: 4}},
				{Label: "B", Text: "Tax the merchants", Effects: kingdom.Stats{Treasury: 5, Popularity: -3}},
				{Label: "C", Text: "Ignore it", Effects: kingdom.Stats{Stability: -2}},
			},
		},
		Advice: []council.Response{{Advisor: "Advisor 1", Text: "Hire them all."}},
		Advisors: []council.AdvisorInfo{
			{Name: "Advisor 1", Persona: council.PersonaTreasurer, Influence: 3},
		},
	}
}

func TestParseDecisionStripsFences(t *testing.T) {
	d, err := parseDecision("```json\n{\"allocation\": [50, 30, 20], \"rationale\": \"hedge\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, []int{50, 30, 20}, d.Allocation)
	assert.Equal(t, "hedge", d.Rationale)

	_, err = parseDecision("I would fund the army.")
	assert.ErrorContains(t, err, "parse decision")
}

func TestEnforceGuardrails(t *testing.T) {
	tests := []struct {
		name string
		in   []int
		n    int
		want []int
		err  string
	}{
		{"exact", []int{50, 30, 20}, 3, []int{50, 30, 20}, ""},
		{"even thirds", []int{1, 1, 1}, 3, []int{34, 33, 33}, ""},
		{"short of hundred", []int{50, 30}, 2, []int{63, 37}, ""},
		{"negative clamped", []int{-20, 60, 60}, 3, []int{0, 50, 50}, ""},
		{"length mismatch", []int{100}, 2, nil, "1 entries for 2 options"},
		{"all zero", []int{0, 0}, 2, nil, "all zero"},
		{"too many options", []int{25, 25, 25, 25}, 4, nil, "4 options"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Decision{Allocation: append([]int(nil), tt.in...)}
			err := enforceGuardrails(d, tt.n)
			if tt.err != "" {
				assert.ErrorContains(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Allocation)
			assert.Equal(t, 100, sum(d.Allocation))
		})
	}
}

func TestDecideUsesOracleAndGuardrails(t *testing.T) {
	oracle := llm.NewScripted("").Set("the Regent", llm.Script{
		Replies: []string{`{"allocation": [2, 1, 1], "rationale": "treasury first"}`},
	})

	d, err := Decide(context.Background(), oracle, sampleView(), &ReignMemory{})
	require.NoError(t, err)
	assert.Equal(t, []int{50, 25, 25}, d.Allocation)
	assert.False(t, d.Fallback)

	prompts := oracle.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "A. Hire mercenaries (Effects: Treasury: -8, Stability: +0, Popularity: +0, Army: +4)")
	assert.Contains(t, prompts[0], "- Advisor 1: Hire them all.")
	assert.Contains(t, prompts[0], "Treasury: 20")
}

func TestDecideFailsWithoutCrisis(t *testing.T) {
	v := sampleView()
	v.Crisis = nil
	_, err := Decide(context.Background(), llm.NewScripted("{}"), v, nil)
	assert.ErrorContains(t, err, "no active crisis")

	_, err = Decide(context.Background(), llm.Unavailable{Backend: "none"}, sampleView(), nil)
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}

func TestTriage(t *testing.T) {
	a := Triage(sampleView())
	assert.Equal(t, kingdom.Treasury, a.Weakest)
	assert.Equal(t, 20, a.WeakestVal)
	assert.Equal(t, LevelWarning, a.CrisisLevel)
	require.Len(t, a.Scores, 3)
	assert.Greater(t, a.Scores[1], a.Scores[0], "taxing protects the weak treasury")
	assert.Equal(t, 100, sum(a.Lean))
	assert.Greater(t, a.Lean[1], a.Lean[0])
	assert.Greater(t, a.Lean[1], a.Lean[2])

	v := sampleView()
	v.Stats = kingdom.Stats{Treasury: 80, Stability: 80, Popularity: 80, Army: 80}
	assert.Equal(t, LevelHealthy, Triage(v).CrisisLevel)
	v.Stats.Army = 10
	assert.Equal(t, LevelCritical, Triage(v).CrisisLevel)
	v.Stats.Army = 35
	assert.Equal(t, LevelWatch, Triage(v).CrisisLevel)
}

func TestFallbackDecision(t *testing.T) {
	a := Triage(sampleView())
	d := FallbackDecision(a, 3)
	assert.True(t, d.Fallback)
	assert.Equal(t, a.Lean, d.Allocation)
	assert.Contains(t, d.Rationale, "treasury")

	d = FallbackDecision(&Assessment{}, 3)
	assert.Equal(t, []int{34, 33, 33}, d.Allocation)
}

func TestMemoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regent_memory.json")

	mem := LoadMemory(path)
	assert.Empty(t, mem.Records)
	assert.Empty(t, mem.FormatForPrompt())

	for i := 1; i <= maxRecords+5; i++ {
		mem.Record(TurnRecord{Turn: i, Crisis: "Plague", Allocation: []int{100, 0}, CrisisLevel: LevelHealthy})
	}
	assert.Len(t, mem.Records, maxRecords)
	assert.Equal(t, 6, mem.Records[0].Turn)
	require.NoError(t, mem.Save(path))

	loaded := LoadMemory(path)
	assert.Equal(t, mem.Records, loaded.Records)
	prompt := loaded.FormatForPrompt()
	assert.Equal(t, promptRecords, strings.Count(prompt, "- Turn"))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	assert.Empty(t, LoadMemory(path).Records)
}

func newCourt(t *testing.T) *httptest.Server {
	t.Helper()
	var seed int64
	srv := &api.Server{
		Reigns: api.NewRegistry(func() *engine.Session {
			seed++
			return engine.NewSession(engine.Options{
				Oracle: llm.NewScripted("Strengthen the army."),
				Rand:   entropy.NewSeeded(seed),
			})
		}, nil, 0),
		Oracle: "scripted",
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts
}

func TestPlayReignWithOracle(t *testing.T) {
	ts := newCourt(t)
	obs := NewObserver(ts.URL)
	require.NoError(t, obs.WaitForAPI(context.Background()))

	r := &Regent{
		Observer: obs,
		Actor:    NewActor(ts.URL),
		Oracle: llm.NewScripted("").Set("the Regent", llm.Script{
			Replies: []string{"```json\n{\"allocation\": [1, 1, 1], \"rationale\": \"balance\"}\n```"},
		}),
	}

	out, err := r.PlayReign(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.MaxTurns, out.Turns)
	assert.Len(t, out.Reveals, 3)
	assert.Len(t, r.Memory.Records, engine.MaxTurns)
	for _, rec := range r.Memory.Records {
		assert.Equal(t, 100, sum(rec.Allocation))
		if !rec.Fallback {
			assert.Equal(t, []int{34, 33, 33}, rec.Allocation)
		}
	}
	for _, st := range kingdom.AllStats {
		assert.GreaterOrEqual(t, out.Final.Get(st), kingdom.MinStat)
		assert.LessOrEqual(t, out.Final.Get(st), kingdom.MaxStat)
	}
}

func TestPlayReignFallsBackWithoutOracle(t *testing.T) {
	ts := newCourt(t)
	r := &Regent{
		Observer: NewObserver(ts.URL),
		Actor:    NewActor(ts.URL),
		Oracle:   llm.Unavailable{Backend: "none", Err: errors.New("offline")},
	}

	out, err := r.PlayReign(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.MaxTurns, out.Fallbacks)
}

func TestActorSurfacesServerErrors(t *testing.T) {
	ts := newCourt(t)
	a := NewActor(ts.URL)

	err := a.Begin(context.Background(), "missing")
	assert.ErrorContains(t, err, "(404)")

	v, err := a.Create(context.Background())
	require.NoError(t, err)
	_, err = a.Allocate(context.Background(), v.ReignID, []int{100})
	assert.ErrorContains(t, err, "(409)")
}
