package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/royal-intrigue/internal/council"
	"github.com/talgya/royal-intrigue/internal/engine"
	"github.com/talgya/royal-intrigue/internal/entropy"
	"github.com/talgya/royal-intrigue/internal/kingdom"
	"github.com/talgya/royal-intrigue/internal/llm"
	"github.com/talgya/royal-intrigue/internal/persistence"
)

type testServer struct {
	*httptest.Server
	api *Server
}

func newTestServer(t *testing.T, db *persistence.DB, tweak func(*Server)) *testServer {
	t.Helper()
	var seed int64
	factory := func() *engine.Session {
		seed++
		return engine.NewSession(engine.Options{
			Oracle: llm.NewScripted("The treasury must come first.").
				Set("Advisor 3", llm.Script{Replies: []string{"..."}}),
			Rand:    entropy.NewSeeded(seed),
			Council: council.Config{Concurrency: 3},
		})
	}
	s := &Server{
		Reigns:   NewRegistry(factory, db, 0),
		DB:       db,
		AdminKey: "secret",
		Oracle:   "scripted",
	}
	if tweak != nil {
		tweak(s)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return &testServer{Server: ts, api: s}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) create(t *testing.T) engine.View {
	t.Helper()
	resp, data := ts.do(t, http.MethodPost, "/api/v1/reigns", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var v engine.View
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func decodeView(t *testing.T, data []byte) engine.View {
	t.Helper()
	var v engine.View
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func wholeAllocation(n int) []int {
	pcts := kingdom.EqualSplit(n)
	pcts[0] += 100 - 100/n*n
	return pcts
}

func TestPlayFullReignOverHTTP(t *testing.T) {
	db, err := persistence.Open(persistence.DialectSQLite, filepath.Join(t.TempDir(), "court.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ts := newTestServer(t, db, nil)

	v := ts.create(t)
	assert.Equal(t, engine.PhaseWelcome, v.Phase)
	base := "/api/v1/reigns/" + v.ReignID

	resp, data := ts.do(t, http.MethodPost, base+"/begin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	for turn := 1; turn <= engine.MaxTurns; turn++ {
		resp, data = ts.do(t, http.MethodPost, base+"/consult", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
		var consult struct {
			Advice []council.Response `json:"advice"`
			Phase  engine.Phase       `json:"phase"`
		}
		require.NoError(t, json.Unmarshal(data, &consult))
		assert.Len(t, consult.Advice, 2, "silent advisor omitted")
		assert.Equal(t, engine.PhaseAwaitingAllocation, consult.Phase)

		_, data = ts.do(t, http.MethodGet, base, nil)
		view := decodeView(t, data)
		require.NotNil(t, view.Crisis)

		resp, data = ts.do(t, http.MethodPost, base+"/allocate", map[string]any{"allocation": wholeAllocation(len(view.Crisis.Options))})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
		var res engine.Resolution
		require.NoError(t, json.Unmarshal(data, &res))
		assert.Equal(t, turn, res.Turn)

		if res.GameOver {
			break
		}
		resp, _ = ts.do(t, http.MethodPost, base+"/next", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, data = ts.do(t, http.MethodPost, base+"/next", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(data), "reign has ended")

	resp, data = ts.do(t, http.MethodGet, base+"/reveal", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reveals []council.Reveal
	require.NoError(t, json.Unmarshal(data, &reveals))
	assert.Len(t, reveals, 3)

	resp, data = ts.do(t, http.MethodGet, "/api/v1/reigns", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var archived []persistence.Reign
	require.NoError(t, json.Unmarshal(data, &archived))
	require.Len(t, archived, 1)
	assert.Equal(t, v.ReignID, archived[0].ID)
	assert.Equal(t, engine.MaxTurns, archived[0].Turns)

	resp, data = ts.do(t, http.MethodGet, "/api/v1/archive/"+v.ReignID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"turns"`)

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/archive/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAllocationErrors(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	v := ts.create(t)
	base := "/api/v1/reigns/" + v.ReignID

	resp, _ := ts.do(t, http.MethodPost, base+"/allocate", map[string]any{"allocation": []int{100, 0}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "no crisis yet")

	ts.do(t, http.MethodPost, base+"/begin", nil)
	ts.do(t, http.MethodPost, base+"/consult", nil)

	resp, data := ts.do(t, http.MethodPost, base+"/allocate", map[string]any{"allocation": []int{40, 40, 10}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(data), "invalid allocation")

	resp, _ = ts.do(t, http.MethodPost, base+"/allocate", map[string]any{"percent": 5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, data = ts.do(t, http.MethodGet, base, nil)
	after := decodeView(t, data)
	assert.Equal(t, kingdom.DefaultStartingStats, after.Stats)
	assert.Equal(t, engine.PhaseAwaitingAllocation, after.Phase)
}

func TestAskRoutes(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	v := ts.create(t)
	base := "/api/v1/reigns/" + v.ReignID

	resp, _ := ts.do(t, http.MethodPost, base+"/ask", askRequest{Advisor: "Advisor 1", Message: "hi"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	ts.do(t, http.MethodPost, base+"/begin", nil)

	resp, data := ts.do(t, http.MethodPost, base+"/ask", askRequest{Advisor: "advisor 1", Message: "Where is the gold?"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Contains(t, string(data), "The treasury must come first.")

	resp, data = ts.do(t, http.MethodPost, base+"/ask", askRequest{Advisor: "Advsor 2", Message: "hello"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(data), `did you mean "Advisor 2"`)

	resp, _ = ts.do(t, http.MethodPost, base+"/ask", askRequest{Advisor: "Advisor 1", Message: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = ts.do(t, http.MethodPost, base+"/ask-all", askRequest{Message: "Speak."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all struct {
		Replies []council.Response `json:"replies"`
	}
	require.NoError(t, json.Unmarshal(data, &all))
	assert.Len(t, all.Replies, 2)

	resp, _ = ts.do(t, http.MethodPost, base+"/ask", askRequest{Advisor: "all", Message: "Again."})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, data = ts.do(t, http.MethodGet, base, nil)
	view := decodeView(t, data)
	assert.Equal(t, "Player to Advisor 1: Where is the gold?", view.Thread[0].String())
}

func TestRoutingErrors(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	v := ts.create(t)

	resp, _ := ts.do(t, http.MethodGet, "/api/v1/reigns/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/reigns/"+v.ReignID+"/begin", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/reigns/"+v.ReignID+"/abdicate", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/reigns/"+v.ReignID+"/reveal", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/reigns", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "no archive configured")
}

func TestResetRekeysReign(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	v := ts.create(t)
	ts.do(t, http.MethodPost, "/api/v1/reigns/"+v.ReignID+"/begin", nil)

	resp, data := ts.do(t, http.MethodPost, "/api/v1/reigns/"+v.ReignID+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fresh := decodeView(t, data)
	assert.NotEqual(t, v.ReignID, fresh.ReignID)
	assert.Equal(t, engine.PhaseWelcome, fresh.Phase)
	assert.Equal(t, "/api/v1/reigns/"+fresh.ReignID, resp.Header.Get("Location"))

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/reigns/"+v.ReignID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/api/v1/reigns/"+fresh.ReignID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOracleRoutesAreRateLimited(t *testing.T) {
	ts := newTestServer(t, nil, func(s *Server) { s.OraclePerHour = 1 })
	v := ts.create(t)
	base := "/api/v1/reigns/" + v.ReignID
	ts.do(t, http.MethodPost, base+"/begin", nil)

	resp, _ := ts.do(t, http.MethodPost, base+"/consult", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, base+"/ask-all", askRequest{Message: "More?"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, _ = ts.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "views are not limited")
}

func TestSaveRequiresAdmin(t *testing.T) {
	db, err := persistence.Open(persistence.DialectSQLite, filepath.Join(t.TempDir(), "court.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ts := newTestServer(t, db, nil)
	v := ts.create(t)
	path := ts.URL + "/api/v1/reigns/" + v.ReignID + "/save"

	resp, err := ts.Client().Post(path, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	n, err := db.CountReigns()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	noKey := newTestServer(t, db, func(s *Server) { s.AdminKey = "" })
	resp, err = noKey.Client().Post(noKey.URL+"/api/v1/reigns/"+noKey.create(t).ReignID+"/save", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, data := ts.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(data), `"oracle": "scripted"`))
}

func TestRegistryEvictsFinishedReigns(t *testing.T) {
	reg := NewRegistry(func() *engine.Session {
		return engine.NewSession(engine.Options{Oracle: llm.NewScripted("Aye."), Rand: entropy.NewSeeded(1)})
	}, nil, 1)

	first, err := reg.Create()
	require.NoError(t, err)
	_, err = reg.Create()
	require.ErrorIs(t, err, ErrTooManyReigns)

	require.NoError(t, first.BeginReign())
	for {
		_, err := first.ConsultAdvisors(t.Context())
		require.NoError(t, err)
		res, err := first.SubmitAllocation(wholeAllocation(len(first.Snapshot().Crisis.Options)))
		require.NoError(t, err)
		if res.GameOver {
			break
		}
		require.NoError(t, first.StartNextCrisis())
	}

	second, err := reg.Create()
	require.NoError(t, err)
	_, ok := reg.Get(first.ID())
	assert.False(t, ok)
	_, ok = reg.Get(second.ID())
	assert.True(t, ok)
}

func TestRegistryStaysResponsiveDuringConsultation(t *testing.T) {
	oracle := llm.NewScripted("Aye.")
	for _, name := range []string{"Advisor 1", "Advisor 2", "Advisor 3"} {
		oracle.Set(name, llm.Script{Replies: []string{"Slowly."}, Delay: 5 * time.Second})
	}
	reg := NewRegistry(func() *engine.Session {
		return engine.NewSession(engine.Options{Oracle: oracle, Rand: entropy.NewSeeded(2)})
	}, nil, 1)

	busy, err := reg.Create()
	require.NoError(t, err)
	require.NoError(t, busy.BeginReign())
	id := busy.ID()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		busy.ConsultAdvisors(ctx)
	}()
	require.Eventually(t, func() bool { return oracle.Calls("Advisor 1") > 0 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	_, err = reg.Create()
	assert.ErrorIs(t, err, ErrTooManyReigns)
	_, ok := reg.Get(id)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), time.Second, "a full registry must not wait on a consulting reign")

	cancel()
	<-done
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))
	assert.Equal(t, 61, rl.RetryAfter("1.2.3.4"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("1.2.3.4"))

	now = now.Add(3 * time.Minute)
	rl.cleanup()
	assert.Zero(t, rl.RetryAfter("5.6.7.8"))
}

func TestClientAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientAddr(r))
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientAddr(r))
}
