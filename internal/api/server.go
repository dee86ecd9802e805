// Package api serves reigns over HTTP.
// Reign actions are public; archive snapshots of live reigns require a bearer token.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/royal-intrigue/internal/council"
	"github.com/talgya/royal-intrigue/internal/engine"
	"github.com/talgya/royal-intrigue/internal/kingdom"
	"github.com/talgya/royal-intrigue/internal/persistence"
)

const maxBodyBytes = 16 << 10

// Server serves reigns over HTTP.
type Server struct {
	Reigns   *Registry
	DB       *persistence.DB
	Port     int
	AdminKey string // Bearer token for the save endpoint. Empty = disabled.
	Oracle   string // oracle backend name, reported by /status

	// OraclePerHour caps oracle-backed requests per client. Zero means 60.
	OraclePerHour int

	limiter *RateLimiter
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	perHour := s.OraclePerHour
	if perHour <= 0 {
		perHour = 60
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(perHour, time.Hour)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/reigns", s.handleReigns)
	mux.HandleFunc("/api/v1/reigns/", s.handleReignRoutes())
	mux.HandleFunc("/api/v1/archive/", s.handleArchiveDetail)
	return corsMiddleware(mux)
}

// Start begins serving in a goroutine and returns the server for shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "archive", s.DB != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Close()
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no COURT_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"name":      "Royal Intrigue",
		"oracle":    s.Oracle,
		"reigns":    s.Reigns.Len(),
		"max_turns": engine.MaxTurns,
		"archive":   s.DB != nil,
	}
	if s.DB != nil {
		if n, err := s.DB.CountReigns(); err == nil {
			status["reigns_archived"] = n
		}
	}
	writeJSON(w, status)
}

// handleReigns creates a reign (POST) or lists archived reigns (GET).
func (s *Server) handleReigns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		sess, err := s.Reigns.Create()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		slog.Info("reign created", "reign", sess.ID(), "remote", clientAddr(r))
		w.Header().Set("Location", "/api/v1/reigns/"+sess.ID())
		writeJSONStatus(w, http.StatusCreated, sess.Snapshot())
	case http.MethodGet:
		if s.DB == nil {
			http.Error(w, "database not available", http.StatusServiceUnavailable)
			return
		}
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}
		reigns, err := s.DB.ListReigns(limit)
		if err != nil {
			slog.Error("list reigns failed", "error", err)
			http.Error(w, "archive query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, reigns)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type reignAction struct {
	method  string
	oracle  bool
	handler func(w http.ResponseWriter, r *http.Request, sess *engine.Session)
}

// handleReignRoutes dispatches /api/v1/reigns/:id[/action].
func (s *Server) handleReignRoutes() http.HandlerFunc {
	actions := map[string]reignAction{
		"":          {http.MethodGet, false, s.handleView},
		"begin":     {http.MethodPost, false, s.handleBegin},
		"consult":   {http.MethodPost, true, s.handleConsult},
		"ask":       {http.MethodPost, true, s.handleAsk},
		"ask-all":   {http.MethodPost, true, s.handleAskAll},
		"allocate":  {http.MethodPost, false, s.handleAllocate},
		"next":      {http.MethodPost, false, s.handleNext},
		"reset":     {http.MethodPost, false, s.handleReset},
		"reveal":    {http.MethodGet, false, s.handleReveal},
		"chronicle": {http.MethodGet, false, s.handleChronicle},
		"save":      {http.MethodPost, false, s.handleSave},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/reigns/"), "/")
		id, name, _ := strings.Cut(rest, "/")
		if id == "" {
			http.Error(w, "missing reign id", http.StatusBadRequest)
			return
		}
		sess, ok := s.Reigns.Get(id)
		if !ok {
			http.Error(w, "reign not found", http.StatusNotFound)
			return
		}
		action, ok := actions[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method != action.method {
			w.Header().Set("Allow", action.method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		handler := func(w http.ResponseWriter, r *http.Request) { action.handler(w, r, sess) }
		switch {
		case name == "save":
			handler = s.adminOnly(handler)
		case action.oracle:
			handler = RateLimitMiddleware(s.limiter, handler)
		}
		handler(w, r)
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, sess *engine.Session) {
	writeJSON(w, sess.Snapshot())
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request, sess *engine.Session) {
	if err := sess.BeginReign(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sess.Snapshot())
}

func (s *Server) handleConsult(w http.ResponseWriter, r *http.Request, sess *engine.Session) {
	advice, err := sess.ConsultAdvisors(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"advice": advice,
		"phase":  sess.Phase(),
	})
}

type askRequest struct {
	Advisor string `json:"advisor"`
	Message string `json:"message"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request, sess *engine.Session) {
	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.EqualFold(strings.TrimSpace(req.Advisor), council.AudienceAll) {
		s.askAll(w, r, sess, req.Message)
		return
	}
	resp, err := sess.AskAdvisor(r.Context(), req.Advisor, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"reply": resp,
		"phase": sess.Phase(),
	})
}

func (s *Server) handleAskAll(w http.ResponseWriter, r *http.Request, sess *engine.Session) {
	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.askAll(w, r, sess, req.Message)
}

func (s *Server) askAll(w http.ResponseWriter, r *http.Request, sess *engine.Session, message string) {
	replies, err := sess.AskAll(r.Context(), message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"replies": replies,
		"phase":   sess.Phase(),
	})
}

type allocateRequest struct {
	Allocation []int `json:"allocation"`
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request, sess *engine.Session) {
	var req allocateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := sess.SubmitAllocation(req.Allocation)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request, sess *engine.Session) {
	if err := sess.StartNextCrisis(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sess.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, sess *engine.Session) {
	old := sess.ID()
	sess.Reset()
	s.Reigns.Rekey(old, sess)
	w.Header().Set("Location", "/api/v1/reigns/"+sess.ID())
	writeJSON(w, sess.Snapshot())
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request, sess *engine.Session) {
	reveals, err := sess.RevealGoals()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, reveals)
}

func (s *Server) handleChronicle(w http.ResponseWriter, r *http.Request, sess *engine.Session) {
	writeJSON(w, sess.Chronicle())
}

// handleSave archives a reign in progress.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request, sess *engine.Session) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	c := sess.Chronicle()
	if err := s.DB.SaveReign(c); err != nil {
		slog.Error("snapshot save failed", "reign", c.ReignID, "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"reign":   c.ReignID,
		"turn":    c.Final.Turn,
		"message": "reign saved",
	})
}

// handleArchiveDetail serves GET /api/v1/archive/:id.
func (s *Server) handleArchiveDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/archive/"), "/")
	reign, err := s.DB.GetReign(id)
	if errors.Is(err, persistence.ErrReignNotFound) {
		http.Error(w, "reign not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("archive lookup failed", "reign", id, "error", err)
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}
	turns, err := s.DB.LoadTurns(id)
	if err != nil {
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}
	thread, err := s.DB.LoadThread(id)
	if err != nil {
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"reign":  reign,
		"turns":  turns,
		"thread": thread,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps engine errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var verr *kingdom.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrInvalidPhase), errors.Is(err, engine.ErrGameOver):
		status = http.StatusConflict
	case errors.Is(err, council.ErrUnknownAdvisor):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrEmptyMessage):
		status = http.StatusBadRequest
	default:
		slog.Error("reign action failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
