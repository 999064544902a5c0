// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/engine"
	"github.com/talgya/daysim/internal/interval"
	"github.com/talgya/daysim/internal/mobility"
	"github.com/talgya/daysim/internal/persistence"
	"github.com/talgya/daysim/internal/schedule"
)

// Server serves the simulation state over HTTP.
type Server struct {
	Sim       *engine.Simulation
	Eng       *engine.Engine
	DB        *persistence.DB // Optional
	Addr      string
	AdminKey  string // Bearer token for POST endpoints. Empty = POST disabled.
	StreamKey string // Bearer token for the websocket stream. Empty = open.

	hub     *Hub
	limiter *RateLimiter
	srv     *http.Server
}

// NewServer returns a server for sim and subscribes its stream hub.
func NewServer(sim *engine.Simulation, eng *engine.Engine, db *persistence.DB, addr string) *Server {
	s := &Server{
		Sim:     sim,
		Eng:     eng,
		DB:      db,
		Addr:    addr,
		hub:     NewHub(),
		limiter: NewRateLimiter(60, time.Minute),
	}
	sim.Subscribe(s.hub)
	return s
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgentRoutes)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	slog.Info("HTTP API starting", "addr", ln.Addr().String(), "admin_auth", s.AdminKey != "", "stream_auth", s.StreamKey != "")

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Shutdown disconnects stream clients and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	s.limiter.Stop()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
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

func hasBearer(r *http.Request, key string) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == key
}

// adminOnly wraps a handler to require bearer token auth on POST requests
// and rate limits them. GET requests pass through.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	limited := s.limiter.Limit(next)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next(w, r)
			return
		}
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no DAYSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !hasBearer(r, s.AdminKey) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		limited(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Sim.Status()
	writeJSON(w, map[string]any{
		"name":     "daysim",
		"run_id":   st.RunID,
		"time":     st.Time,
		"sim_time": st.SimTime,
		"day":      st.Day,
		"agents":   st.Agents,
		"speed":    s.Eng.Speed(),
		"running":  s.Eng.Running(),
		"stats":    st.Stats,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Status().Stats)
}

// handleAgents lists agents; ?alive=true|false filters.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	all := s.Sim.Summaries()
	alive := r.URL.Query().Get("alive")
	if alive == "" {
		writeJSON(w, all)
		return
	}
	want := alive == "true"
	result := make([]engine.AgentSummary, 0, len(all))
	for _, a := range all {
		if a.Alive == want {
			result = append(result, a)
		}
	}
	writeJSON(w, result)
}

// handleAgentRoutes dispatches /api/v1/agent/:id[/schedule|/cancel|/health].
func (s *Server) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 4 {
		http.Error(w, "missing agent id", http.StatusBadRequest)
		return
	}
	n, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	id := agents.AgentID(n)

	action := ""
	if len(parts) >= 5 {
		action = parts[4]
	}
	switch action {
	case "":
		sum, err := s.Sim.Summary(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, sum)
	case "schedule":
		s.handleSchedule(w, r, id)
	case "cancel":
		s.adminOnly(func(w http.ResponseWriter, r *http.Request) { s.handleCancel(w, r, id) })(w, r)
	case "health":
		s.adminOnly(func(w http.ResponseWriter, r *http.Request) { s.handleHealth(w, r, id) })(w, r)
	default:
		http.NotFound(w, r)
	}
}

// handleSchedule returns one day of an agent's schedule, ?day=N counted
// from the start with -1 for the initial sleep. Without a day the current
// one is returned. ?kind= keeps only activities of that kind.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request, id agents.AgentID) {
	day := s.Sim.Status().Day
	if v := r.URL.Query().Get("day"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < -1 {
			http.Error(w, "invalid day", http.StatusBadRequest)
			return
		}
		day = d
	}
	var kind *schedule.Kind
	if v := r.URL.Query().Get("kind"); v != "" {
		k, err := schedule.ParseKind(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kind = &k
	}
	acts, err := s.Sim.Schedule(id, day)
	if err != nil {
		writeError(w, err)
		return
	}
	if kind != nil {
		acts = slices.DeleteFunc(acts, func(a engine.ActivityRecord) bool { return a.Kind != kind.String() })
	}
	writeJSON(w, map[string]any{"agent": id, "day": day, "activities": acts})
}

// handleCancel cancels the future activity covering "at" and sends the
// agent home for it.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, id agents.AgentID) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		At time.Time `json:"at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.At.IsZero() {
		http.Error(w, "invalid json: need RFC 3339 \"at\"", http.StatusBadRequest)
		return
	}
	rec, err := s.Sim.CancelActivity(id, req.At)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("activity cancelled", "agent", id, "activity", rec.Label, "start", rec.Start)
	writeJSON(w, rec)
}

// healthUpdate carries the fields of agents.Health to change. Absent
// fields are left alone.
type healthUpdate struct {
	InfectedAt       *time.Time `json:"infected_at"`
	SymptomsAt       *time.Time `json:"symptoms_at"`
	Severity         *string    `json:"severity"`
	TestPositive     *bool      `json:"test_positive"`
	Quarantined      *bool      `json:"quarantined"`
	QuarantineReason *string    `json:"quarantine_reason"`
	Recovered        *bool      `json:"recovered"`
	NeverRecovers    *bool      `json:"never_recovers"`
}

func parseSeverity(name string) (agents.Severity, error) {
	for s := agents.SeverityNone; s <= agents.SeveritySevere; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

func (u healthUpdate) apply(h *agents.Health, sev agents.Severity) {
	if u.InfectedAt != nil {
		h.InfectedAt = *u.InfectedAt
	}
	if u.SymptomsAt != nil {
		h.SymptomsAt = *u.SymptomsAt
	}
	if u.Severity != nil {
		h.Severity = sev
	}
	if u.TestPositive != nil {
		h.TestPositive = *u.TestPositive
	}
	if u.Quarantined != nil {
		h.Quarantined = *u.Quarantined
	}
	if u.QuarantineReason != nil {
		h.QuarantineReason = *u.QuarantineReason
	}
	if u.Recovered != nil {
		h.Recovered = *u.Recovered
	}
	if u.NeverRecovers != nil {
		h.NeverRecovers = *u.NeverRecovers
	}
}

// handleHealth applies an external health update. The planner reacts when
// the agent's next activity starts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, id agents.AgentID) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req healthUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	var sev agents.Severity
	if req.Severity != nil {
		var err error
		if sev, err = parseSeverity(*req.Severity); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := s.Sim.UpdateHealth(id, func(h *agents.Health) { req.apply(h, sev) }); err != nil {
		writeError(w, err)
		return
	}
	sum, err := s.Sim.Summary(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sum)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events := s.Sim.RecentEvents(0)

	// Optional category filter.
	if cat := r.URL.Query().Get("category"); cat != "" {
		var filtered []engine.Event
		for _, e := range events {
			if e.Category == cat {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	writeJSON(w, events[start:])
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1e6 {
			http.Error(w, "speed must be 0-1000000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	if err := s.DB.SaveRunState(s.Sim); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"sim_time": s.Sim.SimTime(),
		"message":  "snapshot saved",
	})
}

// writeError maps simulation errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownAgent):
		http.Error(w, "agent not found", http.StatusNotFound)
	case errors.Is(err, mobility.ErrNoSuchDay), errors.Is(err, interval.ErrKeyNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, mobility.ErrNotEditable):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
