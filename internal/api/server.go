// Package api provides the HTTP surface for the territorial backend.
// GET endpoints are public (read-only observation). POST endpoints that
// mutate the ledger require a bearer token. Worker endpoints drain the
// procedural job queue.
// See design doc Section 8.4.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/frontline/internal/broadcast"
	"github.com/talgya/frontline/internal/ledger"
	"github.com/talgya/frontline/internal/observability"
	"github.com/talgya/frontline/internal/persistence"
	"github.com/talgya/frontline/internal/procgen"
	"github.com/talgya/frontline/internal/routing"
	"github.com/talgya/frontline/internal/territory"
)

// Server serves the territorial state over HTTP and websocket.
type Server struct {
	Ledger  *ledger.Ledger
	Routes  *routing.Engine
	Jobs    *procgen.Queue
	Hub     *broadcast.Hub
	DB      *persistence.DB
	Metrics *observability.Collector

	Addr       string
	AdminKey   string // Bearer token for mutating endpoints. Empty = disabled.
	ArchiveDir string

	started time.Time
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	routeLimiter := NewRateLimiter(600, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/territories", s.handleTerritories)
	mux.HandleFunc("/api/v1/territory/", s.handleTerritoryRoutes)
	mux.HandleFunc("/api/v1/factions", s.handleFactions)
	mux.HandleFunc("/api/v1/route", RateLimitMiddleware(routeLimiter, s.handleRoute))

	// Live state stream (websocket).
	mux.HandleFunc("/api/v1/subscribe", s.handleSubscribe)

	// Mutating endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/influence", s.adminOnly(s.handleInfluence))
	mux.HandleFunc("/api/v1/archive", s.adminOnly(s.handleArchive))

	// Worker pool contract.
	mux.HandleFunc("/api/v1/jobs/dequeue", s.handleDequeue)
	mux.HandleFunc("/api/v1/jobs/failed", s.handleFailedJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobAck)

	// Prometheus metrics.
	mux.Handle("/metrics", s.Metrics.Handler())

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	s.started = time.Now()
	slog.Info("HTTP API starting", "addr", s.Addr, "admin_auth", s.AdminKey != "")

	handler := s.Handler()
	go func() {
		if err := http.ListenAndServe(s.Addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of allowed origins.
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

// checkBearerToken returns true if the request carries the admin token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no FRONTLINE_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	high, standard := s.Jobs.Depths()
	historyCount, _ := s.DB.HistoryCount()

	// Per-faction territory totals from the current snapshots.
	held := make(map[string]int)
	factions := s.Ledger.Factions()
	for _, snap := range s.Ledger.Materializer().All() {
		if snap.Dominant == territory.FactionNone {
			continue
		}
		if f, ok := factions[snap.Dominant]; ok {
			held[f.Name]++
		}
	}

	writeJSON(w, map[string]any{
		"name":           "Frontline",
		"uptime":         humanize.Time(s.started),
		"territories":    len(s.Ledger.Definitions()),
		"contested":      s.Ledger.ContestedCount(),
		"deltas_applied": humanize.Comma(int64(s.Ledger.AppliedDeltas())),
		"history_rows":   humanize.Comma(historyCount),
		"subscribers":    s.Hub.SubscriberCount(),
		"route_cache":    s.Routes.CacheSize(),
		"jobs_high":      high,
		"jobs_standard":  standard,
		"held":           held,
	})
}

func (s *Server) handleTerritories(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		*territory.Territory
		Dominant  territory.FactionID `json:"dominant"`
		Contested bool                `json:"contested"`
		Version   uint64              `json:"version"`
	}

	defs := s.Ledger.Definitions()
	out := make([]entry, 0, len(defs))
	for id, def := range defs {
		e := entry{Territory: def}
		if snap, ok := s.Ledger.Materializer().Get(id); ok {
			e.Dominant = snap.Dominant
			e.Contested = snap.Contested
			e.Version = snap.Version
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	writeJSON(w, map[string]any{"territories": out})
}

// handleTerritoryRoutes dispatches /api/v1/territory/{id} and
// /api/v1/territory/{id}/history.
func (s *Server) handleTerritoryRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/territory/")
	parts := strings.Split(path, "/")

	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "bad territory id", http.StatusBadRequest)
		return
	}
	tid := territory.TerritoryID(id)

	if len(parts) > 1 && parts[1] == "history" {
		s.handleHistory(w, r, tid)
		return
	}

	snap, err := s.Ledger.GetTerritoryState(tid)
	if err != nil {
		writeError(w, err)
		return
	}
	def, _ := s.Ledger.Definition(tid)
	writeJSON(w, map[string]any{
		"territory": def,
		"state":     snap,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, id territory.TerritoryID) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := s.DB.History(id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"territory_id": id, "history": entries})
}

func (s *Server) handleFactions(w http.ResponseWriter, r *http.Request) {
	factions := s.Ledger.Factions()
	out := make([]*territory.Faction, 0, len(factions))
	for _, f := range factions {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, map[string]any{"factions": out})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	faction, err1 := strconv.ParseUint(q.Get("faction"), 10, 8)
	from, err2 := strconv.ParseUint(q.Get("from"), 10, 64)
	to, err3 := strconv.ParseUint(q.Get("to"), 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		http.Error(w, "faction, from, to query params required", http.StatusBadRequest)
		return
	}

	route, err := s.Routes.ComputeRoute(r.Context(),
		territory.FactionID(faction),
		territory.TerritoryID(from),
		territory.TerritoryID(to))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, route)
}

type influenceRequest struct {
	TerritoryID territory.TerritoryID `json:"territory_id"`
	FactionID   territory.FactionID   `json:"faction_id"`
	Delta       float64               `json:"delta"`
	Cause       string                `json:"cause"`
	ActorID     string                `json:"actor_id,omitempty"`
}

func (s *Server) handleInfluence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var req influenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	snap, err := s.Ledger.ApplyInfluenceDelta(req.TerritoryID, req.FactionID, req.Delta, req.Cause, req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	meta, err := s.DB.ArchiveHistory(s.ArchiveDir)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("history archived", "file", meta.File, "entries", meta.Entries, "events", meta.Events)
	writeJSON(w, meta)
}

// handleDequeue blocks for up to the wait parameter (default 30s) until
// a procedural job is available, then hands it to the worker.
func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	wait := 30 * time.Second
	if v := r.URL.Query().Get("wait"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 && d <= 2*time.Minute {
			wait = d
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	job, err := s.Jobs.Dequeue(ctx)
	if err != nil {
		// No job within the window; workers poll again.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, job)
}

// handleJobAck handles POST /api/v1/jobs/{id}/ack.
func (s *Server) handleJobAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "ack" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	jobID := parts[0]

	var body struct {
		Success bool   `json:"success"`
		Reason  string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	var err error
	if body.Success {
		err = s.Jobs.AckSuccess(jobID)
	} else {
		err = s.Jobs.AckFailure(jobID, body.Reason)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	recs, err := s.DB.FailedJobs(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"failed": recs})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, territory.ErrTerritoryNotFound),
		errors.Is(err, territory.ErrFactionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, territory.ErrValidation),
		errors.Is(err, territory.ErrNoRoute):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, territory.ErrRouteTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, fmt.Sprintf("internal error: %v", err), http.StatusInternalServerError)
	}
}
