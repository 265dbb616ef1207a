// Package webui serves the simulation's control API, live event stream and metrics.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crewsim/pkg/agent/middleware/resilience/circuit"
	"crewsim/pkg/agent/middleware/resilience/ratelimit"
	"crewsim/pkg/logx"
	"crewsim/pkg/scheduler"
	"crewsim/pkg/version"
	"crewsim/pkg/world"
)

const defaultJournalLimit = 50

// Simulation is the scheduler surface the API controls.
type Simulation interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
	Step() int64
	Interval() time.Duration
	SetInterval(d time.Duration) time.Duration
	Tick(ctx context.Context) scheduler.TickReport
	Activity() []scheduler.Entry
	SessionID() string
	Invalidate(workerID string)
	CachedDecisions() int
}

// Station exposes the crew's current state, memories and injectable events.
type Station interface {
	Workers() []world.Worker
	Clock() *world.Clock
	RecentMemories(ctx context.Context, name string, limit int) (world.Member, []world.Memory, error)
	Events() []world.EventStatus
	TriggerEvent(ctx context.Context, id string, step int64) (world.EventStatus, error)
	ResetEvents()
	EventSpread(id string) (world.EventSpread, bool)
	SpreadSummary() world.SpreadSummary
}

// RateLimitStats reports admission-control counters.
type RateLimitStats interface {
	GetStats() ratelimit.LimiterStats
}

// CircuitStats reports the circuit breaker's position and counters and lets an
// operator close it by hand.
type CircuitStats interface {
	Stats() circuit.Stats
	Reset()
}

// JournalReader serves journal history beyond the in-memory activity log.
type JournalReader interface {
	Journal(ctx context.Context, sessionID string, limit int) ([]scheduler.Entry, error)
}

// Deps are the server's collaborators. Limiter, Circuit, Journal and Gatherer are optional.
type Deps struct {
	Simulation Simulation
	Station    Station
	Hub        *Hub
	Limiter    RateLimitStats
	Circuit    CircuitStats
	Journal    JournalReader
	Gatherer   prometheus.Gatherer
}

// Server represents the web UI HTTP server.
type Server struct {
	deps   Deps
	runCtx context.Context //nolint:containedctx // The live loop must outlive the request that starts it
	logger *logx.Logger
}

// StateResponse is returned by GET /api/state.
type StateResponse struct {
	SessionID       string         `json:"session_id"`
	Step            int64          `json:"step"`
	SimTime         string         `json:"sim_time"`
	Running         bool           `json:"running"`
	IntervalSeconds float64        `json:"interval_seconds"`
	Observers       int            `json:"observers"`
	CachedDecisions int            `json:"cached_decisions"`
	Workers         []world.Worker `json:"workers"`
}

// SpeedRequest is the body of POST /api/simulation/speed.
type SpeedRequest struct {
	Seconds float64 `json:"seconds"`
}

// NewServer creates the server. runCtx bounds any live loop started through the API.
func NewServer(runCtx context.Context, deps Deps) *Server {
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps, runCtx: runCtx, logger: logx.NewLogger("webui")}
}

// Hub returns the broadcast hub the scheduler should publish to.
func (s *Server) Hub() *Hub {
	return s.deps.Hub
}

// RegisterRoutes sets up HTTP routes for the API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/healthz", s.handleHealth)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/journal", s.handleJournal)
	mux.HandleFunc("GET /api/ratelimit", s.handleRateLimit)
	mux.HandleFunc("GET /api/circuit", s.handleCircuit)
	mux.HandleFunc("POST /api/circuit/reset", s.handleCircuitReset)
	mux.HandleFunc("GET /api/agents/{name}/memories", s.handleMemories)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/events/{id}/trigger", s.handleTriggerEvent)
	mux.HandleFunc("POST /api/events/reset", s.handleResetEvents)
	mux.HandleFunc("GET /api/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /api/analytics/events/{id}", s.handleEventSpread)
	mux.HandleFunc("POST /api/simulation/start", s.handleStart)
	mux.HandleFunc("POST /api/simulation/stop", s.handleStop)
	mux.HandleFunc("POST /api/simulation/pause", s.handleStop)
	mux.HandleFunc("POST /api/simulation/speed", s.handleSpeed)
	mux.HandleFunc("POST /api/simulation/step", s.handleStep)
	mux.HandleFunc("GET /ws", s.deps.Hub.ServeWS)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// StartServer listens on addr in the background and shuts down gracefully when ctx ends.
// The returned channel is closed once the listener has stopped.
func (s *Server) StartServer(ctx context.Context, addr string) <-chan struct{} {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})

	s.logger.Info("Starting web UI server on %s (HTTP)", addr)
	go func() {
		defer close(done)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down web UI server")
		s.deps.Hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		//nolint:contextcheck // Parent context is cancelled; we need a fresh context for shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown failed: %v", err)
		}
	}()

	return done
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	sim := s.deps.Simulation
	s.writeJSON(w, http.StatusOK, StateResponse{
		SessionID:       sim.SessionID(),
		Step:            sim.Step(),
		SimTime:         s.deps.Station.Clock().String(),
		Running:         sim.Running(),
		IntervalSeconds: sim.Interval().Seconds(),
		Observers:       s.deps.Hub.Subscribers(),
		CachedDecisions: sim.CachedDecisions(),
		Workers:         s.deps.Station.Workers(),
	})
}

// handleJournal implements GET /api/journal?limit=N. Requests beyond the in-memory
// activity log are served from the journal store when one is configured.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, defaultJournalLimit)
	if !ok {
		return
	}

	if limit > defaultJournalLimit && s.deps.Journal != nil {
		entries, err := s.deps.Journal.Journal(r.Context(), s.deps.Simulation.SessionID(), limit)
		if err != nil {
			s.logger.Error("Failed to read journal: %v", err)
			http.Error(w, "Failed to read journal", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, nonNil(entries))
		return
	}

	activity := s.deps.Simulation.Activity()
	if len(activity) > limit {
		activity = activity[len(activity)-limit:]
	}
	s.writeJSON(w, http.StatusOK, nonNil(activity))
}

func (s *Server) handleRateLimit(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Limiter == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"stats":   s.deps.Limiter.GetStats(),
	})
}

func (s *Server) handleCircuit(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Circuit == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"stats":   s.deps.Circuit.Stats(),
	})
}

func (s *Server) handleCircuitReset(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Circuit == nil {
		http.Error(w, "circuit breaker disabled", http.StatusNotFound)
		return
	}
	s.deps.Circuit.Reset()
	s.logger.Info("Circuit breaker reset by operator")
	s.writeJSON(w, http.StatusOK, s.deps.Circuit.Stats())
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Simulation.Start(s.runCtx); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Simulation.Stop(r.Context()); err != nil {
		if errors.Is(err, scheduler.ErrNotRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"running": false, "step": s.deps.Simulation.Step()})
}

// handleSpeed sets seconds between ticks, clamped to the scheduler's bounds.
func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req SpeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Seconds <= 0 {
		http.Error(w, "seconds must be positive", http.StatusBadRequest)
		return
	}
	applied := s.deps.Simulation.SetInterval(time.Duration(req.Seconds * float64(time.Second)))
	s.writeJSON(w, http.StatusOK, SpeedRequest{Seconds: applied.Seconds()})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Simulation.Tick(r.Context())
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

// queryLimit reads ?limit=N, writing a 400 and returning false when it is not a
// positive integer.
func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func nonNil(entries []scheduler.Entry) []scheduler.Entry {
	if entries == nil {
		return []scheduler.Entry{}
	}
	return entries
}
