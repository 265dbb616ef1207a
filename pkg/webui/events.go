package webui

import (
	"errors"
	"net/http"

	"crewsim/pkg/scheduler"
	"crewsim/pkg/world"
)

const defaultMemoryLimit = 20

// MemoriesResponse is returned by GET /api/agents/{name}/memories.
type MemoriesResponse struct {
	Agent    string         `json:"agent"`
	WorkerID string         `json:"worker_id"`
	Memories []world.Memory `json:"memories"`
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, defaultMemoryLimit)
	if !ok {
		return
	}
	member, memories, err := s.deps.Station.RecentMemories(r.Context(), r.PathValue("name"), limit)
	switch {
	case errors.Is(err, world.ErrUnknownWorker):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error("Failed to read memories: %v", err)
		http.Error(w, "Failed to read memories", http.StatusInternalServerError)
		return
	}
	if memories == nil {
		memories = []world.Memory{}
	}
	s.writeJSON(w, http.StatusOK, MemoriesResponse{Agent: member.Name, WorkerID: member.ID, Memories: memories})
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"events": s.deps.Station.Events()})
}

// handleTriggerEvent plants the event at the current step and tells observers. The
// target's cached decision is dropped so it reacts on its next turn.
func (s *Server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Station.TriggerEvent(r.Context(), r.PathValue("id"), s.deps.Simulation.Step())
	switch {
	case errors.Is(err, world.ErrUnknownEvent):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, world.ErrEventAlreadyDone):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.logger.Error("Failed to trigger event: %v", err)
		http.Error(w, "Failed to trigger event", http.StatusInternalServerError)
		return
	}
	s.deps.Simulation.Invalidate(status.TargetID)
	s.deps.Hub.Broadcast(scheduler.Event{Type: scheduler.EventTriggered, Data: status})
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleResetEvents(w http.ResponseWriter, _ *http.Request) {
	s.deps.Station.ResetEvents()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Station.SpreadSummary())
}

func (s *Server) handleEventSpread(w http.ResponseWriter, r *http.Request) {
	spread, ok := s.deps.Station.EventSpread(r.PathValue("id"))
	if !ok {
		http.Error(w, "event not triggered", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, spread)
}
