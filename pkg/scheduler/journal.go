package scheduler

import (
	"time"

	"crewsim/pkg/world"
)

// Event types sent to the broadcaster.
const (
	EventAgentAction = "agent_action"
	EventStateUpdate = "state_update"
	EventTriggered   = "event_triggered"
)

// Entry is one worker's turn as recorded in the journal.
type Entry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Step       int64     `json:"step"`
	WorkerID   string    `json:"worker_id"`
	WorkerName string    `json:"worker_name"`
	Action     string    `json:"action"`
	Target     string    `json:"target,omitempty"`
	Thought    string    `json:"thought,omitempty"`
	Dialogue   string    `json:"dialogue,omitempty"`
	Outcome    string    `json:"outcome"`
	Cached     bool      `json:"cached"`
	Fallback   bool      `json:"fallback"`
	SimTime    string    `json:"sim_time"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is a broadcast message. Data is an Entry, a StateUpdate or a triggered
// world.EventStatus.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StateUpdate is the station state after a tick.
type StateUpdate struct {
	Step    int64          `json:"step"`
	SimTime string         `json:"sim_time"`
	Workers []world.Worker `json:"workers"`
}

// WorkerFailure records a worker that could not complete its turn.
type WorkerFailure struct {
	WorkerID string `json:"worker_id"`
	Error    string `json:"error"`
}

// TickReport summarises one tick.
type TickReport struct {
	Step      int64           `json:"step"`
	SimTime   string          `json:"sim_time"`
	Workers   []string        `json:"workers"`
	Entries   []Entry         `json:"entries"`
	Failures  []WorkerFailure `json:"failures,omitempty"`
	CacheHits int             `json:"cache_hits"`
	Fallbacks int             `json:"fallbacks"`
	Duration  time.Duration   `json:"duration"`
}
