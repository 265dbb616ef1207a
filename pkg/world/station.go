package world

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"crewsim/pkg/decision"
	"crewsim/pkg/logx"
)

// Energy bounds and per-action deltas.
const (
	MaxEnergy   = 100
	WorkCost    = 5
	RestGain    = 15
	startEnergy = 80
)

// ErrUnknownWorker is returned for an ID or name not on the roster.
var ErrUnknownWorker = errors.New("unknown worker")

// Memory importance by source.
const (
	importanceConversation = 6
	importanceAction       = 3
)

// Worker is the mutable state of one crew member.
type Worker struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Location string `json:"location"`
	Energy   int    `json:"energy"`
	Activity string `json:"activity"`
}

// Station owns every worker's state and applies decisions to it.
type Station struct {
	mu       sync.RWMutex
	roster   *Roster
	workers  map[string]*Worker
	memories MemoryStore
	events   *eventBoard
	clock    *Clock
	logger   *logx.Logger

	maxMemories int
}

// NewStation places every roster member at their starting location.
func NewStation(roster *Roster, memories MemoryStore, clock *Clock) *Station {
	if memories == nil {
		memories = NewInMemoryStore()
	}
	if clock == nil {
		clock = &Clock{}
	}
	s := &Station{
		roster:      roster,
		workers:     make(map[string]*Worker, len(roster.Crew)),
		memories:    memories,
		events:      newEventBoard(resolveTargets(roster, roster.Events)),
		clock:       clock,
		logger:      logx.NewLogger("station"),
		maxMemories: 5,
	}
	for _, m := range roster.Crew {
		s.workers[m.ID] = &Worker{
			ID:       m.ID,
			Name:     m.Name,
			Role:     m.Role,
			Location: m.Start,
			Energy:   startEnergy,
			Activity: "Starting the day",
		}
	}
	return s
}

// Roster returns the crew roster.
func (s *Station) Roster() *Roster { return s.roster }

// Clock returns the simulation clock.
func (s *Station) Clock() *Clock { return s.clock }

// Memories returns the memory store.
func (s *Station) Memories() MemoryStore { return s.memories }

// IDs returns worker IDs in roster order.
func (s *Station) IDs() []string {
	ids := make([]string, len(s.roster.Crew))
	for i, m := range s.roster.Crew {
		ids[i] = m.ID
	}
	return ids
}

// Workers returns a copy of every worker in roster order.
func (s *Station) Workers() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Worker, 0, len(s.workers))
	for _, m := range s.roster.Crew {
		out = append(out, *s.workers[m.ID])
	}
	return out
}

// Worker returns a copy of one worker.
func (s *Station) Worker(id string) (Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return Worker{}, false
	}
	return *w, true
}

// Perceive builds the snapshot and context a worker decides from.
func (s *Station) Perceive(ctx context.Context, id string) (decision.WorkerSnapshot, decision.Context, error) {
	w, ok := s.Worker(id)
	if !ok {
		return decision.WorkerSnapshot{}, decision.Context{}, fmt.Errorf("%w: %q", ErrUnknownWorker, id)
	}
	member, _ := s.roster.Member(id)
	task := s.scheduledTask(member)

	query := task
	if query == "" {
		query = w.Location
	}
	memories, err := s.memories.Retrieve(ctx, id, query, s.maxMemories)
	if err != nil {
		return decision.WorkerSnapshot{}, decision.Context{}, fmt.Errorf("failed to retrieve memories for %s: %w", w.Name, err)
	}

	var peers, observations []string
	for _, other := range s.Workers() {
		if other.ID == id || other.Location != w.Location {
			continue
		}
		peers = append(peers, other.Name)
		observations = append(observations, fmt.Sprintf("Saw %s (%s) at %s, %s", other.Name, other.Role, other.Location, strings.ToLower(other.Activity)))
	}

	snapshot := decision.WorkerSnapshot{
		ID:             w.ID,
		Name:           w.Name,
		Role:           w.Role,
		Location:       w.Location,
		Energy:         w.Energy,
		Activity:       w.Activity,
		RecentMemories: Contents(memories),
		Peers:          peers,
		ScheduledTask:  task,
		Priority:       priorityNews(memories),
	}
	dctx := decision.Context{
		Time:         s.clock.String(),
		Observations: observations,
		Locations:    s.roster.Locations,
	}
	if w.Energy < 20 {
		dctx.Situation = "You are exhausted."
	}
	return snapshot, dctx, nil
}

// scheduledTask is the member's duty during working hours and lunch at midday.
func (s *Station) scheduledTask(m Member) string {
	switch h := s.clock.Hour(); {
	case h == 12:
		return "lunch at the Mess Hall"
	case h >= 8 && h < 17:
		return m.Duty
	default:
		return ""
	}
}

// Apply executes a sanitized decision and returns a human-readable outcome.
func (s *Station) Apply(ctx context.Context, id string, d decision.Decision, step int64) (string, error) {
	s.mu.Lock()
	w, ok := s.workers[id]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrUnknownWorker, id)
	}

	var outcome string
	var talkedTo *Worker
	switch d.Action {
	case decision.ActionMove:
		outcome = s.move(w, d.Target)
	case decision.ActionTalk:
		outcome, talkedTo = s.talk(w, d)
	case decision.ActionWork:
		task := d.Target
		if task == "" {
			task = "station duties"
		}
		w.Energy = max(0, w.Energy-WorkCost)
		w.Activity = "Working on " + task
		outcome = w.Activity
	default:
		s.rest(w)
		outcome = w.Activity
	}
	name := w.Name
	var targetID, targetName string
	if talkedTo != nil {
		targetID, targetName = talkedTo.ID, talkedTo.Name
	}
	s.mu.Unlock()

	if targetID != "" {
		said := d.Dialogue
		if said == "" {
			said = "(small talk)"
		}
		s.events.conversation(name, targetName, said, step)
		// The conversation already happened; a lost memory must not undo it.
		if err := s.memories.Add(ctx, NewMemory(targetID, KindConversation, fmt.Sprintf("%s said: %s", name, said), importanceConversation, step)); err != nil {
			s.logger.Warn("Failed to store conversation memory for %s: %v", targetName, err)
		}
		if err := s.memories.Add(ctx, NewMemory(id, KindConversation, fmt.Sprintf("You said to %s: %s", targetName, said), importanceConversation, step)); err != nil {
			s.logger.Warn("Failed to store conversation memory for %s: %v", name, err)
		}
	}
	return outcome, nil
}

// RecentMemories returns a crew member's newest memories, looked up by name or ID.
func (s *Station) RecentMemories(ctx context.Context, name string, limit int) (Member, []Memory, error) {
	m, ok := s.roster.MemberByName(name)
	if !ok {
		return Member{}, nil, fmt.Errorf("%w: %q", ErrUnknownWorker, name)
	}
	memories, err := s.memories.Recent(ctx, m.ID, limit)
	if err != nil {
		return Member{}, nil, fmt.Errorf("failed to read memories for %s: %w", m.Name, err)
	}
	return m, memories, nil
}

// Events lists the injectable events in roster order.
func (s *Station) Events() []EventStatus {
	return s.events.list()
}

// TriggerEvent plants an event's news in its target's memory. Each event fires once
// until ResetEvents.
func (s *Station) TriggerEvent(ctx context.Context, id string, step int64) (EventStatus, error) {
	e, err := s.events.fire(id, step)
	if err != nil {
		return EventStatus{}, err
	}
	if err := s.memories.Add(ctx, NewMemory(e.TargetID, KindEvent, e.Content, e.Importance, step)); err != nil {
		s.events.unfire(id)
		return EventStatus{}, fmt.Errorf("failed to store event for %s: %w", e.Target, err)
	}
	s.logger.Info("Event %s triggered for %s", e.ID, e.Target)
	return EventStatus{Event: e, Triggered: true, TriggerStep: step}, nil
}

// ResetEvents re-arms every event and forgets how news spread. Planted memories stay.
func (s *Station) ResetEvents() {
	s.events.clear()
}

// EventSpread reports who has heard of a triggered event and through whom.
func (s *Station) EventSpread(id string) (EventSpread, bool) {
	return s.events.spread(id)
}

// SpreadSummary counts conversations and informed crew per triggered event.
func (s *Station) SpreadSummary() SpreadSummary {
	return s.events.summary()
}

// resolveTargets fills in TargetID for rosters built without LoadRoster.
func resolveTargets(roster *Roster, events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		if e.TargetID == "" {
			if m, ok := roster.MemberByName(e.Target); ok {
				e.TargetID = m.ID
			}
		}
		out[i] = e
	}
	return out
}

// priorityNews returns the most relevant planted event among retrieved memories.
func priorityNews(memories []Memory) string {
	for _, m := range memories {
		if m.Kind == KindEvent {
			return m.Content
		}
	}
	return ""
}

// Remember stores an observation for a worker.
func (s *Station) Remember(ctx context.Context, id, content string, step int64) error {
	return s.memories.Add(ctx, NewMemory(id, KindObservation, content, importanceAction, step))
}

func (s *Station) move(w *Worker, target string) string {
	loc := s.roster.CanonicalLocation(target)
	switch {
	case loc == "":
		return fmt.Sprintf("Stayed at %s (unknown location '%s')", w.Location, target)
	case loc == w.Location:
		return "Already at " + loc
	default:
		s.logger.Debug("%s moves %s -> %s", w.Name, w.Location, loc)
		w.Location = loc
		w.Activity = "Moving to " + loc
		return "Moved to " + loc
	}
}

// talk must be called with s.mu held. It returns the worker spoken to, if any.
func (s *Station) talk(w *Worker, d decision.Decision) (string, *Worker) {
	var target *Worker
	for _, other := range s.workers {
		if other.ID != w.ID && strings.EqualFold(other.Name, d.Target) {
			target = other
			break
		}
	}
	switch {
	case target == nil:
		s.rest(w)
		return fmt.Sprintf("Could not find '%s', rested instead", d.Target), nil
	case target.Location != w.Location:
		w.Location = target.Location
		w.Activity = "Looking for " + target.Name
		return w.Activity, nil
	default:
		w.Activity = "Talking with " + target.Name
		target.Activity = "Talking with " + w.Name
		return fmt.Sprintf("Talked with %s", target.Name), target
	}
}

func (s *Station) rest(w *Worker) {
	w.Energy = min(MaxEnergy, w.Energy+RestGain)
	w.Activity = "Resting"
}
