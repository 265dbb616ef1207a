package world

import (
	"errors"
	"sort"
	"sync"
)

const (
	defaultEventImportance = 8
	snippetLength          = 100
)

// Sentinel errors for event triggers.
var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrEventAlreadyDone = errors.New("event already triggered")
)

// Event is a piece of news an operator can plant in one crew member's memory.
type Event struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Target      string `yaml:"target" json:"target"`
	TargetID    string `yaml:"-" json:"target_id"`
	Content     string `yaml:"content" json:"-"`
	Importance  int    `yaml:"importance" json:"importance"`
}

// EventStatus is an event plus whether it has fired.
type EventStatus struct {
	Event
	Triggered   bool  `json:"triggered"`
	TriggerStep int64 `json:"trigger_step,omitempty"`
}

// Propagation is one hop of news from one crew member to another. From is
// "SYSTEM" for the initial injection.
type Propagation struct {
	EventID string `json:"event_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Snippet string `json:"snippet"`
	Step    int64  `json:"step"`
}

// EventSpread is how far one event has travelled.
type EventSpread struct {
	EventID  string        `json:"event_id"`
	Informed []string      `json:"informed"`
	Chain    []Propagation `json:"chain"`
}

// SpreadSummary counts conversations and how many people know each event.
type SpreadSummary struct {
	Conversations int            `json:"conversations"`
	Events        map[string]int `json:"events"`
}

// eventBoard tracks which events fired and who has heard of them. A crew member
// who knows an event passes it on to anyone they talk to.
type eventBoard struct {
	mu            sync.Mutex
	events        []Event
	triggered     map[string]int64
	knowers       map[string]map[string]bool
	chain         []Propagation
	conversations int
}

func newEventBoard(events []Event) *eventBoard {
	b := &eventBoard{events: events}
	b.reset()
	return b
}

func (b *eventBoard) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// reset must be called with b.mu held or before b is shared.
func (b *eventBoard) reset() {
	b.triggered = make(map[string]int64)
	b.knowers = make(map[string]map[string]bool)
	b.chain = nil
	b.conversations = 0
}

func (b *eventBoard) list() []EventStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]EventStatus, len(b.events))
	for i, e := range b.events {
		step, ok := b.triggered[e.ID]
		out[i] = EventStatus{Event: e, Triggered: ok, TriggerStep: step}
	}
	return out
}

// fire marks id as triggered and returns it.
func (b *eventBoard) fire(id string, step int64) (Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e.ID != id {
			continue
		}
		if _, done := b.triggered[id]; done {
			return Event{}, ErrEventAlreadyDone
		}
		b.triggered[id] = step
		b.knowers[id] = map[string]bool{e.Target: true}
		b.chain = append(b.chain, Propagation{EventID: id, From: "SYSTEM", To: e.Target, Snippet: snippet(e.Content), Step: step})
		return e, nil
	}
	return Event{}, ErrUnknownEvent
}

// unfire rolls back a trigger whose memory could not be stored.
func (b *eventBoard) unfire(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.triggered, id)
	delete(b.knowers, id)
	for i := len(b.chain) - 1; i >= 0; i-- {
		if b.chain[i].EventID == id {
			b.chain = append(b.chain[:i], b.chain[i+1:]...)
		}
	}
}

// conversation records that from spoke to to and spreads every event from knows.
func (b *eventBoard) conversation(from, to, said string, step int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations++
	for _, e := range b.events {
		known := b.knowers[e.ID]
		if !known[from] || known[to] {
			continue
		}
		known[to] = true
		b.chain = append(b.chain, Propagation{EventID: e.ID, From: from, To: to, Snippet: snippet(said), Step: step})
	}
}

func (b *eventBoard) spread(id string) (EventSpread, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	known, ok := b.knowers[id]
	if !ok {
		return EventSpread{}, false
	}
	s := EventSpread{EventID: id, Informed: make([]string, 0, len(known)), Chain: []Propagation{}}
	for name := range known {
		s.Informed = append(s.Informed, name)
	}
	sort.Strings(s.Informed)
	for _, p := range b.chain {
		if p.EventID == id {
			s.Chain = append(s.Chain, p)
		}
	}
	return s, true
}

func (b *eventBoard) summary() SpreadSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := SpreadSummary{Conversations: b.conversations, Events: make(map[string]int, len(b.knowers))}
	for id, known := range b.knowers {
		s.Events[id] = len(known)
	}
	return s
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= snippetLength {
		return s
	}
	return string(r[:snippetLength])
}
