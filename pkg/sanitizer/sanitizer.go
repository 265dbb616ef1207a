// Package sanitizer rewrites raw model decisions so every decision that reaches the world
// is well formed, addresses real crew members, and does not loop.
package sanitizer

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"crewsim/pkg/agent/middleware/metrics"
	"crewsim/pkg/decision"
	"crewsim/pkg/logx"
)

// DefaultHistorySize is how many recent decisions are kept per worker.
const DefaultHistorySize = 10

const (
	loopWindow      = 3
	loopThreshold   = 2
	monotonyWindow  = 4
	minFuzzyLength  = 3
	fallbackWork    = "station duties"
	loopBreakWork   = "regular duties"
	diversifiedWork = "station systems"
	restTarget      = "self"
)

// Rule names reported to metrics.
const (
	RuleInvalidAction = "invalid_action"
	RuleCheckToWork   = "check_to_work"
	RuleUnknownTarget = "unknown_target"
	RuleWorkOnPerson  = "work_on_person"
	RuleConversation  = "conversation_loop"
	RuleMonotony      = "monotony"
)

// DefaultMovePool is where diversified move decisions send a worker.
//
//nolint:gochecknoglobals // Fixed location pool
var DefaultMovePool = []string{"Mess Hall", "Rec Room", "Medical Bay", "Crew Quarters"}

// Roster supplies the canonical names of every crew member.
type Roster interface {
	Names() []string
}

// HistoryEntry is one sanitized decision remembered for loop detection.
type HistoryEntry struct {
	Action decision.Action
	Target string
}

// Config controls history length and diversification targets.
type Config struct {
	HistorySize int
	MovePool    []string
}

// Sanitizer applies the correction rules in a fixed order. Safe for concurrent use.
type Sanitizer struct {
	mu        sync.Mutex
	roster    Roster
	rng       *rand.Rand
	cfg       Config
	histories map[string][]HistoryEntry
	recorder  metrics.Recorder
	logger    *logx.Logger
}

// New creates a sanitizer. rng drives the monotony breaker and must not be shared
// with goroutines outside the sanitizer.
func New(roster Roster, rng *rand.Rand, cfg Config, recorder metrics.Recorder) *Sanitizer {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if len(cfg.MovePool) == 0 {
		cfg.MovePool = DefaultMovePool
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(1, 2)) //nolint:gosec // Simulation randomness
	}
	return &Sanitizer{
		roster:    roster,
		rng:       rng,
		cfg:       cfg,
		histories: make(map[string][]HistoryEntry),
		recorder:  recorder,
		logger:    logx.NewLogger("sanitizer"),
	}
}

// Fix returns a corrected copy of raw for the given worker and records it in the
// worker's history. It never fails.
func (s *Sanitizer) Fix(raw decision.Decision, worker decision.WorkerSnapshot) decision.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := raw
	var notes strings.Builder
	peers := s.peerNames(worker.Name)

	if !d.Action.Valid() {
		original := d.Action
		if original == "check" {
			d.Action = decision.ActionWork
			notes.WriteString(" (Corrected from check)")
			s.applied(worker, RuleCheckToWork)
		} else {
			d.Action = decision.ActionRest
			d.Target = restTarget
			fmt.Fprintf(&notes, " (Invalid action '%s' corrected)", original)
			s.applied(worker, RuleInvalidAction)
		}
	}

	if d.Action == decision.ActionTalk {
		if name, ok := resolve(d.Target, peers); ok {
			d.Target = name
		} else {
			fmt.Fprintf(&notes, " (Target '%s' not found, working instead)", d.Target)
			d.Action = decision.ActionWork
			d.Target = fallbackWork
			s.applied(worker, RuleUnknownTarget)
		}
	}

	if d.Action == decision.ActionWork {
		if name, ok := resolve(d.Target, peers); ok {
			d.Action = decision.ActionTalk
			d.Target = name
			notes.WriteString(" (Changed work-on-person to talk)")
			s.applied(worker, RuleWorkOnPerson)
		}
	}

	history := s.histories[worker.ID]

	if d.Action == decision.ActionTalk && s.inConversationLoop(history, d.Target) {
		d.Action = decision.ActionWork
		d.Target = loopBreakWork
		notes.WriteString(" (Breaking conversation loop - time to work)")
		s.applied(worker, RuleConversation)
	}

	if monotonous(history, d.Action) {
		original := d.Action
		d.Action, d.Target = s.diversify(original, worker, peers)
		fmt.Fprintf(&notes, " (Diversified from %s pattern)", original)
		s.applied(worker, RuleMonotony)
	}

	if d.Action != decision.ActionTalk {
		d.Dialogue = ""
	}
	if notes.Len() > 0 {
		d.Thought = strings.TrimSpace(d.Thought + notes.String())
	}

	history = append(history, HistoryEntry{Action: d.Action, Target: d.Target})
	if len(history) > s.cfg.HistorySize {
		history = history[len(history)-s.cfg.HistorySize:]
	}
	s.histories[worker.ID] = history

	return d
}

// History returns a copy of the worker's recent sanitized decisions, oldest first.
func (s *Sanitizer) History(workerID string) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.histories[workerID]))
	copy(out, s.histories[workerID])
	return out
}

func (s *Sanitizer) applied(worker decision.WorkerSnapshot, rule string) {
	s.recorder.IncCorrection(rule)
	s.logger.Debug("SANITIZE: %s rule applied for %s", rule, worker.Name)
}

func (s *Sanitizer) peerNames(self string) []string {
	if s.roster == nil {
		return nil
	}
	names := s.roster.Names()
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !strings.EqualFold(n, self) {
			out = append(out, n)
		}
	}
	return out
}

func (s *Sanitizer) inConversationLoop(history []HistoryEntry, target string) bool {
	count := 0
	for _, h := range tail(history, loopWindow) {
		if h.Action == decision.ActionTalk && fuzzyMatch(h.Target, target) {
			count++
		}
	}
	return count >= loopThreshold
}

func monotonous(history []HistoryEntry, action decision.Action) bool {
	if len(history) < monotonyWindow {
		return false
	}
	for _, h := range tail(history, monotonyWindow) {
		if h.Action != action {
			return false
		}
	}
	return true
}

// diversify picks a different action uniformly. Talk is only a candidate when
// some other crew member exists; co-located peers are preferred as targets.
func (s *Sanitizer) diversify(current decision.Action, worker decision.WorkerSnapshot, peers []string) (decision.Action, string) {
	candidates := make([]decision.Action, 0, len(decision.Actions))
	for _, a := range decision.Actions {
		if a == current {
			continue
		}
		if a == decision.ActionTalk && len(peers) == 0 {
			continue
		}
		candidates = append(candidates, a)
	}
	next := candidates[s.rng.IntN(len(candidates))]

	switch next {
	case decision.ActionMove:
		pool := make([]string, 0, len(s.cfg.MovePool))
		for _, loc := range s.cfg.MovePool {
			if loc != worker.Location {
				pool = append(pool, loc)
			}
		}
		if len(pool) == 0 {
			pool = s.cfg.MovePool
		}
		return next, pool[s.rng.IntN(len(pool))]
	case decision.ActionTalk:
		present := make([]string, 0, len(worker.Peers))
		for _, p := range worker.Peers {
			if name, ok := resolve(p, peers); ok {
				present = append(present, name)
			}
		}
		if len(present) == 0 {
			present = peers
		}
		return next, present[s.rng.IntN(len(present))]
	case decision.ActionWork:
		return next, diversifiedWork
	default:
		return decision.ActionRest, restTarget
	}
}

// resolve maps a possibly partial name onto a roster entry. Exact case-insensitive
// matches win over substring matches.
func resolve(target string, names []string) (string, bool) {
	t := strings.TrimSpace(target)
	if t == "" {
		return "", false
	}
	for _, n := range names {
		if strings.EqualFold(n, t) {
			return n, true
		}
	}
	for _, n := range names {
		if fuzzyMatch(t, n) {
			return n, true
		}
	}
	return "", false
}

func fuzzyMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if len(a) >= minFuzzyLength && strings.Contains(b, a) {
		return true
	}
	return len(b) >= minFuzzyLength && strings.Contains(a, b)
}

func tail(history []HistoryEntry, n int) []HistoryEntry {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
