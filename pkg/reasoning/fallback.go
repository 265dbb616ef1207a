package reasoning

import (
	"math/rand/v2"
	"sync"

	"crewsim/pkg/decision"
)

// FallbackThought is the rationale attached to every heuristic decision.
const FallbackThought = "I should continue my routine."

// WeightedAction is one row of the fallback table.
type WeightedAction struct {
	Action  decision.Action
	Weight  int
	Targets []string
}

// DefaultFallbackTable is used when the backend cannot produce a decision.
//
//nolint:gochecknoglobals // Fixed policy table
var DefaultFallbackTable = []WeightedAction{
	{Action: decision.ActionWork, Weight: 1, Targets: []string{"station systems", "research", "maintenance"}},
	{Action: decision.ActionRest, Weight: 1, Targets: []string{"self"}},
	{Action: decision.ActionMove, Weight: 1, Targets: []string{"Mess Hall", "Crew Quarters", "Rec Room", "Medical Bay"}},
}

// FallbackPolicy picks heuristic decisions from a weighted table. Safe for concurrent use.
type FallbackPolicy struct {
	mu    sync.Mutex
	rng   *rand.Rand
	table []WeightedAction
	total int
}

// NewFallbackPolicy builds a policy over table, or DefaultFallbackTable when table is empty.
// Rows with no weight or no targets are ignored.
func NewFallbackPolicy(rng *rand.Rand, table []WeightedAction) *FallbackPolicy {
	if rng == nil {
		rng = rand.New(rand.NewPCG(1, 2)) //nolint:gosec // Simulation randomness
	}
	if len(table) == 0 {
		table = DefaultFallbackTable
	}

	p := &FallbackPolicy{rng: rng}
	for _, row := range table {
		if row.Weight <= 0 || len(row.Targets) == 0 || !row.Action.Valid() {
			continue
		}
		p.table = append(p.table, row)
		p.total += row.Weight
	}
	if p.total == 0 {
		p.table = []WeightedAction{{Action: decision.ActionRest, Weight: 1, Targets: []string{"self"}}}
		p.total = 1
	}
	return p
}

// Decide returns a well-formed decision with a non-empty target.
func (p *FallbackPolicy) Decide() decision.Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.rng.IntN(p.total)
	row := p.table[len(p.table)-1]
	for _, r := range p.table {
		if n < r.Weight {
			row = r
			break
		}
		n -= r.Weight
	}

	return decision.Decision{
		Thought: FallbackThought,
		Action:  row.Action,
		Target:  row.Targets[p.rng.IntN(len(row.Targets))],
	}
}
