// Package cache holds recent decisions so a worker can reuse one for a few ticks
// instead of asking the reasoning backend again.
package cache

import (
	"sync"

	"crewsim/pkg/agent/middleware/metrics"
	"crewsim/pkg/decision"
)

// DefaultDuration is the number of ticks a decision stays fresh.
const DefaultDuration = 3

type entry struct {
	decision decision.Decision
	step     int64
}

// DecisionCache maps a worker to its last decision and the step it was made at.
// An entry is a hit while currentStep-createdAt < duration.
type DecisionCache struct {
	mu       sync.Mutex
	duration int64
	entries  map[string]entry
	recorder metrics.Recorder
}

// New creates a cache. A duration below 1 disables caching.
func New(duration int, recorder metrics.Recorder) *DecisionCache {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &DecisionCache{
		duration: int64(duration),
		entries:  make(map[string]entry),
		recorder: recorder,
	}
}

// Get returns the cached decision for workerID if it is still fresh at currentStep.
// Stale entries are evicted.
func (c *DecisionCache) Get(workerID string, currentStep int64) (decision.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[workerID]
	if ok && currentStep-e.step >= c.duration {
		delete(c.entries, workerID)
		ok = false
	}
	c.recorder.IncCacheLookup(ok)
	if !ok {
		return decision.Decision{}, false
	}
	return e.decision, true
}

// Put stores d as workerID's decision made at step.
func (c *DecisionCache) Put(workerID string, d decision.Decision, step int64) {
	if c.duration < 1 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[workerID] = entry{decision: d, step: step}
}

// Invalidate drops workerID's entry.
func (c *DecisionCache) Invalidate(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, workerID)
}

// Len returns the number of entries, fresh or not.
func (c *DecisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
