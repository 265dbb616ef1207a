// Package scheduler advances the simulation one tick at a time, asking a bounded
// round-robin batch of workers for their next action on each tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"crewsim/pkg/agent/middleware/metrics"
	"crewsim/pkg/cache"
	"crewsim/pkg/decision"
	"crewsim/pkg/logx"
	"crewsim/pkg/reasoning"
	"crewsim/pkg/world"
)

// Interval bounds for the live loop.
const (
	MinInterval = 250 * time.Millisecond
	MaxInterval = 5 * time.Second

	activityLogSize = 50
)

// Sentinel errors for loop control.
var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
)

// Reasoner produces a decision for a worker. It must not fail.
type Reasoner interface {
	Decide(ctx context.Context, w decision.WorkerSnapshot, c decision.Context) reasoning.Result
}

// World is the station the scheduler drives.
type World interface {
	IDs() []string
	Workers() []world.Worker
	Perceive(ctx context.Context, id string) (decision.WorkerSnapshot, decision.Context, error)
	Apply(ctx context.Context, id string, d decision.Decision, step int64) (string, error)
	Remember(ctx context.Context, id, content string, step int64) error
	Clock() *world.Clock
}

// Sink persists journal entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// Broadcaster fans events out to live observers.
type Broadcaster interface {
	Broadcast(e Event)
}

// Config controls batch size, caching and pacing.
type Config struct {
	SessionID         string
	WorkersPerTick    int
	CacheDuration     int
	TickInterval      time.Duration
	SimMinutesPerTick int
}

// Deps are the scheduler's collaborators. Sinks and Broadcaster are optional.
type Deps struct {
	World       World
	Reasoner    Reasoner
	Sinks       []Sink
	Broadcaster Broadcaster
	Recorder    metrics.Recorder
}

// Scheduler is the step loop. Ticks never overlap.
type Scheduler struct {
	cfg         Config
	world       World
	reasoner    Reasoner
	cache       *cache.DecisionCache
	sinks       []Sink
	broadcaster Broadcaster
	recorder    metrics.Recorder
	logger      *logx.Logger

	tickMu sync.Mutex

	mu       sync.Mutex
	step     int64
	interval time.Duration
	running  bool
	stop     chan struct{}
	done     chan struct{}
	activity []Entry
}

// New creates a stopped scheduler.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.WorkersPerTick <= 0 {
		cfg.WorkersPerTick = 2
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop()
	}
	return &Scheduler{
		cfg:         cfg,
		world:       deps.World,
		reasoner:    deps.Reasoner,
		cache:       cache.New(cfg.CacheDuration, deps.Recorder),
		sinks:       deps.Sinks,
		broadcaster: deps.Broadcaster,
		recorder:    deps.Recorder,
		logger:      logx.NewLogger("scheduler"),
		interval:    clampInterval(cfg.TickInterval),
	}
}

// SessionID identifies this run in the journal.
func (s *Scheduler) SessionID() string { return s.cfg.SessionID }

// Step returns the number of ticks taken so far.
func (s *Scheduler) Step() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Running reports whether the live loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval returns the live loop's delay between ticks.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval changes the delay between ticks, clamped to [MinInterval, MaxInterval].
// It takes effect after the current wait.
func (s *Scheduler) SetInterval(d time.Duration) time.Duration {
	d = clampInterval(d)
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
	s.logger.Info("SCHEDULER: tick interval set to %v", d)
	return d
}

// Invalidate forgets workerID's cached decision so its next turn asks the backend again.
func (s *Scheduler) Invalidate(workerID string) {
	s.cache.Invalidate(workerID)
}

// CachedDecisions returns how many workers have a cached decision, fresh or not.
func (s *Scheduler) CachedDecisions() int {
	return s.cache.Len()
}

// Activity returns up to the last 50 journal entries, oldest first.
func (s *Scheduler) Activity() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.activity))
	copy(out, s.activity)
	return out
}

// Start launches the live loop, which ticks immediately and then once per interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, s.stop, s.done)
	s.logger.Info("SCHEDULER: started (interval %v, %d workers per tick)", s.interval, s.cfg.WorkersPerTick)
	return nil
}

// Stop ends the live loop. A tick already in progress runs to completion; Stop waits
// for it unless ctx ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.logger.Info("SCHEDULER: stopped at step %d", s.Step())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tick to finish: %w", ctx.Err())
	}
}

// Run takes steps ticks back to back without waiting between them.
func (s *Scheduler) Run(ctx context.Context, steps int) error {
	for range steps {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck // Context error propagated as-is
		}
		s.Tick(ctx)
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stop, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.running = false
		}
		s.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.Tick(ctx)

		timer := time.NewTimer(s.Interval())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Tick advances the step counter and clock, then processes one batch of workers
// concurrently. A failing worker is logged and counted; it never aborts the batch.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := time.Now()
	s.mu.Lock()
	s.step++
	step := s.step
	s.mu.Unlock()

	clock := s.world.Clock()
	clock.Advance(s.cfg.SimMinutesPerTick)
	simTime := clock.String()

	batch := SelectBatch(s.world.IDs(), step, s.cfg.WorkersPerTick)
	report := TickReport{Step: step, SimTime: simTime, Workers: batch}
	entries := make([]*Entry, len(batch))
	failures := make([]error, len(batch))

	var g errgroup.Group
	g.SetLimit(s.cfg.WorkersPerTick)
	for i, id := range batch {
		g.Go(func() error {
			e, err := s.process(ctx, id, step, simTime)
			if err != nil {
				failures[i] = err
				s.recorder.IncWorkerFailure()
				s.logger.Error("SCHEDULER: worker %s failed at step %d: %v", id, step, err)
				return nil
			}
			entries[i] = e
			return nil
		})
	}
	_ = g.Wait()

	for i, e := range entries {
		if e == nil {
			report.Failures = append(report.Failures, WorkerFailure{WorkerID: batch[i], Error: failures[i].Error()})
			continue
		}
		report.Entries = append(report.Entries, *e)
		if e.Cached {
			report.CacheHits++
		}
		if e.Fallback {
			report.Fallbacks++
		}
	}
	s.remember(report.Entries)
	s.broadcast(Event{Type: EventStateUpdate, Data: StateUpdate{Step: step, SimTime: simTime, Workers: s.world.Workers()}})

	report.Duration = time.Since(start)
	s.logger.Debug("SCHEDULER: step %d done in %v (%d ok, %d failed, %d cached)",
		step, report.Duration, len(report.Entries), len(report.Failures), report.CacheHits)
	return report
}

// process runs one worker through perceive, decide, act and record.
func (s *Scheduler) process(ctx context.Context, id string, step int64, simTime string) (entry *Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("SCHEDULER: panic for %s: %v\n%s", id, r, debug.Stack())
			entry, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	snapshot, dctx, err := s.world.Perceive(ctx, id)
	if err != nil {
		return nil, err
	}

	d, cached := s.cache.Get(id, step)
	var result reasoning.Result
	if !cached {
		result = s.reasoner.Decide(ctx, snapshot, dctx)
		d = result.Decision
		if !result.Fallback {
			s.cache.Put(id, d, step)
		}
	}

	outcome, err := s.world.Apply(ctx, id, d, step)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", d, err)
	}
	if err := s.world.Remember(ctx, id, outcome, step); err != nil {
		s.logger.Warn("SCHEDULER: failed to store memory for %s: %v", id, err)
	}

	e := &Entry{
		ID:         uuid.NewString(),
		SessionID:  s.cfg.SessionID,
		Step:       step,
		WorkerID:   id,
		WorkerName: snapshot.Name,
		Action:     string(d.Action),
		Target:     d.Target,
		Thought:    d.Thought,
		Dialogue:   d.Dialogue,
		Outcome:    outcome,
		Cached:     cached,
		Fallback:   result.Fallback,
		SimTime:    simTime,
		CreatedAt:  time.Now().UTC(),
	}
	for _, sink := range s.sinks {
		if err := sink.Record(ctx, *e); err != nil {
			s.logger.Warn("SCHEDULER: journal sink failed for %s: %v", id, err)
		}
	}
	s.broadcast(Event{Type: EventAgentAction, Data: *e})
	return e, nil
}

func (s *Scheduler) remember(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, entries...)
	if len(s.activity) > activityLogSize {
		s.activity = append([]Entry(nil), s.activity[len(s.activity)-activityLogSize:]...)
	}
}

func (s *Scheduler) broadcast(e Event) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(e)
	}
}

// SelectBatch returns k worker IDs starting at offset (step-1)*k mod n, wrapping around.
// Over n/k consecutive steps every worker is visited once when k divides n.
func SelectBatch(ids []string, step int64, k int) []string {
	n := len(ids)
	if n == 0 || k <= 0 {
		return nil
	}
	k = min(k, n)
	offset := int(((step - 1) * int64(k)) % int64(n))
	batch := make([]string, k)
	for i := range k {
		batch[i] = ids[(offset+i)%n]
	}
	return batch
}

func clampInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return MaxInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	default:
		return d
	}
}
