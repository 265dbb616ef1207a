package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"crewsim/pkg/decision"
	"crewsim/pkg/reasoning"
	"crewsim/pkg/world"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeReasoner struct {
	mu       sync.Mutex
	calls    map[string]int
	panicFor string
	fallback bool
}

func (f *fakeReasoner) Decide(_ context.Context, w decision.WorkerSnapshot, _ decision.Context) reasoning.Result {
	if w.ID == f.panicFor {
		panic("backend exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[w.ID]++
	return reasoning.Result{
		Decision: decision.Decision{Thought: "busy day", Action: decision.ActionWork, Target: "repairs"},
		Fallback: f.fallback,
		Attempts: 1,
	}
}

func (f *fakeReasoner) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type memorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *memorySink) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) Broadcast(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == kind {
			n++
		}
	}
	return n
}

func smallStation(n int) *world.Station {
	r := &world.Roster{Locations: []string{"Hab", "Lab"}}
	for i := range n {
		name := string(rune('A' + i))
		r.Crew = append(r.Crew, world.Member{ID: name, Name: "Worker " + name, Role: "tech", Start: "Hab", Duty: "repairs"})
	}
	return world.NewStation(r, nil, nil)
}

type fixture struct {
	sched    *Scheduler
	station  *world.Station
	reasoner *fakeReasoner
	sink     *memorySink
	events   *eventCollector
}

func newFixture(workers int, cfg Config) *fixture {
	f := &fixture{
		station:  smallStation(workers),
		reasoner: &fakeReasoner{},
		sink:     &memorySink{},
		events:   &eventCollector{},
	}
	f.sched = New(cfg, Deps{
		World:       f.station,
		Reasoner:    f.reasoner,
		Sinks:       []Sink{f.sink},
		Broadcaster: f.events,
	})
	return f
}

func TestSelectBatchVisitsEveryWorkerOnce(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f"}
	seen := map[string]int{}
	for step := int64(1); step <= 3; step++ {
		for _, id := range SelectBatch(ids, step, 2) {
			seen[id]++
		}
	}
	assert.Len(t, seen, len(ids))
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestSelectBatch(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}

	assert.Equal(t, []string{"a", "b"}, SelectBatch(ids, 1, 2))
	assert.Equal(t, []string{"c", "d"}, SelectBatch(ids, 2, 2))
	assert.Equal(t, []string{"e", "a"}, SelectBatch(ids, 3, 2))
	assert.Equal(t, ids, SelectBatch(ids, 4, 9))
	assert.Nil(t, SelectBatch(nil, 1, 2))
	assert.Nil(t, SelectBatch(ids, 1, 0))
}

func TestTickProcessesBatch(t *testing.T) {
	f := newFixture(4, Config{WorkersPerTick: 2, CacheDuration: 3, SimMinutesPerTick: 10})

	report := f.sched.Tick(context.Background())

	assert.Equal(t, int64(1), report.Step)
	assert.Equal(t, "Day 1, 08:10", report.SimTime)
	assert.Equal(t, []string{"A", "B"}, report.Workers)
	require.Len(t, report.Entries, 2)
	assert.Empty(t, report.Failures)

	e := report.Entries[0]
	assert.Equal(t, "A", e.WorkerID)
	assert.Equal(t, "Worker A", e.WorkerName)
	assert.Equal(t, "work", e.Action)
	assert.Equal(t, "Working on repairs", e.Outcome)
	assert.Equal(t, f.sched.SessionID(), e.SessionID)
	assert.NotEmpty(t, e.ID)

	assert.Len(t, f.sink.entries, 2)
	assert.Equal(t, 2, f.events.count(EventAgentAction))
	assert.Equal(t, 1, f.events.count(EventStateUpdate))
	assert.Len(t, f.sched.Activity(), 2)

	w, _ := f.station.Worker("A")
	assert.Equal(t, "Working on repairs", w.Activity)
}

func TestTickUsesCacheWithinFreshnessBound(t *testing.T) {
	f := newFixture(2, Config{WorkersPerTick: 2, CacheDuration: 3})
	ctx := context.Background()

	first := f.sched.Tick(ctx)
	assert.Zero(t, first.CacheHits)

	second := f.sched.Tick(ctx)
	third := f.sched.Tick(ctx)
	assert.Equal(t, 2, second.CacheHits)
	assert.Equal(t, 2, third.CacheHits)
	assert.True(t, third.Entries[0].Cached)

	fourth := f.sched.Tick(ctx)
	assert.Zero(t, fourth.CacheHits)
	assert.Equal(t, 4, f.reasoner.total())
}

func TestInvalidateForcesFreshDecision(t *testing.T) {
	f := newFixture(2, Config{WorkersPerTick: 2, CacheDuration: 3})
	ctx := context.Background()

	f.sched.Tick(ctx)
	assert.Equal(t, 2, f.sched.CachedDecisions())

	f.sched.Invalidate("A")
	assert.Equal(t, 1, f.sched.CachedDecisions())

	report := f.sched.Tick(ctx)
	assert.Equal(t, 1, report.CacheHits)
	assert.Equal(t, 2, f.reasoner.calls["A"])
	assert.Equal(t, 1, f.reasoner.calls["B"])
}

func TestFallbackDecisionsAreNotCached(t *testing.T) {
	f := newFixture(1, Config{WorkersPerTick: 1, CacheDuration: 3})
	f.reasoner.fallback = true
	ctx := context.Background()

	f.sched.Tick(ctx)
	report := f.sched.Tick(ctx)

	assert.Zero(t, report.CacheHits)
	assert.Equal(t, 1, report.Fallbacks)
	assert.Equal(t, 2, f.reasoner.total())
}

func TestTickIsolatesWorkerFailures(t *testing.T) {
	f := newFixture(3, Config{WorkersPerTick: 3})
	f.reasoner.panicFor = "B"

	report := f.sched.Tick(context.Background())

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "B", report.Failures[0].WorkerID)
	assert.Contains(t, report.Failures[0].Error, "backend exploded")
	require.Len(t, report.Entries, 2)
	assert.Equal(t, "A", report.Entries[0].WorkerID)
	assert.Equal(t, "C", report.Entries[1].WorkerID)
}

// chattyReasoner has every worker talk to Worker A, or to Worker B when it is A.
type chattyReasoner struct{}

func (chattyReasoner) Decide(_ context.Context, w decision.WorkerSnapshot, _ decision.Context) reasoning.Result {
	target := "Worker A"
	if w.ID == "A" {
		target = "Worker B"
	}
	return reasoning.Result{Decision: decision.Decision{Action: decision.ActionTalk, Target: target, Dialogue: "status?"}, Attempts: 1}
}

// readOnlyMemories refuses every write.
type readOnlyMemories struct{ *world.InMemoryStore }

func (readOnlyMemories) Add(context.Context, world.Memory) error { return errors.New("database is locked") }

func TestTickRecordsActionWhenMemoryWriteFails(t *testing.T) {
	r := &world.Roster{Locations: []string{"Hab"}, Crew: []world.Member{
		{ID: "A", Name: "Worker A", Role: "tech", Start: "Hab"},
		{ID: "B", Name: "Worker B", Role: "tech", Start: "Hab"},
	}}
	station := world.NewStation(r, readOnlyMemories{world.NewInMemoryStore()}, nil)
	sink := &memorySink{}
	events := &eventCollector{}
	sched := New(Config{WorkersPerTick: 2}, Deps{World: station, Reasoner: chattyReasoner{}, Sinks: []Sink{sink}, Broadcaster: events})

	report := sched.Tick(context.Background())

	assert.Empty(t, report.Failures)
	require.Len(t, report.Entries, 2)
	assert.Equal(t, "Talked with Worker B", report.Entries[0].Outcome)
	assert.Len(t, sink.entries, 2)
	assert.Equal(t, 2, events.count(EventAgentAction))
}

func TestRunAdvancesSteps(t *testing.T) {
	f := newFixture(4, Config{WorkersPerTick: 2, SimMinutesPerTick: 15})

	require.NoError(t, f.sched.Run(context.Background(), 4))

	assert.Equal(t, int64(4), f.sched.Step())
	assert.Equal(t, "Day 1, 09:00", f.station.Clock().String())
	assert.Len(t, f.sink.entries, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.sched.Run(ctx, 3), context.Canceled)
}

func TestActivityLogIsBounded(t *testing.T) {
	f := newFixture(4, Config{WorkersPerTick: 4})
	require.NoError(t, f.sched.Run(context.Background(), 20))

	activity := f.sched.Activity()
	assert.Len(t, activity, activityLogSize)
	assert.Equal(t, int64(20), activity[len(activity)-1].Step)
}

func TestStartStop(t *testing.T) {
	f := newFixture(2, Config{WorkersPerTick: 1, TickInterval: MinInterval})
	ctx := context.Background()

	require.NoError(t, f.sched.Start(ctx))
	assert.True(t, f.sched.Running())
	assert.ErrorIs(t, f.sched.Start(ctx), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return f.sched.Step() >= 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.sched.Stop(ctx))
	assert.False(t, f.sched.Running())
	assert.ErrorIs(t, f.sched.Stop(ctx), ErrNotRunning)

	stopped := f.sched.Step()
	time.Sleep(2 * MinInterval)
	assert.Equal(t, stopped, f.sched.Step())
}

func TestLoopEndsWithContext(t *testing.T) {
	f := newFixture(2, Config{WorkersPerTick: 1, TickInterval: MinInterval})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, f.sched.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !f.sched.Running() }, 5*time.Second, 10*time.Millisecond)
}

func TestSetIntervalClamps(t *testing.T) {
	f := newFixture(1, Config{})
	assert.Equal(t, MaxInterval, f.sched.Interval())

	assert.Equal(t, MinInterval, f.sched.SetInterval(time.Millisecond))
	assert.Equal(t, MaxInterval, f.sched.SetInterval(time.Minute))
	assert.Equal(t, time.Second, f.sched.SetInterval(time.Second))
	assert.Equal(t, time.Second, f.sched.Interval())
}
