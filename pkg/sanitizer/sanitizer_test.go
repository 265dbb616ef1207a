package sanitizer

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewsim/pkg/decision"
)

type staticRoster []string

func (r staticRoster) Names() []string { return r }

var crew = staticRoster{"Cdr. Vikram Sharma", "Dr. Ananya Iyer", "Priya Nair", "Kabir Saxena", "TARA"}

func newTestSanitizer(seed uint64) *Sanitizer {
	return New(crew, rand.New(rand.NewPCG(seed, seed)), Config{}, nil)
}

func priya() decision.WorkerSnapshot {
	return decision.WorkerSnapshot{ID: "priya", Name: "Priya Nair", Location: "Agri Lab"}
}

func TestInvalidActionBecomesRest(t *testing.T) {
	s := newTestSanitizer(1)

	got := s.Fix(decision.Decision{Thought: "Up we go", Action: "fly", Target: "roof"}, priya())

	assert.Equal(t, decision.ActionRest, got.Action)
	assert.Contains(t, got.Thought, "(Invalid action 'fly' corrected)")
	assert.Empty(t, got.Dialogue)
}

func TestCheckBecomesWork(t *testing.T) {
	s := newTestSanitizer(1)

	got := s.Fix(decision.Decision{Action: "check", Target: "hydroponics"}, priya())

	assert.Equal(t, decision.ActionWork, got.Action)
	assert.Equal(t, "hydroponics", got.Target)
	assert.Contains(t, got.Thought, "(Corrected from check)")
}

func TestWorkOnPersonBecomesTalk(t *testing.T) {
	s := newTestSanitizer(1)

	got := s.Fix(decision.Decision{Action: decision.ActionWork, Target: "Dr. Ananya Iyer"}, priya())

	assert.Equal(t, decision.ActionTalk, got.Action)
	assert.Equal(t, "Dr. Ananya Iyer", got.Target)
	assert.Contains(t, got.Thought, "(Changed work-on-person to talk)")
}

func TestTalkTargetResolution(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantAction decision.Action
		wantTarget string
	}{
		{"exact", "Kabir Saxena", decision.ActionTalk, "Kabir Saxena"},
		{"case insensitive", "kabir saxena", decision.ActionTalk, "Kabir Saxena"},
		{"partial name", "Ananya", decision.ActionTalk, "Dr. Ananya Iyer"},
		{"name inside longer target", "Commander Dr. Ananya Iyer please", decision.ActionTalk, "Dr. Ananya Iyer"},
		{"unknown", "Captain Nemo", decision.ActionWork, fallbackWork},
		{"empty", "", decision.ActionWork, fallbackWork},
		{"self", "Priya Nair", decision.ActionWork, fallbackWork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSanitizer(1)
			got := s.Fix(decision.Decision{Action: decision.ActionTalk, Target: tt.target, Dialogue: "Hi"}, priya())

			assert.Equal(t, tt.wantAction, got.Action)
			assert.Equal(t, tt.wantTarget, got.Target)
			if tt.wantAction == decision.ActionTalk {
				assert.Equal(t, "Hi", got.Dialogue)
			} else {
				assert.Empty(t, got.Dialogue)
				assert.Contains(t, got.Thought, "not found, working instead")
			}
		})
	}
}

func TestConversationLoopIsBroken(t *testing.T) {
	s := newTestSanitizer(1)
	w := priya()
	talk := decision.Decision{Action: decision.ActionTalk, Target: "Kabir Saxena", Dialogue: "Hey"}

	assert.Equal(t, decision.ActionTalk, s.Fix(talk, w).Action)
	assert.Equal(t, decision.ActionTalk, s.Fix(talk, w).Action)

	got := s.Fix(talk, w)
	assert.Equal(t, decision.ActionWork, got.Action)
	assert.Equal(t, loopBreakWork, got.Target)
	assert.Empty(t, got.Dialogue)
	assert.Contains(t, got.Thought, "(Breaking conversation loop - time to work)")
}

func TestConversationWithDifferentPeersIsNotALoop(t *testing.T) {
	s := newTestSanitizer(1)
	w := priya()

	s.Fix(decision.Decision{Action: decision.ActionTalk, Target: "Kabir Saxena"}, w)
	s.Fix(decision.Decision{Action: decision.ActionTalk, Target: "TARA"}, w)
	got := s.Fix(decision.Decision{Action: decision.ActionTalk, Target: "Dr. Ananya Iyer"}, w)

	assert.Equal(t, decision.ActionTalk, got.Action)
}

func TestMonotonyIsBroken(t *testing.T) {
	s := newTestSanitizer(7)
	w := priya()
	work := decision.Decision{Action: decision.ActionWork, Target: "hydroponics"}

	for range monotonyWindow {
		require.Equal(t, decision.ActionWork, s.Fix(work, w).Action)
	}

	got := s.Fix(work, w)
	assert.NotEqual(t, decision.ActionWork, got.Action)
	assert.Contains(t, got.Thought, "(Diversified from work pattern)")
	assertWellFormed(t, got)
	if got.Action == decision.ActionMove {
		assert.NotEqual(t, w.Location, got.Target)
		assert.Contains(t, DefaultMovePool, got.Target)
	}
}

func TestMonotonyMoveAvoidsCurrentLocation(t *testing.T) {
	for seed := range uint64(20) {
		s := newTestSanitizer(seed)
		w := decision.WorkerSnapshot{ID: "tara", Name: "TARA", Location: "Mess Hall"}
		rest := decision.Decision{Action: decision.ActionRest, Target: "self"}
		for range monotonyWindow {
			s.Fix(rest, w)
		}
		got := s.Fix(rest, w)
		if got.Action == decision.ActionMove {
			assert.NotEqual(t, "Mess Hall", got.Target)
		}
	}
}

func TestDiversifiedTalkPrefersColocatedPeers(t *testing.T) {
	for seed := range uint64(30) {
		s := newTestSanitizer(seed)
		w := priya()
		w.Peers = []string{"Kabir Saxena"}
		rest := decision.Decision{Action: decision.ActionRest, Target: "self"}
		for range monotonyWindow {
			s.Fix(rest, w)
		}
		got := s.Fix(rest, w)
		if got.Action == decision.ActionTalk {
			assert.Equal(t, "Kabir Saxena", got.Target)
		}
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s := New(crew, rand.New(rand.NewPCG(1, 1)), Config{HistorySize: 5}, nil)
	w := priya()
	actions := []decision.Action{decision.ActionWork, decision.ActionRest, decision.ActionMove}

	for i := range 20 {
		s.Fix(decision.Decision{Action: actions[i%len(actions)], Target: "Mess Hall"}, w)
	}

	assert.Len(t, s.History(w.ID), 5)
	assert.Empty(t, s.History("someone-else"))
}

func TestHistoryRecordsSanitizedDecision(t *testing.T) {
	s := newTestSanitizer(1)
	w := priya()

	s.Fix(decision.Decision{Action: decision.ActionWork, Target: "ananya"}, w)

	h := s.History(w.ID)
	require.Len(t, h, 1)
	assert.Equal(t, HistoryEntry{Action: decision.ActionTalk, Target: "Dr. Ananya Iyer"}, h[0])
}

func TestFixIsTotal(t *testing.T) {
	s := newTestSanitizer(3)
	raws := []decision.Decision{
		{},
		{Action: "FLY"},
		{Action: "talk"},
		{Action: "talk", Target: "nobody at all"},
		{Action: "work", Target: "Priya Nair"},
		{Action: "move", Dialogue: "should vanish"},
		{Action: "rest", Target: "self", Dialogue: "zzz"},
		{Action: "check"},
	}

	for i := range 100 {
		w := decision.WorkerSnapshot{ID: "w", Name: "Priya Nair", Location: "Rec Room"}
		got := s.Fix(raws[i%len(raws)], w)
		assertWellFormed(t, got)
	}
}

func TestSameSeedSameOutcome(t *testing.T) {
	run := func() []decision.Decision {
		s := newTestSanitizer(42)
		w := priya()
		var out []decision.Decision
		for range 30 {
			out = append(out, s.Fix(decision.Decision{Action: decision.ActionRest, Target: "self"}, w))
		}
		return out
	}

	assert.Equal(t, run(), run())
}

func TestNilRosterNeverTalks(t *testing.T) {
	s := New(nil, nil, Config{}, nil)
	w := priya()

	got := s.Fix(decision.Decision{Action: decision.ActionTalk, Target: "Kabir"}, w)
	assert.Equal(t, decision.ActionWork, got.Action)

	for range 10 {
		assert.NotEqual(t, decision.ActionTalk, s.Fix(decision.Decision{Action: decision.ActionRest}, w).Action)
	}
}

func assertWellFormed(t *testing.T, d decision.Decision) {
	t.Helper()
	assert.True(t, d.Action.Valid(), "invalid action %q", d.Action)
	if d.Action != decision.ActionTalk {
		assert.Empty(t, d.Dialogue)
		return
	}
	found := false
	for _, n := range crew {
		if n == d.Target {
			found = true
		}
	}
	assert.True(t, found, "talk target %q not in roster", d.Target)
	assert.False(t, strings.EqualFold(d.Target, "Priya Nair"))
}
