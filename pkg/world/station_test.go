package world

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewsim/pkg/decision"
)

func newTestStation(t *testing.T) *Station {
	t.Helper()
	r, err := DefaultRoster()
	require.NoError(t, err)
	return NewStation(r, nil, nil)
}

func TestApplyMove(t *testing.T) {
	ctx := context.Background()
	s := newTestStation(t)

	out, err := s.Apply(ctx, "priya-nair", decision.Decision{Action: decision.ActionMove, Target: "rec room"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Moved to Rec Room", out)
	w, _ := s.Worker("priya-nair")
	assert.Equal(t, "Rec Room", w.Location)

	out, err = s.Apply(ctx, "priya-nair", decision.Decision{Action: decision.ActionMove, Target: "Rec Room"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "Already at Rec Room", out)

	out, err = s.Apply(ctx, "priya-nair", decision.Decision{Action: decision.ActionMove, Target: "Earth"}, 3)
	require.NoError(t, err)
	assert.Contains(t, out, "unknown location 'Earth'")
	w, _ = s.Worker("priya-nair")
	assert.Equal(t, "Rec Room", w.Location)
}

func TestApplyWorkAndRestEnergy(t *testing.T) {
	ctx := context.Background()
	s := newTestStation(t)
	id := "kabir-saxena"

	_, err := s.Apply(ctx, id, decision.Decision{Action: decision.ActionWork, Target: "drilling"}, 1)
	require.NoError(t, err)
	w, _ := s.Worker(id)
	assert.Equal(t, startEnergy-WorkCost, w.Energy)
	assert.Equal(t, "Working on drilling", w.Activity)

	for range 5 {
		_, err = s.Apply(ctx, id, decision.Decision{Action: decision.ActionRest, Target: "self"}, 2)
		require.NoError(t, err)
	}
	w, _ = s.Worker(id)
	assert.Equal(t, MaxEnergy, w.Energy)

	for range 30 {
		_, err = s.Apply(ctx, id, decision.Decision{Action: decision.ActionWork}, 3)
		require.NoError(t, err)
	}
	w, _ = s.Worker(id)
	assert.Zero(t, w.Energy)
}

func TestApplyTalkSameLocation(t *testing.T) {
	ctx := context.Background()
	s := newTestStation(t)

	out, err := s.Apply(ctx, "kabir-saxena", decision.Decision{Action: decision.ActionTalk, Target: "Ravi Singh", Dialogue: "Rover 2 is stuck"}, 4)
	require.NoError(t, err)
	assert.Equal(t, "Talked with Ravi Singh", out)

	heard, err := s.Memories().Retrieve(ctx, "ravi-singh", "rover", 5)
	require.NoError(t, err)
	require.Len(t, heard, 1)
	assert.Equal(t, "Kabir Saxena said: Rover 2 is stuck", heard[0].Content)
	assert.Equal(t, int64(4), heard[0].Step)

	said, err := s.Memories().Retrieve(ctx, "kabir-saxena", "", 5)
	require.NoError(t, err)
	require.Len(t, said, 1)
	assert.Equal(t, "You said to Ravi Singh: Rover 2 is stuck", said[0].Content)
}

func TestApplyTalkElsewhereMovesTowardsTarget(t *testing.T) {
	ctx := context.Background()
	s := newTestStation(t)

	out, err := s.Apply(ctx, "priya-nair", decision.Decision{Action: decision.ActionTalk, Target: "Dr. Sunita Rao"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Looking for Dr. Sunita Rao", out)
	w, _ := s.Worker("priya-nair")
	assert.Equal(t, "Comms Tower", w.Location)
}

func TestApplyTalkUnknownRests(t *testing.T) {
	s := newTestStation(t)

	out, err := s.Apply(context.Background(), "priya-nair", decision.Decision{Action: decision.ActionTalk, Target: "Ghost"}, 1)
	require.NoError(t, err)
	assert.Contains(t, out, "rested instead")
	w, _ := s.Worker("priya-nair")
	assert.Equal(t, "Resting", w.Activity)
}

func TestApplyUnknownWorker(t *testing.T) {
	s := newTestStation(t)
	_, err := s.Apply(context.Background(), "nobody", decision.Decision{Action: decision.ActionRest}, 1)
	assert.ErrorIs(t, err, ErrUnknownWorker)
}

// brokenStore fails every write.
type brokenStore struct{ *InMemoryStore }

func (brokenStore) Add(context.Context, Memory) error { return errors.New("disk full") }

func TestApplyTalkSurvivesMemoryFailure(t *testing.T) {
	r, err := DefaultRoster()
	require.NoError(t, err)
	s := NewStation(r, brokenStore{NewInMemoryStore()}, nil)

	out, err := s.Apply(context.Background(), "kabir-saxena", decision.Decision{Action: decision.ActionTalk, Target: "Ravi Singh", Dialogue: "Rover 2 is stuck"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Talked with Ravi Singh", out)

	w, _ := s.Worker("ravi-singh")
	assert.Equal(t, "Talking with Kabir Saxena", w.Activity)
	assert.Equal(t, 1, s.SpreadSummary().Conversations)
}

func TestRecentMemories(t *testing.T) {
	ctx := context.Background()
	s := newTestStation(t)
	for i := range 4 {
		require.NoError(t, s.Remember(ctx, "tara", fmt.Sprintf("Checked sensor %d", i), int64(i)))
	}

	m, got, err := s.RecentMemories(ctx, "tara", 3)
	require.NoError(t, err)
	assert.Equal(t, "TARA", m.Name)
	require.Len(t, got, 3)
	assert.Equal(t, "Checked sensor 3", got[0].Content)
	assert.Equal(t, "Checked sensor 1", got[2].Content)

	_, got, err = s.RecentMemories(ctx, "TARA", 0)
	require.NoError(t, err)
	assert.Len(t, got, 4)

	_, _, err = s.RecentMemories(ctx, "Ghost", 3)
	assert.ErrorIs(t, err, ErrUnknownWorker)
}

func TestTriggerEventPlantsPriorityNews(t *testing.T) {
	ctx := context.Background()
	s := newTestStation(t)

	status, err := s.TriggerEvent(ctx, "discovery", 3)
	require.NoError(t, err)
	assert.True(t, status.Triggered)
	assert.Equal(t, "Kabir Saxena", status.Target)
	assert.Equal(t, "kabir-saxena", status.TargetID)

	_, got, err := s.RecentMemories(ctx, "Kabir Saxena", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, KindEvent, got[0].Kind)
	assert.Equal(t, 8, got[0].Importance)
	assert.Equal(t, int64(3), got[0].Step)

	snap, _, err := s.Perceive(ctx, "kabir-saxena")
	require.NoError(t, err)
	assert.Contains(t, snap.Priority, "mineral deposits")

	other, _, err := s.Perceive(ctx, "ravi-singh")
	require.NoError(t, err)
	assert.Empty(t, other.Priority)

	_, err = s.TriggerEvent(ctx, "discovery", 4)
	assert.ErrorIs(t, err, ErrEventAlreadyDone)
	_, err = s.TriggerEvent(ctx, "alien_contact", 4)
	assert.ErrorIs(t, err, ErrUnknownEvent)

	var fired int
	for _, e := range s.Events() {
		if e.Triggered {
			fired++
			assert.Equal(t, "discovery", e.ID)
			assert.Equal(t, int64(3), e.TriggerStep)
		}
	}
	assert.Equal(t, 1, fired)

	s.ResetEvents()
	_, err = s.TriggerEvent(ctx, "discovery", 5)
	assert.NoError(t, err)
}

func TestTriggerEventRollsBackWhenMemoryFails(t *testing.T) {
	r, err := DefaultRoster()
	require.NoError(t, err)
	s := NewStation(r, brokenStore{NewInMemoryStore()}, nil)

	_, err = s.TriggerEvent(context.Background(), "celebration", 1)
	require.Error(t, err)
	for _, e := range s.Events() {
		assert.False(t, e.Triggered)
	}
	_, ok := s.EventSpread("celebration")
	assert.False(t, ok)
}

func TestNewsSpreadsThroughConversation(t *testing.T) {
	ctx := context.Background()
	s := newTestStation(t)
	_, err := s.TriggerEvent(ctx, "discovery", 1)
	require.NoError(t, err)

	talk := func(from, to, said string) {
		t.Helper()
		_, err := s.Apply(ctx, from, decision.Decision{Action: decision.ActionTalk, Target: to, Dialogue: said}, 2)
		require.NoError(t, err)
	}
	talk("kabir-saxena", "Ravi Singh", "Come see what I found in the tunnel")
	talk("ravi-singh", "Dr. Dev Malhotra", "Kabir found odd minerals")
	talk("dr-dev-malhotra", "Ravi Singh", "Interesting")

	spread, ok := s.EventSpread("discovery")
	require.True(t, ok)
	assert.Equal(t, []string{"Dr. Dev Malhotra", "Kabir Saxena", "Ravi Singh"}, spread.Informed)
	require.Len(t, spread.Chain, 3)
	assert.Equal(t, "SYSTEM", spread.Chain[0].From)
	assert.Equal(t, "Kabir Saxena", spread.Chain[1].From)
	assert.Equal(t, "Ravi Singh", spread.Chain[1].To)
	assert.Equal(t, "Kabir found odd minerals", spread.Chain[2].Snippet)

	summary := s.SpreadSummary()
	assert.Equal(t, 3, summary.Conversations)
	assert.Equal(t, map[string]int{"discovery": 3}, summary.Events)

	_, ok = s.EventSpread("celebration")
	assert.False(t, ok)
}

func TestPerceive(t *testing.T) {
	ctx := context.Background()
	s := newTestStation(t)
	require.NoError(t, s.Remember(ctx, "kabir-saxena", "Found ilmenite in regolith samples", 1))

	snap, dctx, err := s.Perceive(ctx, "kabir-saxena")
	require.NoError(t, err)

	assert.Equal(t, "Kabir Saxena", snap.Name)
	assert.Equal(t, "Mining Tunnel", snap.Location)
	assert.ElementsMatch(t, []string{"Dr. Dev Malhotra", "Ravi Singh"}, snap.Peers)
	assert.Equal(t, "survey regolith samples", snap.ScheduledTask)
	assert.Equal(t, []string{"Found ilmenite in regolith samples"}, snap.RecentMemories)
	assert.Equal(t, "Day 1, 08:00", dctx.Time)
	assert.Len(t, dctx.Observations, 2)
	assert.Len(t, dctx.Locations, 8)

	_, _, err = s.Perceive(ctx, "nobody")
	assert.Error(t, err)
}

func TestScheduledTaskFollowsClock(t *testing.T) {
	s := newTestStation(t)
	s.Clock().Advance(4 * 60)

	snap, _, err := s.Perceive(context.Background(), "tara")
	require.NoError(t, err)
	assert.Equal(t, "lunch at the Mess Hall", snap.ScheduledTask)

	s.Clock().Advance(10 * 60)
	snap, _, err = s.Perceive(context.Background(), "tara")
	require.NoError(t, err)
	assert.Empty(t, snap.ScheduledTask)
}
