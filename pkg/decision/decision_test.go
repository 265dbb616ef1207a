package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewsim/pkg/agent/llmerrors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Decision
	}{
		{
			name: "plain object",
			raw:  `{"thought": "Hungry.", "action": "move", "target": "Mess Hall", "dialogue": null}`,
			want: Decision{Thought: "Hungry.", Action: ActionMove, Target: "Mess Hall"},
		},
		{
			name: "fenced with prose",
			raw:  "Sure! Here is my decision:\n```json\n{\"thought\": \"Check on Ananya\", \"action\": \"TALK\", \"target\": \"Dr. Ananya Iyer\", \"dialogue\": \"How are the samples?\"}\n```\nHope that helps.",
			want: Decision{Thought: "Check on Ananya", Action: ActionTalk, Target: "Dr. Ananya Iyer", Dialogue: "How are the samples?"},
		},
		{
			name: "nested braces keep outer object",
			raw:  `{"thought": "x", "action": "work", "target": "Comms Tower", "meta": {"mood": "ok"}}`,
			want: Decision{Thought: "x", Action: ActionWork, Target: "Comms Tower"},
		},
		{
			name: "unknown action kept for sanitizer",
			raw:  `{"action": "fly", "target": "roof"}`,
			want: Decision{Action: "fly", Target: "roof"},
		},
		{
			name: "missing fields and numeric target",
			raw:  `{"target": 7}`,
			want: Decision{Target: "7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"I think I will rest now.",
		"} backwards {",
		`{"action": "rest",}`,
		"```json\n{\"action\": \n```",
	} {
		_, err := Parse(raw)
		require.Error(t, err, raw)
		assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeMalformed), raw)
	}
}

func TestActionValid(t *testing.T) {
	for _, a := range Actions {
		assert.True(t, a.Valid())
	}
	assert.False(t, Action("check").Valid())
	assert.False(t, Action("").Valid())
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "rest", Decision{Action: ActionRest}.String())
	assert.Equal(t, "move -> Rec Room", Decision{Action: ActionMove, Target: "Rec Room"}.String())
}
