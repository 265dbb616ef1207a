// Package decision defines the structured output of one reasoning call and the lenient
// parser that extracts it from free model text.
package decision

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"crewsim/pkg/agent/llmerrors"
)

// Action is what a worker does with its turn.
type Action string

// The four actions a sanitized decision may carry.
const (
	ActionMove Action = "move"
	ActionTalk Action = "talk"
	ActionWork Action = "work"
	ActionRest Action = "rest"
)

// Actions lists every valid action in a stable order.
//
//nolint:gochecknoglobals // Fixed enumeration
var Actions = []Action{ActionMove, ActionTalk, ActionWork, ActionRest}

// Valid reports whether a is one of the four known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionMove, ActionTalk, ActionWork, ActionRest:
		return true
	default:
		return false
	}
}

// Decision is one worker's chosen action. Empty Target and Dialogue mean "none".
// After sanitization Action is always valid and Dialogue is set only for talk.
type Decision struct {
	Thought  string `json:"thought"`
	Action   Action `json:"action"`
	Target   string `json:"target,omitempty"`
	Dialogue string `json:"dialogue,omitempty"`
}

func (d Decision) String() string {
	if d.Target == "" {
		return string(d.Action)
	}
	return fmt.Sprintf("%s -> %s", d.Action, d.Target)
}

// Parse extracts a decision from raw model output. It tolerates markdown fences and
// prose around the JSON by taking the outermost brace-delimited span. Field values
// are not validated; the action may be anything the model wrote, lowercased.
func Parse(raw string) (Decision, error) {
	body, err := extractObject(raw)
	if err != nil {
		return Decision{}, err
	}

	obj := gjson.Parse(body)
	return Decision{
		Thought:  strings.TrimSpace(stringField(obj.Get("thought"))),
		Action:   Action(strings.ToLower(strings.TrimSpace(stringField(obj.Get("action"))))),
		Target:   strings.TrimSpace(stringField(obj.Get("target"))),
		Dialogue: strings.TrimSpace(stringField(obj.Get("dialogue"))),
	}, nil
}

func extractObject(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", llmerrors.NewError(llmerrors.ErrorTypeMalformed,
			"no JSON object in response: "+llmerrors.SanitizePrompt(raw, 200))
	}

	body := text[start : end+1]
	if !gjson.Valid(body) {
		return "", llmerrors.NewError(llmerrors.ErrorTypeMalformed,
			"invalid JSON in response: "+llmerrors.SanitizePrompt(body, 200))
	}
	return body, nil
}

// stringField renders scalars as text and treats null, objects and arrays as absent.
func stringField(r gjson.Result) string {
	switch r.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return r.String()
	default:
		return ""
	}
}
