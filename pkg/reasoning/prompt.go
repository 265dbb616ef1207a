package reasoning

import (
	"strings"

	"crewsim/pkg/decision"
	"crewsim/pkg/templates"
)

const (
	defaultRole = "crew member"

	// An over-budget prompt first cuts each entry to this share of the budget.
	entryBudgetShare = 8
	minEntryTokens   = 32
)

// BuildPrompt renders the decision prompt for one worker. Memories and observations are
// capped by count. An over-budget prompt first has each long entry cut short, then
// loses whole entries oldest-last until it fits MaxPromptTokens.
func (o *Orchestrator) BuildPrompt(w decision.WorkerSnapshot, c decision.Context) (string, error) {
	role := w.Role
	if role == "" {
		role = defaultRole
	}
	locations := c.Locations
	if len(locations) == 0 {
		locations = o.cfg.Locations
	}

	data := &templates.TemplateData{
		Name:          w.Name,
		Role:          role,
		Location:      w.Location,
		Time:          c.Time,
		Situation:     c.Situation,
		ScheduledTask: w.ScheduledTask,
		Urgent:        incomingMessage(w.RecentMemories),
		Priority:      w.Priority,
		Crew:          o.cfg.Crew,
		PeopleHere:    without(w.Peers, w.Name),
		Memories:      head(w.RecentMemories, o.cfg.MaxMemories),
		Observations:  head(c.Observations, o.cfg.MaxObservations),
		Locations:     locations,
	}

	truncated := false
	for {
		prompt, err := o.renderer.Render(templates.DecisionTemplate, data)
		if err != nil {
			return "", err
		}
		if o.cfg.MaxPromptTokens <= 0 || o.counter.ValidateTokenLimit(prompt, o.cfg.MaxPromptTokens) {
			return prompt, nil
		}

		switch {
		case !truncated:
			truncated = true
			data.Memories = o.truncateEach(data.Memories)
			data.Observations = o.truncateEach(data.Observations)
		case len(data.Observations) > 0:
			data.Observations = data.Observations[:len(data.Observations)-1]
		case len(data.Memories) > 0:
			data.Memories = data.Memories[:len(data.Memories)-1]
		case data.Situation != "":
			data.Situation = ""
		default:
			o.logger.Warn("REASON: prompt for %s exceeds %d tokens with nothing left to drop", w.Name, o.cfg.MaxPromptTokens)
			return prompt, nil
		}
	}
}

// truncateEach returns a copy of entries with each one cut to its share of the budget.
func (o *Orchestrator) truncateEach(entries []string) []string {
	if len(entries) == 0 {
		return entries
	}
	limit := max(minEntryTokens, o.cfg.MaxPromptTokens/entryBudgetShare)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = o.counter.TruncateToTokenLimit(e, limit)
	}
	return out
}

// incomingMessage returns the most recent thing someone else said to the worker.
func incomingMessage(memories []string) string {
	for _, m := range memories {
		if strings.Contains(strings.ToLower(m), "said:") && !strings.HasPrefix(m, "You said") {
			return m
		}
	}
	return ""
}

func head(items []string, n int) []string {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[:n]
}

func without(names []string, self string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != self {
			out = append(out, n)
		}
	}
	return out
}
