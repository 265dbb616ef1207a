// Package world holds the station the crew lives in: who is on board, where they are,
// what they remember and how their actions change things.
package world

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed crew.yaml
var defaultRosterYAML []byte

// Member is one crew member as configured.
type Member struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Role  string `yaml:"role"`
	Start string `yaml:"start"`
	Duty  string `yaml:"duty"`
}

// Roster is the fixed crew list, the station's locations and the events an operator
// can inject.
type Roster struct {
	Locations []string `yaml:"locations"`
	Crew      []Member `yaml:"crew"`
	Events    []Event  `yaml:"events"`
}

// DefaultRoster returns the built-in fifteen-person crew.
func DefaultRoster() (*Roster, error) {
	return parseRoster(defaultRosterYAML)
}

// LoadRoster reads a roster file. An empty path yields the built-in roster.
func LoadRoster(path string) (*Roster, error) {
	if path == "" {
		return DefaultRoster()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster %s: %w", path, err)
	}
	r, err := parseRoster(data)
	if err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return r, nil
}

func parseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	if err := r.normalize(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Roster) normalize() error {
	if len(r.Crew) == 0 {
		return fmt.Errorf("roster has no crew")
	}
	if len(r.Locations) == 0 {
		return fmt.Errorf("roster has no locations")
	}

	seen := make(map[string]bool, len(r.Crew))
	for i := range r.Crew {
		m := &r.Crew[i]
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			return fmt.Errorf("crew member %d has no name", i)
		}
		if m.ID == "" {
			m.ID = Slug(m.Name)
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate crew id %q", m.ID)
		}
		seen[m.ID] = true
		if m.Role == "" {
			m.Role = "crew member"
		}
		if r.CanonicalLocation(m.Start) == "" {
			m.Start = r.Locations[0]
		} else {
			m.Start = r.CanonicalLocation(m.Start)
		}
	}

	seenEvents := make(map[string]bool, len(r.Events))
	for i := range r.Events {
		e := &r.Events[i]
		if e.ID == "" {
			e.ID = Slug(e.Name)
		}
		if e.ID == "" || seenEvents[e.ID] {
			return fmt.Errorf("event %d has a missing or duplicate id", i)
		}
		seenEvents[e.ID] = true
		m, ok := r.MemberByName(e.Target)
		if !ok {
			return fmt.Errorf("event %q targets unknown crew member %q", e.ID, e.Target)
		}
		e.Target = m.Name
		e.TargetID = m.ID
		if e.Importance <= 0 {
			e.Importance = defaultEventImportance
		}
		e.Importance = min(e.Importance, 10)
	}
	return nil
}

// Names returns every crew member's name in roster order.
func (r *Roster) Names() []string {
	names := make([]string, len(r.Crew))
	for i, m := range r.Crew {
		names[i] = m.Name
	}
	return names
}

// Member looks a crew member up by ID.
func (r *Roster) Member(id string) (Member, bool) {
	for _, m := range r.Crew {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// MemberByName looks a crew member up by name, ignoring case, or by ID.
func (r *Roster) MemberByName(name string) (Member, bool) {
	n := strings.TrimSpace(name)
	for _, m := range r.Crew {
		if strings.EqualFold(m.Name, n) || m.ID == n {
			return m, true
		}
	}
	return Member{}, false
}

// CanonicalLocation maps loose location text ("the mess hall") to a known location,
// or returns "" when nothing matches.
func (r *Roster) CanonicalLocation(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ""
	}
	for _, loc := range r.Locations {
		if strings.ToLower(loc) == n {
			return loc
		}
	}
	for _, loc := range r.Locations {
		if strings.Contains(n, strings.ToLower(loc)) {
			return loc
		}
	}
	return ""
}

// Slug turns a display name into an ID: "Dr. Ananya Iyer" becomes "dr-ananya-iyer".
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
