// Package templates renders the prompts sent to the reasoning backend.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// TemplateData holds everything a decision prompt can mention.
type TemplateData struct {
	Name          string   `json:"name"`
	Role          string   `json:"role"`
	Location      string   `json:"location"`
	Time          string   `json:"time,omitempty"`
	Situation     string   `json:"situation,omitempty"`
	ScheduledTask string   `json:"scheduled_task,omitempty"`
	Urgent        string   `json:"urgent,omitempty"` // Latest thing someone said to the worker
	Priority      string   `json:"priority,omitempty"` // Planted news the worker should act on
	Crew          []string `json:"crew"`
	PeopleHere    []string `json:"people_here,omitempty"`
	Memories      []string `json:"memories,omitempty"`
	Observations  []string `json:"observations,omitempty"`
	Locations     []string `json:"locations"`
}

// StateTemplate names an embedded template.
type StateTemplate string

const (
	// DecisionTemplate asks a worker for its next action as JSON.
	DecisionTemplate StateTemplate = "decision.tpl.md"
)

// Renderer handles template rendering.
type Renderer struct {
	templates map[StateTemplate]*template.Template
}

// NewRenderer parses all embedded templates.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[StateTemplate]*template.Template),
	}

	for _, name := range []StateTemplate{DecisionTemplate} {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"join": strings.Join,
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders the specified template with the given data.
func (r *Renderer) Render(templateName StateTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	return buf.String(), nil
}

// GetAvailableTemplates returns a list of all available templates.
func (r *Renderer) GetAvailableTemplates() []StateTemplate {
	templates := make([]StateTemplate, 0, len(r.templates))
	for name := range r.templates {
		templates = append(templates, name)
	}
	return templates
}
