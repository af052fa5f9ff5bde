// Package notification renders the human-readable text attached to
// artifacts produced by triggered rules.
package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Built-in template identifiers.
const (
	TemplateMetricAlert       = "metric-alert"
	TemplateTaskAssignment    = "task-assignment"
	TemplateContentAssignment = "content-assignment"
	TemplateVisitRequest      = "visit-request"
)

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine holds templates and renders them with data. It is safe for
// concurrent use.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateMetricAlert,
			Subject: "{{metric_label}}: {{rule_name}}",
			Body:    "{{message}}",
		},
		{
			ID:      TemplateTaskAssignment,
			Subject: "Task: {{task_title}}",
			Body:    "{{rule_name}} assigned a {{task_type}} task. {{message}}",
		},
		{
			ID:      TemplateContentAssignment,
			Subject: "Content assigned: {{content_module}}",
			Body:    "{{rule_name}} assigned the {{content_module}} module. {{message}}",
		},
		{
			ID:      TemplateVisitRequest,
			Subject: "Visit suggested: {{rule_name}}",
			Body:    "{{rule_name}}: {{message}}",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render performs {{key}} replacement on the template's subject and body.
// Placeholders without a value in data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), strings.TrimSpace(r.Replace(t.Body)), nil
}
