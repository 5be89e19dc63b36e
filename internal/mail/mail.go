// Package mail renders and delivers transactional emails.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

// Template identifiers.
const (
	TemplateWelcome       = "welcome_email"
	TemplateResetPassword = "reset_password"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message is one email to deliver.
type Message struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
}

// Validate checks the fields every transport needs.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("mail: recipient required")
	}
	if strings.TrimSpace(m.Template) == "" {
		return fmt.Errorf("mail: template required")
	}
	return nil
}

// Dispatcher hands messages to a delivery channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// Renderer executes the embedded email templates.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("mail").Option("missingkey=zero").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("mail: parse templates: %w", err)
	}
	return &Renderer{templates: tmpl}, nil
}

// Render produces the HTML body of msg.
func (r *Renderer) Render(msg Message) (string, error) {
	tmpl := r.templates.Lookup(msg.Template + ".html")
	if tmpl == nil {
		return "", fmt.Errorf("mail: unknown template %q", msg.Template)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, msg.Data); err != nil {
		return "", fmt.Errorf("mail: render %s: %w", msg.Template, err)
	}
	return buf.String(), nil
}
