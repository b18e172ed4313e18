// Package template is the narrow rendering interface the Message processor
// calls. Rendering internals (MJML, localization, asset pipelines) live in
// an external service; the engine only needs rendered content back.
package template

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	texttemplate "text/template"

	"github.com/c360/journeykit/errors"
)

// Content is a rendered message ready for the delivery provider
type Content struct {
	Subject string
	Body    string
}

// Renderer resolves a template ID against per-contact data
type Renderer interface {
	Render(ctx context.Context, templateID string, data map[string]any) (*Content, error)
}

// Memory is an in-process Renderer over registered Go text templates. Used
// in tests and single-process deployments.
type Memory struct {
	mu        sync.RWMutex
	templates map[string]*entry
}

type entry struct {
	subject *texttemplate.Template
	body    *texttemplate.Template
}

// NewMemory creates an empty renderer
func NewMemory() *Memory {
	return &Memory{templates: make(map[string]*entry)}
}

// Register parses and stores a template under the ID
func (m *Memory) Register(templateID, subject, body string) error {
	subjectTpl, err := texttemplate.New(templateID + ".subject").Parse(subject)
	if err != nil {
		return errors.WrapInvalid(err, "Memory", "Register", "parse subject template")
	}
	bodyTpl, err := texttemplate.New(templateID + ".body").Parse(body)
	if err != nil {
		return errors.WrapInvalid(err, "Memory", "Register", "parse body template")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[templateID] = &entry{subject: subjectTpl, body: bodyTpl}
	return nil
}

// Render executes the stored template with the given data
func (m *Memory) Render(_ context.Context, templateID string, data map[string]any) (*Content, error) {
	m.mu.RLock()
	e, ok := m.templates[templateID]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrTemplateNotFound, templateID)
	}

	var subject, body bytes.Buffer
	if err := e.subject.Execute(&subject, data); err != nil {
		return nil, errors.WrapFatal(err, "Memory", "Render", "execute subject template")
	}
	if err := e.body.Execute(&body, data); err != nil {
		return nil, errors.WrapFatal(err, "Memory", "Render", "execute body template")
	}

	return &Content{Subject: subject.String(), Body: body.String()}, nil
}
