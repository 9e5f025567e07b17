// Package templating adapts Go text templates to the engine's renderer
// port. Product authors write inline template sources in configuration;
// parsed templates are cached by source.
package templating

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Engine renders inline template sources.
type Engine struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{cache: make(map[string]*template.Template)}
}

// Render parses source (or reuses a cached parse) and executes it against
// data.
func (e *Engine) Render(ctx context.Context, source string, data any) (string, error) {
	tmpl, err := e.parse(source)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

func (e *Engine) parse(source string) (*template.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tmpl, ok := e.cache[source]; ok {
		return tmpl, nil
	}
	tmpl, err := template.New("inline").Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, err
	}
	e.cache[source] = tmpl
	return tmpl, nil
}
