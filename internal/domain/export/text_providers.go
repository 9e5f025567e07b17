package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coverloop/coverloop/internal/domain/events"
)

// Environments a product configuration is expected to model. An environment
// text provider must cover all of them or supply a default.
var knownEnvironments = []string{"Development", "Staging", "Production"}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// FixedTextBuilder yields a literal string. A bare JSON string in any
// text-provider slot decodes to this builder.
type FixedTextBuilder struct {
	Text string `json:"Text"`
}

func decodeFixedText(raw json.RawMessage) (*FixedTextBuilder, error) {
	return decodeInto[FixedTextBuilder]("fixed text provider", raw)
}

func (b *FixedTextBuilder) Build(deps Dependencies, product ProductConfig) (TextProvider, error) {
	text := b.Text
	return TextProviderFunc(func(ctx context.Context, ev *events.ApplicationEvent) (string, error) {
		return text, nil
	}), nil
}

// FormFieldTextBuilder reads a named field from the triggering quote's
// latest form data.
type FormFieldTextBuilder struct {
	FieldName string `json:"FieldName"`
}

func decodeFormFieldText(raw json.RawMessage) (*FormFieldTextBuilder, error) {
	b, err := decodeInto[FormFieldTextBuilder]("form field text provider", raw)
	if err != nil {
		return nil, err
	}
	if b.FieldName == "" {
		return nil, errors.New("form field text provider: FieldName is required")
	}
	return b, nil
}

func (b *FormFieldTextBuilder) Build(deps Dependencies, product ProductConfig) (TextProvider, error) {
	if deps.Forms == nil {
		return nil, errors.New("form field text provider: form data reader not configured")
	}
	forms := deps.Forms
	field := b.FieldName
	return TextProviderFunc(func(ctx context.Context, ev *events.ApplicationEvent) (string, error) {
		data, err := forms.LatestFormData(ctx, ev.EntityID)
		if err != nil {
			return "", fmt.Errorf("form field %q: %w", field, err)
		}
		return formatValue(data[field]), nil
	}), nil
}

// FormDataJSONBuilder serializes the quote's entire latest form data to a
// single JSON document.
type FormDataJSONBuilder struct{}

func decodeFormDataJSONText(raw json.RawMessage) (*FormDataJSONBuilder, error) {
	return decodeInto[FormDataJSONBuilder]("form data json text provider", raw)
}

func (b *FormDataJSONBuilder) Build(deps Dependencies, product ProductConfig) (TextProvider, error) {
	if deps.Forms == nil {
		return nil, errors.New("form data json text provider: form data reader not configured")
	}
	forms := deps.Forms
	return TextProviderFunc(func(ctx context.Context, ev *events.ApplicationEvent) (string, error) {
		data, err := forms.LatestFormData(ctx, ev.EntityID)
		if err != nil {
			return "", fmt.Errorf("form data json: %w", err)
		}
		out, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("form data json: %w", err)
		}
		return string(out), nil
	}), nil
}

// TemplateTextBuilder renders an inline template source against the event,
// the quote's form data and the product configuration. The discriminator is
// "razor" for continuity with existing product configurations.
type TemplateTextBuilder struct {
	Template string `json:"Template"`
}

func decodeTemplateText(raw json.RawMessage) (*TemplateTextBuilder, error) {
	b, err := decodeInto[TemplateTextBuilder]("template text provider", raw)
	if err != nil {
		return nil, err
	}
	if b.Template == "" {
		return nil, errors.New("template text provider: Template is required")
	}
	return b, nil
}

func (b *TemplateTextBuilder) Build(deps Dependencies, product ProductConfig) (TextProvider, error) {
	if deps.Renderer == nil {
		return nil, errors.New("template text provider: renderer not configured")
	}
	renderer := deps.Renderer
	forms := deps.Forms
	source := b.Template
	return TextProviderFunc(func(ctx context.Context, ev *events.ApplicationEvent) (string, error) {
		data := map[string]any{
			"Event":     ev,
			"Product":   product,
			"Variables": product.Variables,
		}
		if forms != nil {
			formData, err := forms.LatestFormData(ctx, ev.EntityID)
			if err != nil {
				return "", fmt.Errorf("template text provider: form data: %w", err)
			}
			data["FormData"] = formData
		}
		out, err := renderer.Render(ctx, source, data)
		if err != nil {
			return "", fmt.Errorf("template text provider: %w", err)
		}
		return out, nil
	}), nil
}

// EnvironmentTextBuilder picks among per-deployment-environment
// sub-providers, falling back to Default. Decoding fails when a modeled
// environment has no provider and no default is supplied.
type EnvironmentTextBuilder struct {
	Default      TextProviderBuilder
	Environments map[string]TextProviderBuilder
}

func decodeEnvironmentText(r *Registries, raw json.RawMessage) (*EnvironmentTextBuilder, error) {
	var spec struct {
		Default      json.RawMessage            `json:"Default"`
		Environments map[string]json.RawMessage `json:"Environments"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("environment text provider: %w", err)
	}

	b := &EnvironmentTextBuilder{Environments: make(map[string]TextProviderBuilder, len(spec.Environments))}

	var err error
	if b.Default, err = r.DecodeTextSlot(spec.Default); err != nil {
		return nil, fmt.Errorf("environment text provider: Default: %w", err)
	}
	for env, sub := range spec.Environments {
		child, err := r.DecodeTextSlot(sub)
		if err != nil {
			return nil, fmt.Errorf("environment text provider: %s: %w", env, err)
		}
		if child == nil {
			return nil, fmt.Errorf("environment text provider: %s: empty provider slot", env)
		}
		b.Environments[env] = child
	}

	if b.Default == nil {
		var missing []string
		for _, env := range knownEnvironments {
			if _, ok := b.Environments[env]; !ok {
				missing = append(missing, env)
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("environment text provider: %w: no Default supplied and no provider for %s",
				ErrMissingDefaultProvider, strings.Join(missing, ", "))
		}
	}
	return b, nil
}

func (b *EnvironmentTextBuilder) Build(deps Dependencies, product ProductConfig) (TextProvider, error) {
	providers := make(map[string]TextProvider, len(b.Environments))
	for env, child := range b.Environments {
		p, err := child.Build(deps, product)
		if err != nil {
			return nil, fmt.Errorf("environment text provider: %s: %w", env, err)
		}
		providers[env] = p
	}

	var fallback TextProvider
	if b.Default != nil {
		p, err := b.Default.Build(deps, product)
		if err != nil {
			return nil, fmt.Errorf("environment text provider: Default: %w", err)
		}
		fallback = p
	}

	env := deps.Environment
	return TextProviderFunc(func(ctx context.Context, ev *events.ApplicationEvent) (string, error) {
		if p, ok := providers[env]; ok {
			return p.Invoke(ctx, ev)
		}
		if fallback != nil {
			return fallback.Invoke(ctx, ev)
		}
		return "", fmt.Errorf("environment text provider: %w: environment %q", ErrMissingDefaultProvider, env)
	}), nil
}

// JSONToURLEncodedBuilder URL-encodes the JSON output of another text
// provider.
type JSONToURLEncodedBuilder struct {
	Source TextProviderBuilder
}

func decodeJSONToURLEncodedText(r *Registries, raw json.RawMessage) (*JSONToURLEncodedBuilder, error) {
	var spec struct {
		Source json.RawMessage `json:"Source"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("json-to-url-encoded text provider: %w", err)
	}
	source, err := r.DecodeTextSlot(spec.Source)
	if err != nil {
		return nil, fmt.Errorf("json-to-url-encoded text provider: Source: %w", err)
	}
	if source == nil {
		return nil, errors.New("json-to-url-encoded text provider: Source is required")
	}
	return &JSONToURLEncodedBuilder{Source: source}, nil
}

func (b *JSONToURLEncodedBuilder) Build(deps Dependencies, product ProductConfig) (TextProvider, error) {
	source, err := b.Source.Build(deps, product)
	if err != nil {
		return nil, fmt.Errorf("json-to-url-encoded text provider: %w", err)
	}
	return TextProviderFunc(func(ctx context.Context, ev *events.ApplicationEvent) (string, error) {
		raw, err := source.Invoke(ctx, ev)
		if err != nil {
			return "", err
		}
		return url.QueryEscape(raw), nil
	}), nil
}

// ApplicationDataTextBuilder reads a named field from the quote's
// application-level data.
type ApplicationDataTextBuilder struct {
	FieldName string `json:"FieldName"`
}

func decodeApplicationDataText(raw json.RawMessage) (*ApplicationDataTextBuilder, error) {
	b, err := decodeInto[ApplicationDataTextBuilder]("application data text provider", raw)
	if err != nil {
		return nil, err
	}
	if b.FieldName == "" {
		return nil, errors.New("application data text provider: FieldName is required")
	}
	return b, nil
}

func (b *ApplicationDataTextBuilder) Build(deps Dependencies, product ProductConfig) (TextProvider, error) {
	if deps.AppData == nil {
		return nil, errors.New("application data text provider: application data reader not configured")
	}
	appData := deps.AppData
	field := b.FieldName
	return TextProviderFunc(func(ctx context.Context, ev *events.ApplicationEvent) (string, error) {
		data, err := appData.ApplicationData(ctx, ev.EntityID)
		if err != nil {
			return "", fmt.Errorf("application data field %q: %w", field, err)
		}
		return formatValue(data[field]), nil
	}), nil
}

// FlattenedJSONBuilder merges the JSON object fragments produced by its
// sources into a single serialized object. Later sources win on key
// collisions; source order is declaration order.
type FlattenedJSONBuilder struct {
	Sources []TextProviderBuilder
}

func decodeFlattenedJSONText(r *Registries, raw json.RawMessage) (*FlattenedJSONBuilder, error) {
	var spec struct {
		Sources []json.RawMessage `json:"Sources"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("flattened json text provider: %w", err)
	}
	if len(spec.Sources) == 0 {
		return nil, errors.New("flattened json text provider: Sources is required")
	}
	b := &FlattenedJSONBuilder{Sources: make([]TextProviderBuilder, 0, len(spec.Sources))}
	for i, sub := range spec.Sources {
		child, err := r.DecodeTextSlot(sub)
		if err != nil {
			return nil, fmt.Errorf("flattened json text provider: Sources[%d]: %w", i, err)
		}
		if child == nil {
			return nil, fmt.Errorf("flattened json text provider: Sources[%d]: empty provider slot", i)
		}
		b.Sources = append(b.Sources, child)
	}
	return b, nil
}

func (b *FlattenedJSONBuilder) Build(deps Dependencies, product ProductConfig) (TextProvider, error) {
	sources := make([]TextProvider, 0, len(b.Sources))
	for i, child := range b.Sources {
		p, err := child.Build(deps, product)
		if err != nil {
			return nil, fmt.Errorf("flattened json text provider: Sources[%d]: %w", i, err)
		}
		sources = append(sources, p)
	}
	return TextProviderFunc(func(ctx context.Context, ev *events.ApplicationEvent) (string, error) {
		merged := make(map[string]any)
		for i, p := range sources {
			fragment, err := p.Invoke(ctx, ev)
			if err != nil {
				return "", fmt.Errorf("flattened json: source %d: %w", i, err)
			}
			if strings.TrimSpace(fragment) == "" {
				continue
			}
			var obj map[string]any
			if err := json.Unmarshal([]byte(fragment), &obj); err != nil {
				return "", fmt.Errorf("flattened json: source %d is not a JSON object: %w", i, err)
			}
			for k, v := range obj {
				merged[k] = v
			}
		}
		// encoding/json sorts map keys, so output is deterministic.
		out, err := json.Marshal(merged)
		if err != nil {
			return "", fmt.Errorf("flattened json: %w", err)
		}
		return string(out), nil
	}), nil
}
