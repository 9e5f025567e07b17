package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// FixedWebTextBuilder yields a literal string for a web-service slot.
type FixedWebTextBuilder struct {
	Text string `json:"Text"`
}

func decodeFixedWebText(raw json.RawMessage) (*FixedWebTextBuilder, error) {
	return decodeInto[FixedWebTextBuilder]("fixed web-service text provider", raw)
}

func (b *FixedWebTextBuilder) Build(deps Dependencies, product ProductConfig) (WebServiceTextProvider, error) {
	text := b.Text
	return WebServiceTextProviderFunc(func(ctx context.Context, wctx WebServiceContext) (string, error) {
		return text, nil
	}), nil
}

// TemplateWebTextBuilder renders a template against the web-service
// context: the raw payload, aggregate reference, product configuration and
// quote id.
type TemplateWebTextBuilder struct {
	Template string `json:"Template"`
}

func decodeTemplateWebText(raw json.RawMessage) (*TemplateWebTextBuilder, error) {
	b, err := decodeInto[TemplateWebTextBuilder]("template web-service text provider", raw)
	if err != nil {
		return nil, err
	}
	if b.Template == "" {
		return nil, errors.New("template web-service text provider: Template is required")
	}
	return b, nil
}

func (b *TemplateWebTextBuilder) Build(deps Dependencies, product ProductConfig) (WebServiceTextProvider, error) {
	if deps.Renderer == nil {
		return nil, errors.New("template web-service text provider: renderer not configured")
	}
	renderer := deps.Renderer
	source := b.Template
	return WebServiceTextProviderFunc(func(ctx context.Context, wctx WebServiceContext) (string, error) {
		data := map[string]any{
			"Aggregate": wctx.Aggregate,
			"Product":   wctx.Product,
			"QuoteId":   wctx.QuoteID,
			"Variables": wctx.Product.Variables,
		}
		if len(wctx.Payload) > 0 {
			var payload any
			if err := json.Unmarshal(wctx.Payload, &payload); err != nil {
				return "", fmt.Errorf("template web-service text provider: payload: %w", err)
			}
			data["Payload"] = payload
		}
		out, err := renderer.Render(ctx, source, data)
		if err != nil {
			return "", fmt.Errorf("template web-service text provider: %w", err)
		}
		return out, nil
	}), nil
}

// PayloadFieldWebTextBuilder reads a top-level field out of the payload
// JSON object.
type PayloadFieldWebTextBuilder struct {
	FieldName string `json:"FieldName"`
}

func decodePayloadFieldWebText(raw json.RawMessage) (*PayloadFieldWebTextBuilder, error) {
	b, err := decodeInto[PayloadFieldWebTextBuilder]("payload field web-service text provider", raw)
	if err != nil {
		return nil, err
	}
	if b.FieldName == "" {
		return nil, errors.New("payload field web-service text provider: FieldName is required")
	}
	return b, nil
}

func (b *PayloadFieldWebTextBuilder) Build(deps Dependencies, product ProductConfig) (WebServiceTextProvider, error) {
	field := b.FieldName
	return WebServiceTextProviderFunc(func(ctx context.Context, wctx WebServiceContext) (string, error) {
		if len(wctx.Payload) == 0 {
			return "", nil
		}
		var obj map[string]any
		if err := json.Unmarshal(wctx.Payload, &obj); err != nil {
			return "", fmt.Errorf("payload field %q: payload is not a JSON object: %w", field, err)
		}
		return formatValue(obj[field]), nil
	}), nil
}
