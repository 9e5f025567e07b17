package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// DecodeFunc decodes the raw JSON for one discriminator into a builder node.
type DecodeFunc[T any] func(raw json.RawMessage) (T, error)

// TypeMap maps a "type" discriminator to the decoder for the concrete
// builder. One TypeMap exists per discriminator family and is immutable
// after construction; registries are passed in explicitly, never held as
// package state.
type TypeMap[T any] struct {
	family   string
	decoders map[string]DecodeFunc[T]
}

// NewTypeMap creates a TypeMap for a family from its decoder set.
func NewTypeMap[T any](family string, decoders map[string]DecodeFunc[T]) *TypeMap[T] {
	m := &TypeMap[T]{
		family:   family,
		decoders: make(map[string]DecodeFunc[T], len(decoders)),
	}
	for k, v := range decoders {
		m.decoders[k] = v
	}
	return m
}

// Discriminators returns the registered discriminators in sorted order.
func (m *TypeMap[T]) Discriminators() []string {
	out := make([]string, 0, len(m.decoders))
	for k := range m.decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decode reads the "type" field of raw and dispatches to the registered
// decoder for it.
func (m *TypeMap[T]) Decode(raw json.RawMessage) (T, error) {
	var zero T

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return zero, fmt.Errorf("%s: read discriminator: %w", m.family, err)
	}
	if head.Type == "" {
		return zero, fmt.Errorf("%s: %w", m.family, ErrMissingType)
	}

	decode, ok := m.decoders[head.Type]
	if !ok {
		return zero, fmt.Errorf("%s: %w: %q", m.family, ErrUnknownType, head.Type)
	}
	return decode(raw)
}

// Registries bundles the five discriminator families used by one
// configuration decode. Nested slots resolve through the same instance, so
// composite providers decode with the full family vocabulary.
type Registries struct {
	Actions     *TypeMap[ActionBuilder]
	Conditions  *TypeMap[ConditionBuilder]
	Text        *TypeMap[TextProviderBuilder]
	Attachments *TypeMap[AttachmentProviderBuilder]
	WebText     *TypeMap[WebServiceTextProviderBuilder]
}

// NewRegistries constructs the default discriminator vocabulary.
func NewRegistries() *Registries {
	r := &Registries{}

	r.Text = NewTypeMap("text provider", map[string]DecodeFunc[TextProviderBuilder]{
		"fixed":            func(raw json.RawMessage) (TextProviderBuilder, error) { return decodeFixedText(raw) },
		"formField":        func(raw json.RawMessage) (TextProviderBuilder, error) { return decodeFormFieldText(raw) },
		"formDataJson":     func(raw json.RawMessage) (TextProviderBuilder, error) { return decodeFormDataJSONText(raw) },
		"razor":            func(raw json.RawMessage) (TextProviderBuilder, error) { return decodeTemplateText(raw) },
		"environment":      func(raw json.RawMessage) (TextProviderBuilder, error) { return decodeEnvironmentText(r, raw) },
		"jsonToUrlEncoded": func(raw json.RawMessage) (TextProviderBuilder, error) { return decodeJSONToURLEncodedText(r, raw) },
		"applicationData":  func(raw json.RawMessage) (TextProviderBuilder, error) { return decodeApplicationDataText(raw) },
		"flattenedJson":    func(raw json.RawMessage) (TextProviderBuilder, error) { return decodeFlattenedJSONText(r, raw) },
	})

	r.Attachments = NewTypeMap("attachment provider", map[string]DecodeFunc[AttachmentProviderBuilder]{
		"document":         func(raw json.RawMessage) (AttachmentProviderBuilder, error) { return decodeDocumentAttachment(r, raw) },
		"file":             func(raw json.RawMessage) (AttachmentProviderBuilder, error) { return decodeFileAttachment(r, raw) },
		"existingDocument": func(raw json.RawMessage) (AttachmentProviderBuilder, error) { return decodeExistingDocumentAttachment(r, raw) },
		"upload":           func(raw json.RawMessage) (AttachmentProviderBuilder, error) { return decodeUploadAttachment(r, raw) },
		"text":             func(raw json.RawMessage) (AttachmentProviderBuilder, error) { return decodeTextAttachment(r, raw) },
	})

	r.WebText = NewTypeMap("web-service text provider", map[string]DecodeFunc[WebServiceTextProviderBuilder]{
		"fixed":        func(raw json.RawMessage) (WebServiceTextProviderBuilder, error) { return decodeFixedWebText(raw) },
		"template":     func(raw json.RawMessage) (WebServiceTextProviderBuilder, error) { return decodeTemplateWebText(raw) },
		"payloadField": func(raw json.RawMessage) (WebServiceTextProviderBuilder, error) { return decodePayloadFieldWebText(raw) },
	})

	r.Conditions = NewTypeMap("condition", map[string]DecodeFunc[ConditionBuilder]{
		"formFieldValueEquals":  func(raw json.RawMessage) (ConditionBuilder, error) { return decodeFormFieldValueEquals(raw) },
		"quoteStateEquals":      func(raw json.RawMessage) (ConditionBuilder, error) { return decodeQuoteStateEquals(raw) },
		"newWorkflowStepEquals": func(raw json.RawMessage) (ConditionBuilder, error) { return decodeNewWorkflowStepEquals(raw) },
		"replayOnly":            func(raw json.RawMessage) (ConditionBuilder, error) { return decodeReplayOnly(raw) },
	})

	r.Actions = NewTypeMap("action", map[string]DecodeFunc[ActionBuilder]{
		"email":        func(raw json.RawMessage) (ActionBuilder, error) { return decodeEmailAction(r, raw) },
		"http":         func(raw json.RawMessage) (ActionBuilder, error) { return decodeHTTPAction(r, raw) },
		"filedocument": func(raw json.RawMessage) (ActionBuilder, error) { return decodeFileDocumentAction(r, raw) },
	})

	return r
}

// DecodeTextSlot decodes one text-provider slot. A bare JSON string is
// sugar for a fixed-text provider; null or absent means no provider.
func (r *Registries) DecodeTextSlot(raw json.RawMessage) (TextProviderBuilder, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("text provider: decode string literal: %w", err)
		}
		return &FixedTextBuilder{Text: s}, nil
	}
	return r.Text.Decode(trimmed)
}

// DecodeWebTextSlot decodes one web-service text-provider slot, with the
// same bare-string sugar as DecodeTextSlot.
func (r *Registries) DecodeWebTextSlot(raw json.RawMessage) (WebServiceTextProviderBuilder, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("web-service text provider: decode string literal: %w", err)
		}
		return &FixedWebTextBuilder{Text: s}, nil
	}
	return r.WebText.Decode(trimmed)
}

// DecodeConditionSlot decodes an optional condition slot.
func (r *Registries) DecodeConditionSlot(raw json.RawMessage) (ConditionBuilder, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	return r.Conditions.Decode(trimmed)
}

func decodeInto[B any](family string, raw json.RawMessage) (*B, error) {
	var b B
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%s: %w", family, err)
	}
	return &b, nil
}
