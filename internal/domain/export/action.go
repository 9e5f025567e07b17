package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/coverloop/coverloop/internal/domain/events"
)

// Action is the side-effecting operation an exporter runs when an event
// passes filtering.
type Action interface {
	Execute(ctx context.Context, ev *events.ApplicationEvent) error
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, ev *events.ApplicationEvent) error

func (f ActionFunc) Execute(ctx context.Context, ev *events.ApplicationEvent) error {
	return f(ctx, ev)
}

// ActionBuilder is the configuration-time form of an Action.
type ActionBuilder interface {
	Build(deps Dependencies, product ProductConfig) (Action, error)
}

// emailIDParameter is the job parameter under which a generated email's id
// is stored, so a retried job reuses it instead of generating a new email.
const emailIDParameter = "EmailId"

// EmailActionBuilder sends an email assembled from text and attachment
// providers.
type EmailActionBuilder struct {
	From         TextProviderBuilder
	To           TextProviderBuilder
	CC           TextProviderBuilder
	BCC          TextProviderBuilder
	Subject      TextProviderBuilder
	Body         TextProviderBuilder
	Attachments  []AttachmentProviderBuilder
	CacheEmailID bool
}

func decodeEmailAction(r *Registries, raw json.RawMessage) (*EmailActionBuilder, error) {
	var spec struct {
		From         json.RawMessage   `json:"From"`
		To           json.RawMessage   `json:"To"`
		CC           json.RawMessage   `json:"Cc"`
		BCC          json.RawMessage   `json:"Bcc"`
		Subject      json.RawMessage   `json:"Subject"`
		Body         json.RawMessage   `json:"Body"`
		Attachments  []json.RawMessage `json:"Attachments"`
		CacheEmailID bool              `json:"CacheEmailId"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("email action: %w", err)
	}

	b := &EmailActionBuilder{CacheEmailID: spec.CacheEmailID}
	slots := []struct {
		name string
		raw  json.RawMessage
		dst  *TextProviderBuilder
	}{
		{"From", spec.From, &b.From},
		{"To", spec.To, &b.To},
		{"Cc", spec.CC, &b.CC},
		{"Bcc", spec.BCC, &b.BCC},
		{"Subject", spec.Subject, &b.Subject},
		{"Body", spec.Body, &b.Body},
	}
	for _, slot := range slots {
		p, err := r.DecodeTextSlot(slot.raw)
		if err != nil {
			return nil, fmt.Errorf("email action: %s: %w", slot.name, err)
		}
		*slot.dst = p
	}
	if b.To == nil {
		return nil, errors.New("email action: To is required")
	}
	if b.Subject == nil {
		return nil, errors.New("email action: Subject is required")
	}
	if b.Body == nil {
		return nil, errors.New("email action: Body is required")
	}

	for i, att := range spec.Attachments {
		child, err := r.Attachments.Decode(att)
		if err != nil {
			return nil, fmt.Errorf("email action: Attachments[%d]: %w", i, err)
		}
		b.Attachments = append(b.Attachments, child)
	}
	return b, nil
}

// splitAddresses splits a provider's output into a recipient list on
// semicolons and commas.
func splitAddresses(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (b *EmailActionBuilder) Build(deps Dependencies, product ProductConfig) (Action, error) {
	if deps.Mail == nil {
		return nil, errors.New("email action: mail sender not configured")
	}

	buildSlot := func(name string, child TextProviderBuilder) (TextProvider, error) {
		if child == nil {
			return nil, nil
		}
		p, err := child.Build(deps, product)
		if err != nil {
			return nil, fmt.Errorf("email action: %s: %w", name, err)
		}
		return p, nil
	}

	from, err := buildSlot("From", b.From)
	if err != nil {
		return nil, err
	}
	to, err := buildSlot("To", b.To)
	if err != nil {
		return nil, err
	}
	cc, err := buildSlot("Cc", b.CC)
	if err != nil {
		return nil, err
	}
	bcc, err := buildSlot("Bcc", b.BCC)
	if err != nil {
		return nil, err
	}
	subject, err := buildSlot("Subject", b.Subject)
	if err != nil {
		return nil, err
	}
	body, err := buildSlot("Body", b.Body)
	if err != nil {
		return nil, err
	}

	attachments := make([]AttachmentProvider, 0, len(b.Attachments))
	for i, child := range b.Attachments {
		p, err := child.Build(deps, product)
		if err != nil {
			return nil, fmt.Errorf("email action: Attachments[%d]: %w", i, err)
		}
		attachments = append(attachments, p)
	}

	mail := deps.Mail
	jobParams := deps.JobParams
	logger := deps.logger()
	cacheEmailID := b.CacheEmailID
	defaultFrom := product.DefaultFromAddress

	return ActionFunc(func(ctx context.Context, ev *events.ApplicationEvent) error {
		invoke := func(p TextProvider) (string, error) {
			if p == nil {
				return "", nil
			}
			return p.Invoke(ctx, ev)
		}

		msg := MailMessage{}
		var err error
		if msg.From, err = invoke(from); err != nil {
			return fmt.Errorf("email action: From: %w", err)
		}
		if msg.From == "" {
			msg.From = defaultFrom
		}
		toValue, err := invoke(to)
		if err != nil {
			return fmt.Errorf("email action: To: %w", err)
		}
		msg.To = splitAddresses(toValue)
		ccValue, err := invoke(cc)
		if err != nil {
			return fmt.Errorf("email action: Cc: %w", err)
		}
		msg.CC = splitAddresses(ccValue)
		bccValue, err := invoke(bcc)
		if err != nil {
			return fmt.Errorf("email action: Bcc: %w", err)
		}
		msg.BCC = splitAddresses(bccValue)
		if msg.Subject, err = invoke(subject); err != nil {
			return fmt.Errorf("email action: Subject: %w", err)
		}
		if msg.Body, err = invoke(body); err != nil {
			return fmt.Errorf("email action: Body: %w", err)
		}

		// Inclusion predicates run before any attachment is materialized.
		for _, p := range attachments {
			included, err := p.IsIncluded(ctx, ev)
			if err != nil {
				return fmt.Errorf("email action: attachment inclusion: %w", err)
			}
			if !included {
				continue
			}
			att, err := p.Invoke(ctx, ev)
			if err != nil {
				return fmt.Errorf("email action: attachment: %w", err)
			}
			msg.Attachments = append(msg.Attachments, att)
		}

		msg.EmailID = uuid.NewString()
		if cacheEmailID && jobParams != nil && ev.JobID != "" {
			if cached, ok, err := jobParams.Get(ctx, ev.JobID, emailIDParameter); err != nil {
				return fmt.Errorf("email action: read %s parameter: %w", emailIDParameter, err)
			} else if ok {
				msg.EmailID = cached
			} else if err := jobParams.Set(ctx, ev.JobID, emailIDParameter, msg.EmailID); err != nil {
				return fmt.Errorf("email action: store %s parameter: %w", emailIDParameter, err)
			}
		}

		if err := mail.Send(ctx, msg); err != nil {
			return fmt.Errorf("email action: send: %w", err)
		}
		logger.Info("email action sent",
			"email_id", msg.EmailID,
			"event_id", ev.EventID,
			"recipients", len(msg.To),
			"attachments", len(msg.Attachments))
		return nil
	}), nil
}

// HTTPActionBuilder posts a provider-assembled payload to a provider-
// resolved URL. Unlike web-service integrations, failures here propagate
// and fail the job.
type HTTPActionBuilder struct {
	URL         TextProviderBuilder
	Body        TextProviderBuilder
	Method      string
	ContentType string
}

func decodeHTTPAction(r *Registries, raw json.RawMessage) (*HTTPActionBuilder, error) {
	var spec struct {
		URL         json.RawMessage `json:"Url"`
		Body        json.RawMessage `json:"Body"`
		Method      string          `json:"Method"`
		ContentType string          `json:"ContentType"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("http action: %w", err)
	}

	urlProvider, err := r.DecodeTextSlot(spec.URL)
	if err != nil {
		return nil, fmt.Errorf("http action: Url: %w", err)
	}
	if urlProvider == nil {
		return nil, errors.New("http action: Url is required")
	}
	bodyProvider, err := r.DecodeTextSlot(spec.Body)
	if err != nil {
		return nil, fmt.Errorf("http action: Body: %w", err)
	}

	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}
	return &HTTPActionBuilder{
		URL:         urlProvider,
		Body:        bodyProvider,
		Method:      strings.ToUpper(method),
		ContentType: spec.ContentType,
	}, nil
}

// contentTypeHeader maps a configured content type name to its header
// value. An unrecognized name is a fatal execution error, not a silent
// no-op.
func contentTypeHeader(name string) (string, error) {
	switch name {
	case "Json", "":
		return "application/json", nil
	case "Urlencoded":
		return "application/x-www-form-urlencoded", nil
	case "PlainText":
		return "text/plain", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrContentTypeNotSupported, name)
	}
}

func (b *HTTPActionBuilder) Build(deps Dependencies, product ProductConfig) (Action, error) {
	urlProvider, err := b.URL.Build(deps, product)
	if err != nil {
		return nil, fmt.Errorf("http action: Url: %w", err)
	}
	var bodyProvider TextProvider
	if b.Body != nil {
		if bodyProvider, err = b.Body.Build(deps, product); err != nil {
			return nil, fmt.Errorf("http action: Body: %w", err)
		}
	}

	client := deps.httpClient()
	logger := deps.logger()
	method := b.Method
	contentType := b.ContentType

	return ActionFunc(func(ctx context.Context, ev *events.ApplicationEvent) error {
		header, err := contentTypeHeader(contentType)
		if err != nil {
			return fmt.Errorf("http action: %w", err)
		}

		target, err := urlProvider.Invoke(ctx, ev)
		if err != nil {
			return fmt.Errorf("http action: Url: %w", err)
		}
		var body string
		if bodyProvider != nil {
			if body, err = bodyProvider.Invoke(ctx, ev); err != nil {
				return fmt.Errorf("http action: Body: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, target, strings.NewReader(body))
		if err != nil {
			return fmt.Errorf("http action: create request: %w", err)
		}
		req.Header.Set("Content-Type", header)

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("http action: send request: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 300 {
			return fmt.Errorf("http action: %s returned status %d", target, resp.StatusCode)
		}
		logger.Info("http action delivered",
			"event_id", ev.EventID,
			"method", method,
			"status", resp.StatusCode)
		return nil
	}), nil
}

// FileDocumentActionBuilder renders a document and stores it against the
// quote.
type FileDocumentActionBuilder struct {
	Document *DocumentAttachmentBuilder
}

func decodeFileDocumentAction(r *Registries, raw json.RawMessage) (*FileDocumentActionBuilder, error) {
	doc, err := decodeDocumentAttachment(r, raw)
	if err != nil {
		return nil, fmt.Errorf("file document action: %w", err)
	}
	return &FileDocumentActionBuilder{Document: doc}, nil
}

func (b *FileDocumentActionBuilder) Build(deps Dependencies, product ProductConfig) (Action, error) {
	if deps.Files == nil {
		return nil, errors.New("file document action: file store not configured")
	}
	provider, err := b.Document.Build(deps, product)
	if err != nil {
		return nil, fmt.Errorf("file document action: %w", err)
	}

	files := deps.Files
	logger := deps.logger()
	return ActionFunc(func(ctx context.Context, ev *events.ApplicationEvent) error {
		included, err := provider.IsIncluded(ctx, ev)
		if err != nil {
			return fmt.Errorf("file document action: %w", err)
		}
		if !included {
			logger.Debug("file document action skipped by inclusion condition", "event_id", ev.EventID)
			return nil
		}
		att, err := provider.Invoke(ctx, ev)
		if err != nil {
			return fmt.Errorf("file document action: %w", err)
		}
		documentID, err := files.SaveDocument(ctx, ev.EntityID, att)
		if err != nil {
			return fmt.Errorf("file document action: save: %w", err)
		}
		logger.Info("file document action stored document",
			"event_id", ev.EventID,
			"document_id", documentID,
			"name", att.Name)
		return nil
	}), nil
}
