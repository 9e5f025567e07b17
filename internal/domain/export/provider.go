package export

import (
	"context"
	"encoding/json"

	"github.com/coverloop/coverloop/internal/domain/events"
)

// Attachment is a named piece of binary content produced by an attachment
// provider and carried on an email or stored as a document.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// TextProvider produces a text value for a triggering event. Providers are
// side-effect free with respect to engine state; they may perform read-only
// lookups against other subsystems.
type TextProvider interface {
	Invoke(ctx context.Context, ev *events.ApplicationEvent) (string, error)
}

// TextProviderFunc adapts a function to the TextProvider interface.
type TextProviderFunc func(ctx context.Context, ev *events.ApplicationEvent) (string, error)

func (f TextProviderFunc) Invoke(ctx context.Context, ev *events.ApplicationEvent) (string, error) {
	return f(ctx, ev)
}

// AttachmentProvider produces a binary attachment for a triggering event.
// IsIncluded is consulted first; providers whose predicate is false are
// never invoked.
type AttachmentProvider interface {
	IsIncluded(ctx context.Context, ev *events.ApplicationEvent) (bool, error)
	Invoke(ctx context.Context, ev *events.ApplicationEvent) (Attachment, error)
}

// WebServiceContext is the evaluation context for web-service text
// providers, which operate over a raw payload rather than an event.
type WebServiceContext struct {
	Payload   json.RawMessage
	Aggregate events.AggregateReference
	Product   ProductConfig
	QuoteID   string
}

// WebServiceTextProvider produces a text value for a web-service
// integration execution.
type WebServiceTextProvider interface {
	Invoke(ctx context.Context, wctx WebServiceContext) (string, error)
}

// WebServiceTextProviderFunc adapts a function to WebServiceTextProvider.
type WebServiceTextProviderFunc func(ctx context.Context, wctx WebServiceContext) (string, error)

func (f WebServiceTextProviderFunc) Invoke(ctx context.Context, wctx WebServiceContext) (string, error) {
	return f(ctx, wctx)
}

// TextProviderBuilder is the configuration-time form of a TextProvider.
type TextProviderBuilder interface {
	Build(deps Dependencies, product ProductConfig) (TextProvider, error)
}

// AttachmentProviderBuilder is the configuration-time form of an
// AttachmentProvider.
type AttachmentProviderBuilder interface {
	Build(deps Dependencies, product ProductConfig) (AttachmentProvider, error)
}

// WebServiceTextProviderBuilder is the configuration-time form of a
// WebServiceTextProvider.
type WebServiceTextProviderBuilder interface {
	Build(deps Dependencies, product ProductConfig) (WebServiceTextProvider, error)
}
