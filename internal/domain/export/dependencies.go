package export

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/coverloop/coverloop/internal/domain/quote"
)

// Renderer turns a template source and a data document into text. The
// concrete engine lives in infrastructure.
type Renderer interface {
	Render(ctx context.Context, source string, data any) (string, error)
}

// MailMessage is a fully resolved outbound email.
type MailMessage struct {
	EmailID     string
	From        string
	To          []string
	CC          []string
	BCC         []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// MailSender hands a resolved message to the outbound mail transport.
type MailSender interface {
	Send(ctx context.Context, msg MailMessage) error
}

// FileStore exposes stored files, generated documents and customer uploads.
type FileStore interface {
	GetFile(ctx context.Context, fileID string) (Attachment, error)
	GetDocument(ctx context.Context, quoteID, documentID string) (Attachment, error)
	GetUpload(ctx context.Context, quoteID, fieldName string) (Attachment, error)
	SaveDocument(ctx context.Context, quoteID string, att Attachment) (string, error)
}

// JobParameterStore persists named string parameters against the background
// job executing an exporter, so retried jobs can be idempotent.
type JobParameterStore interface {
	Get(ctx context.Context, jobID, name string) (string, bool, error)
	Set(ctx context.Context, jobID, name, value string) error
}

// DeadLetterEntry records one failed web-service integration execution.
type DeadLetterEntry struct {
	IntegrationID string    `json:"integration_id"`
	URL           string    `json:"url"`
	Code          int       `json:"code"`
	ErrorBody     string    `json:"error_body,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// DeadLetterRecorder captures failed integration executions for operators.
type DeadLetterRecorder interface {
	Record(ctx context.Context, entry DeadLetterEntry) error
}

// Dependencies is the bag of collaborators injected into builder trees at
// Build time. Nil fields are tolerated by providers that can degrade (see
// the condition contract); providers that cannot degrade fail at Build.
type Dependencies struct {
	Logger      *slog.Logger
	Clock       func() time.Time
	Renderer    Renderer
	Forms       quote.FormDataReader
	AppData     quote.ApplicationDataReader
	Quotes      quote.Lookup
	Mail        MailSender
	Files       FileStore
	HTTPClient  *http.Client
	TokenSource oauth2.TokenSource
	JobParams   JobParameterStore
	DeadLetters DeadLetterRecorder

	// Environment is the deployment environment name used by
	// environment-switching providers (for example "Production").
	Environment string

	// HTTPTimeout bounds a single web-service integration call.
	HTTPTimeout time.Duration
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Dependencies) now() time.Time {
	if d.Clock == nil {
		return time.Now().UTC()
	}
	return d.Clock()
}

func (d Dependencies) httpClient() *http.Client {
	if d.HTTPClient == nil {
		return &http.Client{Timeout: 10 * time.Second}
	}
	return d.HTTPClient
}

// ProductConfig scopes a builder tree to one product release.
type ProductConfig struct {
	TenantID           string
	ProductID          string
	ReleaseID          string
	DefaultFromAddress string
	Variables          map[string]string
}
