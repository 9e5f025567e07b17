package export

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/coverloop/coverloop/internal/domain/events"
)

// mockMail records sent messages.
type mockMail struct {
	mu   sync.Mutex
	sent []MailMessage
}

func (m *mockMail) Send(ctx context.Context, msg MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockMail) messages() []MailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MailMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// echoRenderer returns the template source unchanged.
type echoRenderer struct{}

func (echoRenderer) Render(ctx context.Context, source string, data any) (string, error) {
	return source, nil
}

func mustExporter(t *testing.T, id string, types ...events.EventType) *Exporter {
	t.Helper()
	e, err := NewExporter(id, types, nil, &countingAction{}, nil)
	if err != nil {
		t.Fatalf("NewExporter(%s) failed: %v", id, err)
	}
	return e
}

func TestNewIntegrationConfiguration_DuplicateExporterIDs(t *testing.T) {
	_, err := NewIntegrationConfiguration([]*Exporter{
		mustExporter(t, "a", events.PolicyIssued),
		mustExporter(t, "b", events.PolicyIssued),
		mustExporter(t, "a", events.QuoteSubmitted),
		mustExporter(t, "b", events.QuoteSubmitted),
	}, nil, ProductConfig{})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}

	var dup *DuplicateIDError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateIDError, got %T", err)
	}
	if len(dup.ExporterIDs) != 2 {
		t.Errorf("expected both duplicate ids reported, got %v", dup.ExporterIDs)
	}
}

func TestGetExportersForEvent_NoSubscriber(t *testing.T) {
	cfg, err := NewIntegrationConfiguration([]*Exporter{
		mustExporter(t, "policy-mail", events.PolicyIssued),
	}, nil, ProductConfig{})
	if err != nil {
		t.Fatalf("NewIntegrationConfiguration failed: %v", err)
	}

	if ids := cfg.ExportersForEvent(events.QuoteVersionCreated); len(ids) != 0 {
		t.Errorf("expected no exporters for QuoteVersionCreated, got %v", ids)
	}
	if ids := cfg.ExportersForEvent(events.PolicyIssued); len(ids) != 1 || ids[0] != "policy-mail" {
		t.Errorf("expected [policy-mail], got %v", ids)
	}
}

func TestExportersForEvent_DeclarationOrder(t *testing.T) {
	cfg, err := NewIntegrationConfiguration([]*Exporter{
		mustExporter(t, "first", events.PolicyIssued),
		mustExporter(t, "second", events.PolicyIssued),
		mustExporter(t, "third", events.PolicyIssued),
	}, nil, ProductConfig{})
	if err != nil {
		t.Fatalf("NewIntegrationConfiguration failed: %v", err)
	}

	ids := cfg.ExportersForEvent(events.PolicyIssued)
	want := []string{"first", "second", "third"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], ids[i])
		}
	}
}

func TestExecuteExporter_NotFound(t *testing.T) {
	cfg, err := NewIntegrationConfiguration(nil, nil, ProductConfig{})
	if err != nil {
		t.Fatalf("NewIntegrationConfiguration failed: %v", err)
	}
	_, err = cfg.ExecuteExporter(context.Background(), "nope", newTestEvent(events.PolicyIssued))
	if !errors.Is(err, ErrExporterNotFound) {
		t.Errorf("expected ErrExporterNotFound, got %v", err)
	}
}

func TestExporterByID_NonThrowingLookup(t *testing.T) {
	cfg, err := NewIntegrationConfiguration([]*Exporter{
		mustExporter(t, "a", events.PolicyIssued),
	}, nil, ProductConfig{})
	if err != nil {
		t.Fatalf("NewIntegrationConfiguration failed: %v", err)
	}
	if _, ok := cfg.ExporterByID("a"); !ok {
		t.Error("expected to find exporter a")
	}
	if _, ok := cfg.ExporterByID("missing"); ok {
		t.Error("expected missing exporter to report ok=false")
	}
}

func TestExecuteWebIntegration_NotFound(t *testing.T) {
	cfg, err := NewIntegrationConfiguration(nil, nil, ProductConfig{})
	if err != nil {
		t.Fatalf("NewIntegrationConfiguration failed: %v", err)
	}
	_, err = cfg.ExecuteWebIntegration(context.Background(), "nope", nil, events.AggregateReference{}, "q-1")
	if !errors.Is(err, ErrIntegrationNotFound) {
		t.Errorf("expected ErrIntegrationNotFound, got %v", err)
	}
}

const sampleConfiguration = `{
  "EventExporters": [
    {
      "Id": "policy-issued-mail",
      "Events": ["PolicyIssued"],
      "Condition": {"type": "quoteStateEquals"},
      "Action": {
        "type": "email",
        "From": "noreply@coverloop.example",
        "To": {"type": "formField", "FieldName": "email"},
        "Subject": "Your policy is ready",
        "Body": {"type": "razor", "Template": "Dear customer, your policy has been issued."}
      }
    },
    {
      "Id": "policy-issued-webhook",
      "Events": ["PolicyIssued"],
      "Action": {
        "type": "http",
        "Url": {
          "type": "environment",
          "Default": "https://hooks.example/dev",
          "Environments": {"Production": "https://hooks.example/prod"}
        },
        "Body": {"type": "formDataJson"},
        "ContentType": "Json"
      }
    }
  ],
  "WebServiceIntegrations": [
    {
      "Id": "crm-sync",
      "RequestType": "Post",
      "Url": "https://crm.example/sync",
      "Headers": ["X-Api-Key:secret"],
      "RequestTemplate": {"type": "template", "Template": "{}"}
    }
  ]
}`

func TestDecodeConfiguration_EndToEnd(t *testing.T) {
	spec, err := DecodeConfiguration([]byte(sampleConfiguration), NewRegistries())
	if err != nil {
		t.Fatalf("DecodeConfiguration failed: %v", err)
	}
	if len(spec.Exporters) != 2 {
		t.Fatalf("expected 2 exporters, got %d", len(spec.Exporters))
	}
	if len(spec.WebIntegrations) != 1 {
		t.Fatalf("expected 1 web integration, got %d", len(spec.WebIntegrations))
	}

	deps := Dependencies{
		Renderer: echoRenderer{},
		Forms:    &mockForms{data: map[string]any{"email": "a@b.com"}},
		Mail:     &mockMail{},
	}
	cfg, err := spec.Build(deps, ProductConfig{ReleaseID: "release-1"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ids := cfg.ExportersForEvent(events.PolicyIssued)
	if len(ids) != 2 || ids[0] != "policy-issued-mail" || ids[1] != "policy-issued-webhook" {
		t.Errorf("unexpected exporter ids %v", ids)
	}
	if got := cfg.WebIntegrationIDs(); len(got) != 1 || got[0] != "crm-sync" {
		t.Errorf("unexpected web integration ids %v", got)
	}
}

func TestDecodeConfiguration_DuplicateIDsFailAtParse(t *testing.T) {
	doc := `{
	  "EventExporters": [
	    {"Id": "dup", "Events": ["PolicyIssued"], "Action": {"type": "http", "Url": "https://a.example"}},
	    {"Id": "dup", "Events": ["QuoteSubmitted"], "Action": {"type": "http", "Url": "https://b.example"}}
	  ]
	}`
	_, err := DecodeConfiguration([]byte(doc), NewRegistries())
	var dup *DuplicateIDError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateIDError, got %v", err)
	}
	if len(dup.ExporterIDs) != 1 || dup.ExporterIDs[0] != "dup" {
		t.Errorf("expected [dup], got %v", dup.ExporterIDs)
	}
}

func TestDecodeConfiguration_SchemaViolation(t *testing.T) {
	doc := `{"EventExporters": [{"Events": ["PolicyIssued"]}]}`
	if _, err := DecodeConfiguration([]byte(doc), NewRegistries()); err == nil {
		t.Error("expected schema violation for exporter without Id/Action")
	}
}

func TestDecodeConfiguration_MailActionSendsThroughBuiltTree(t *testing.T) {
	spec, err := DecodeConfiguration([]byte(sampleConfiguration), NewRegistries())
	if err != nil {
		t.Fatalf("DecodeConfiguration failed: %v", err)
	}

	sender := &mockMail{}
	deps := Dependencies{
		Renderer: echoRenderer{},
		Forms:    &mockForms{data: map[string]any{"email": "customer@example.com"}},
		Mail:     &mockMail{},
	}
	deps.Mail = sender
	cfg, err := spec.Build(deps, ProductConfig{ReleaseID: "release-1"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if _, err := cfg.ExecuteExporter(context.Background(), "policy-issued-mail", newTestEvent(events.PolicyIssued)); err != nil {
		t.Fatalf("ExecuteExporter failed: %v", err)
	}
	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].To[0] != "customer@example.com" {
		t.Errorf("unexpected recipient %v", msgs[0].To)
	}
	if msgs[0].Subject != "Your policy is ready" {
		t.Errorf("unexpected subject %q", msgs[0].Subject)
	}
}
