package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/coverloop/coverloop/internal/domain/events"
)

// configurationSchema is the structural contract an integration
// configuration document must satisfy before polymorphic decoding starts.
// The discriminator vocabulary itself is checked by the registries.
const configurationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "EventExporters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["Id", "Events", "Action"],
        "properties": {
          "Id": {"type": "string", "minLength": 1},
          "Events": {"type": "array", "items": {"type": "string"}},
          "Action": {"type": "object", "required": ["type"]},
          "Condition": {"type": "object", "required": ["type"]}
        }
      }
    },
    "WebServiceIntegrations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["Id", "RequestType", "Url"],
        "properties": {
          "Id": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var configurationSchemaLoader = gojsonschema.NewStringLoader(configurationSchema)

// ConfigurationSpec is the validated builder tree for one product release:
// everything that can be checked without dependencies has been checked.
type ConfigurationSpec struct {
	Exporters       []*ExporterSpec
	WebIntegrations []*WebIntegrationSpec
}

// DecodeConfiguration parses a configuration document into a builder tree.
// Structural violations, unknown discriminators and malformed nodes all
// fail here, before any dependency is involved.
func DecodeConfiguration(raw []byte, regs *Registries) (*ConfigurationSpec, error) {
	result, err := gojsonschema.Validate(configurationSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("configuration: validate: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("configuration: schema violations: %s", strings.Join(problems, "; "))
	}

	var doc struct {
		EventExporters         []json.RawMessage `json:"EventExporters"`
		WebServiceIntegrations []json.RawMessage `json:"WebServiceIntegrations"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	spec := &ConfigurationSpec{}
	for i, e := range doc.EventExporters {
		exporter, err := decodeExporterSpec(regs, e)
		if err != nil {
			return nil, fmt.Errorf("configuration: EventExporters[%d]: %w", i, err)
		}
		spec.Exporters = append(spec.Exporters, exporter)
	}
	for i, w := range doc.WebServiceIntegrations {
		integration, err := decodeWebIntegrationSpec(regs, w)
		if err != nil {
			return nil, fmt.Errorf("configuration: WebServiceIntegrations[%d]: %w", i, err)
		}
		spec.WebIntegrations = append(spec.WebIntegrations, integration)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return spec, nil
}

// Validate enforces id uniqueness at the builder-tree level, so duplicate
// ids surface at parse time as well as at aggregate construction.
func (s *ConfigurationSpec) Validate() error {
	dup := &DuplicateIDError{}
	seen := make(map[string]int)
	for _, e := range s.Exporters {
		if seen[e.ID]++; seen[e.ID] == 2 {
			dup.ExporterIDs = append(dup.ExporterIDs, e.ID)
		}
	}
	seen = make(map[string]int)
	for _, w := range s.WebIntegrations {
		if seen[w.ID]++; seen[w.ID] == 2 {
			dup.IntegrationIDs = append(dup.IntegrationIDs, w.ID)
		}
	}
	if len(dup.ExporterIDs) > 0 || len(dup.IntegrationIDs) > 0 {
		return dup
	}
	return nil
}

// Build materializes the runtime configuration. It is cheap relative to
// decoding, so callers may rebuild per dependency set without re-parsing.
func (s *ConfigurationSpec) Build(deps Dependencies, product ProductConfig) (*IntegrationConfiguration, error) {
	exporters := make([]*Exporter, 0, len(s.Exporters))
	for _, e := range s.Exporters {
		exporter, err := e.Build(deps, product)
		if err != nil {
			return nil, err
		}
		exporters = append(exporters, exporter)
	}
	integrations := make([]*WebServiceIntegration, 0, len(s.WebIntegrations))
	for _, w := range s.WebIntegrations {
		integration, err := w.Build(deps, product)
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, integration)
	}
	return NewIntegrationConfiguration(exporters, integrations, product)
}

// IntegrationConfiguration is the validated aggregate of all exporters and
// web-service integrations for one product release. Read-only and safe for
// concurrent dispatches once built.
type IntegrationConfiguration struct {
	product         ProductConfig
	exporters       []*Exporter
	exportersByID   map[string]*Exporter
	integrations    []*WebServiceIntegration
	integrationByID map[string]*WebServiceIntegration
}

// NewIntegrationConfiguration constructs the aggregate and enforces id
// uniqueness over both collections. Every offending id is reported, not
// just the first.
func NewIntegrationConfiguration(exporters []*Exporter, integrations []*WebServiceIntegration, product ProductConfig) (*IntegrationConfiguration, error) {
	cfg := &IntegrationConfiguration{
		product:         product,
		exporters:       exporters,
		exportersByID:   make(map[string]*Exporter, len(exporters)),
		integrations:    integrations,
		integrationByID: make(map[string]*WebServiceIntegration, len(integrations)),
	}

	dup := &DuplicateIDError{}
	seenExporterDup := make(map[string]bool)
	for _, e := range exporters {
		if _, exists := cfg.exportersByID[e.ID()]; exists {
			if !seenExporterDup[e.ID()] {
				dup.ExporterIDs = append(dup.ExporterIDs, e.ID())
				seenExporterDup[e.ID()] = true
			}
			continue
		}
		cfg.exportersByID[e.ID()] = e
	}
	seenIntegrationDup := make(map[string]bool)
	for _, w := range integrations {
		if _, exists := cfg.integrationByID[w.ID()]; exists {
			if !seenIntegrationDup[w.ID()] {
				dup.IntegrationIDs = append(dup.IntegrationIDs, w.ID())
				seenIntegrationDup[w.ID()] = true
			}
			continue
		}
		cfg.integrationByID[w.ID()] = w
	}
	if len(dup.ExporterIDs) > 0 || len(dup.IntegrationIDs) > 0 {
		return nil, dup
	}
	return cfg, nil
}

// Product returns the product scope the configuration was built for.
func (c *IntegrationConfiguration) Product() ProductConfig { return c.product }

// ExportersForEvent returns the ids of every exporter subscribed to the
// event type, in declaration order.
func (c *IntegrationConfiguration) ExportersForEvent(eventType events.EventType) []string {
	var ids []string
	for _, e := range c.exporters {
		if e.CanHandleEvent(eventType) {
			ids = append(ids, e.ID())
		}
	}
	return ids
}

// ExporterIDs enumerates the configured exporter ids in declaration order.
func (c *IntegrationConfiguration) ExporterIDs() []string {
	ids := make([]string, 0, len(c.exporters))
	for _, e := range c.exporters {
		ids = append(ids, e.ID())
	}
	return ids
}

// ExporterByID looks up an exporter without treating absence as an error.
func (c *IntegrationConfiguration) ExporterByID(id string) (*Exporter, bool) {
	e, ok := c.exportersByID[id]
	return e, ok
}

// ExecuteExporter runs the named exporter against the event and returns it
// for caller bookkeeping. An unknown id is a domain error.
func (c *IntegrationConfiguration) ExecuteExporter(ctx context.Context, id string, ev *events.ApplicationEvent) (*Exporter, error) {
	e, ok := c.exportersByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExporterNotFound, id)
	}
	if err := e.HandleEvent(ctx, ev); err != nil {
		return nil, err
	}
	return e, nil
}

// WebIntegrationIDs enumerates the configured web-service integration ids
// in declaration order.
func (c *IntegrationConfiguration) WebIntegrationIDs() []string {
	ids := make([]string, 0, len(c.integrations))
	for _, w := range c.integrations {
		ids = append(ids, w.ID())
	}
	return ids
}

// ExecuteWebIntegration runs the named web-service integration over a raw
// payload. An unknown id is a domain error.
func (c *IntegrationConfiguration) ExecuteWebIntegration(ctx context.Context, id string, payload json.RawMessage, ref events.AggregateReference, quoteID string) (WebServiceIntegrationResponse, error) {
	w, ok := c.integrationByID[id]
	if !ok {
		return WebServiceIntegrationResponse{}, fmt.Errorf("%w: %q", ErrIntegrationNotFound, id)
	}
	return w.Execute(ctx, WebServiceContext{
		Payload:   payload,
		Aggregate: ref,
		Product:   c.product,
		QuoteID:   quoteID,
	})
}
