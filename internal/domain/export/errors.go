package export

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownType indicates a "type" discriminator absent from a registry.
	ErrUnknownType = errors.New("unrecognized type discriminator")

	// ErrMissingType indicates a config object without a "type" field.
	ErrMissingType = errors.New("missing type discriminator")

	// ErrExporterNotFound indicates a lookup for an exporter id that is not
	// part of the configuration.
	ErrExporterNotFound = errors.New("exporter not found")

	// ErrIntegrationNotFound indicates a lookup for a web-service
	// integration id that is not part of the configuration.
	ErrIntegrationNotFound = errors.New("web-service integration not found")

	// ErrRequestTypeNotImplemented indicates a web-service integration whose
	// request type resolved to something other than GET or POST.
	ErrRequestTypeNotImplemented = errors.New("web-service request type not implemented")

	// ErrContentTypeNotSupported indicates an http export action configured
	// with an unrecognized content type.
	ErrContentTypeNotSupported = errors.New("content type not supported")

	// ErrMissingDefaultProvider indicates an environment provider with an
	// unmodeled environment slot and no default to fall back to.
	ErrMissingDefaultProvider = errors.New("missing default provider")

	// ErrMalformedHeader indicates a header provider output without a colon.
	ErrMalformedHeader = errors.New("malformed header, want \"key:value\"")
)

// DuplicateIDError reports every duplicated identifier found while
// constructing an IntegrationConfiguration.
type DuplicateIDError struct {
	ExporterIDs    []string
	IntegrationIDs []string
}

func (e *DuplicateIDError) Error() string {
	var parts []string
	if len(e.ExporterIDs) > 0 {
		parts = append(parts, fmt.Sprintf("duplicate exporter ids: %s", strings.Join(e.ExporterIDs, ", ")))
	}
	if len(e.IntegrationIDs) > 0 {
		parts = append(parts, fmt.Sprintf("duplicate web-service integration ids: %s", strings.Join(e.IntegrationIDs, ", ")))
	}
	return strings.Join(parts, "; ")
}
