package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// WebServiceIntegrationResponse is the structured outcome of executing a
// web-service integration. Transport-level failures are captured here, not
// returned as errors: integrations target third-party endpoints with
// unpredictable uptime, and the surrounding orchestration logs and
// continues rather than failing a whole batch over one endpoint.
type WebServiceIntegrationResponse struct {
	Code         int    `json:"code"`
	ResponseJSON string `json:"responseJson"`
	ErrorBody    string `json:"errorBody,omitempty"`
}

// CodeTransportFailure marks a response captured from a failure below the
// HTTP layer (connection refused, timeout), where no status was received.
// Such responses carry the error text in ResponseJSON and an empty
// ErrorBody, while upstream error statuses carry the upstream body in
// ErrorBody.
const CodeTransportFailure = 0

// authMethod is the runtime auth attachment for an integration.
type authMethod struct {
	scheme string
	tokens oauth2.TokenSource
}

// AuthMethodSpec configures how an integration authenticates. Only the
// Bearer scheme is recognized; the token comes from a client-credentials
// grant when TokenUrl is set, otherwise from the ambient token source.
type AuthMethodSpec struct {
	Scheme       string   `json:"Scheme"`
	TokenURL     string   `json:"TokenUrl"`
	ClientID     string   `json:"ClientId"`
	ClientSecret string   `json:"ClientSecret"`
	Scopes       []string `json:"Scopes"`
}

func (s *AuthMethodSpec) build(deps Dependencies) (*authMethod, error) {
	if !strings.EqualFold(s.Scheme, "Bearer") {
		return &authMethod{scheme: s.Scheme}, nil
	}
	if s.TokenURL != "" {
		cfg := clientcredentials.Config{
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			TokenURL:     s.TokenURL,
			Scopes:       s.Scopes,
		}
		return &authMethod{scheme: s.Scheme, tokens: cfg.TokenSource(context.Background())}, nil
	}
	if deps.TokenSource == nil {
		return nil, errors.New("auth method: bearer scheme requires a token url or an ambient token source")
	}
	return &authMethod{scheme: s.Scheme, tokens: deps.TokenSource}, nil
}

// WebServiceIntegration is a named outbound HTTP call definition, executed
// independently of the exporter mechanism.
type WebServiceIntegration struct {
	id              string
	url             WebServiceTextProvider
	requestType     WebServiceTextProvider
	headers         []WebServiceTextProvider
	auth            *authMethod
	requestBody     WebServiceTextProvider
	responsePayload WebServiceTextProvider

	client      *http.Client
	httpTimeout time.Duration
	deadLetters DeadLetterRecorder
	clock       func() time.Time
	logger      *slog.Logger
}

// ID returns the integration's configured identifier.
func (w *WebServiceIntegration) ID() string { return w.id }

// Execute resolves the request definition and performs the call. A non-GET,
// non-POST request type fails before any network activity; every HTTP-layer
// failure after that is captured into the response.
func (w *WebServiceIntegration) Execute(ctx context.Context, wctx WebServiceContext) (WebServiceIntegrationResponse, error) {
	requestType, err := w.requestType.Invoke(ctx, wctx)
	if err != nil {
		return WebServiceIntegrationResponse{}, fmt.Errorf("integration %q: request type: %w", w.id, err)
	}

	var method string
	switch strings.ToLower(strings.TrimSpace(requestType)) {
	case "get":
		method = http.MethodGet
	case "post":
		method = http.MethodPost
	default:
		return WebServiceIntegrationResponse{}, fmt.Errorf("integration %q: %w: %q", w.id, ErrRequestTypeNotImplemented, requestType)
	}

	target, err := w.url.Invoke(ctx, wctx)
	if err != nil {
		return WebServiceIntegrationResponse{}, fmt.Errorf("integration %q: url: %w", w.id, err)
	}
	headers, err := w.resolveHeaders(ctx, wctx)
	if err != nil {
		return WebServiceIntegrationResponse{}, fmt.Errorf("integration %q: %w", w.id, err)
	}

	var body string
	if method == http.MethodPost && w.requestBody != nil {
		if body, err = w.requestBody.Invoke(ctx, wctx); err != nil {
			return WebServiceIntegrationResponse{}, fmt.Errorf("integration %q: request body: %w", w.id, err)
		}
	}

	t := timeout.New[WebServiceIntegrationResponse](timeout.Config{DefaultTimeout: w.httpTimeout})
	resp, err := t.Execute(ctx, w.httpTimeout, func(ctx context.Context) (WebServiceIntegrationResponse, error) {
		return w.send(ctx, method, target, headers, body, wctx)
	})
	if err != nil {
		// Transport-level failure: captured, never thrown.
		w.recordFailure(ctx, target, CodeTransportFailure, err.Error())
		return WebServiceIntegrationResponse{Code: CodeTransportFailure, ResponseJSON: err.Error()}, nil
	}
	return resp, nil
}

// resolveHeaders invokes each header provider and splits its "key:value"
// output on the first colon. Keys must not contain a colon.
func (w *WebServiceIntegration) resolveHeaders(ctx context.Context, wctx WebServiceContext) (http.Header, error) {
	headers := make(http.Header, len(w.headers))
	for i, p := range w.headers {
		line, err := p.Invoke(ctx, wctx)
		if err != nil {
			return nil, fmt.Errorf("header %d: %w", i, err)
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("header %d: %w: %q", i, ErrMalformedHeader, line)
		}
		headers.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return headers, nil
}

// send performs the HTTP exchange. Its error return covers transport-level
// failures only; HTTP error statuses are already converted to captured
// responses here.
func (w *WebServiceIntegration) send(ctx context.Context, method, target string, headers http.Header, body string, wctx WebServiceContext) (WebServiceIntegrationResponse, error) {
	var reader io.Reader
	if method == http.MethodPost {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return WebServiceIntegrationResponse{}, fmt.Errorf("create request: %w", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if w.auth != nil && strings.EqualFold(w.auth.scheme, "Bearer") {
		tok, err := w.auth.tokens.Token()
		if err != nil {
			return WebServiceIntegrationResponse{}, fmt.Errorf("bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return WebServiceIntegrationResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return WebServiceIntegrationResponse{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		message := fmt.Sprintf("request to %s returned status %d", target, resp.StatusCode)
		w.recordFailure(ctx, target, resp.StatusCode, string(raw))
		w.logger.Warn("web-service integration returned error status",
			"integration_id", w.id,
			"status", resp.StatusCode,
			"url", target)
		return WebServiceIntegrationResponse{
			Code:         resp.StatusCode,
			ResponseJSON: message,
			ErrorBody:    string(raw),
		}, nil
	}

	responseJSON := string(raw)
	if w.responsePayload != nil {
		shaped := wctx
		shaped.Payload = json.RawMessage(raw)
		if responseJSON, err = w.responsePayload.Invoke(ctx, shaped); err != nil {
			return WebServiceIntegrationResponse{}, fmt.Errorf("shape response: %w", err)
		}
	}

	w.logger.Info("web-service integration executed",
		"integration_id", w.id,
		"method", method,
		"status", resp.StatusCode)
	return WebServiceIntegrationResponse{
		Code:         resp.StatusCode,
		ResponseJSON: responseJSON,
	}, nil
}

func (w *WebServiceIntegration) recordFailure(ctx context.Context, target string, code int, errorBody string) {
	if w.deadLetters == nil {
		return
	}
	entry := DeadLetterEntry{
		IntegrationID: w.id,
		URL:           target,
		Code:          code,
		ErrorBody:     errorBody,
		Timestamp:     w.clock(),
	}
	if err := w.deadLetters.Record(ctx, entry); err != nil {
		w.logger.Error("record integration dead letter", "integration_id", w.id, "error", err)
	}
}

// WebIntegrationSpec is the decoded configuration-time form of a
// web-service integration.
type WebIntegrationSpec struct {
	ID               string
	RequestType      WebServiceTextProviderBuilder
	URL              WebServiceTextProviderBuilder
	AuthMethod       *AuthMethodSpec
	Headers          []WebServiceTextProviderBuilder
	RequestTemplate  WebServiceTextProviderBuilder
	ResponseTemplate WebServiceTextProviderBuilder
}

func decodeWebIntegrationSpec(r *Registries, raw json.RawMessage) (*WebIntegrationSpec, error) {
	var spec struct {
		ID               string            `json:"Id"`
		RequestType      json.RawMessage   `json:"RequestType"`
		URL              json.RawMessage   `json:"Url"`
		AuthMethod       *AuthMethodSpec   `json:"AuthMethod"`
		Headers          []json.RawMessage `json:"Headers"`
		RequestTemplate  json.RawMessage   `json:"RequestTemplate"`
		ResponseTemplate json.RawMessage   `json:"ResponseTemplate"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("web-service integration: %w", err)
	}
	if spec.ID == "" {
		return nil, errors.New("web-service integration: Id is required")
	}

	out := &WebIntegrationSpec{ID: spec.ID, AuthMethod: spec.AuthMethod}

	var err error
	if out.RequestType, err = r.DecodeWebTextSlot(spec.RequestType); err != nil {
		return nil, fmt.Errorf("web-service integration %q: RequestType: %w", spec.ID, err)
	}
	if out.RequestType == nil {
		return nil, fmt.Errorf("web-service integration %q: RequestType is required", spec.ID)
	}
	if out.URL, err = r.DecodeWebTextSlot(spec.URL); err != nil {
		return nil, fmt.Errorf("web-service integration %q: Url: %w", spec.ID, err)
	}
	if out.URL == nil {
		return nil, fmt.Errorf("web-service integration %q: Url is required", spec.ID)
	}
	for i, h := range spec.Headers {
		header, err := r.DecodeWebTextSlot(h)
		if err != nil {
			return nil, fmt.Errorf("web-service integration %q: Headers[%d]: %w", spec.ID, i, err)
		}
		out.Headers = append(out.Headers, header)
	}
	if out.RequestTemplate, err = r.DecodeWebTextSlot(spec.RequestTemplate); err != nil {
		return nil, fmt.Errorf("web-service integration %q: RequestTemplate: %w", spec.ID, err)
	}
	if out.ResponseTemplate, err = r.DecodeWebTextSlot(spec.ResponseTemplate); err != nil {
		return nil, fmt.Errorf("web-service integration %q: ResponseTemplate: %w", spec.ID, err)
	}
	return out, nil
}

// Build materializes the runtime integration with the given dependencies.
func (s *WebIntegrationSpec) Build(deps Dependencies, product ProductConfig) (*WebServiceIntegration, error) {
	w := &WebServiceIntegration{
		id:          s.ID,
		client:      deps.httpClient(),
		httpTimeout: deps.HTTPTimeout,
		deadLetters: deps.DeadLetters,
		clock:       deps.now,
		logger:      deps.logger(),
	}
	if w.httpTimeout <= 0 {
		w.httpTimeout = 30 * time.Second
	}

	var err error
	if w.requestType, err = s.RequestType.Build(deps, product); err != nil {
		return nil, fmt.Errorf("web-service integration %q: RequestType: %w", s.ID, err)
	}
	if w.url, err = s.URL.Build(deps, product); err != nil {
		return nil, fmt.Errorf("web-service integration %q: Url: %w", s.ID, err)
	}
	for i, h := range s.Headers {
		header, err := h.Build(deps, product)
		if err != nil {
			return nil, fmt.Errorf("web-service integration %q: Headers[%d]: %w", s.ID, i, err)
		}
		w.headers = append(w.headers, header)
	}
	if s.AuthMethod != nil {
		if w.auth, err = s.AuthMethod.build(deps); err != nil {
			return nil, fmt.Errorf("web-service integration %q: %w", s.ID, err)
		}
	}
	if s.RequestTemplate != nil {
		if w.requestBody, err = s.RequestTemplate.Build(deps, product); err != nil {
			return nil, fmt.Errorf("web-service integration %q: RequestTemplate: %w", s.ID, err)
		}
	}
	if s.ResponseTemplate != nil {
		if w.responsePayload, err = s.ResponseTemplate.Build(deps, product); err != nil {
			return nil, fmt.Errorf("web-service integration %q: ResponseTemplate: %w", s.ID, err)
		}
	}
	return w, nil
}
