// Package backend talks to the caregiving GraphQL API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"babybaton/internal/domain"
)

const (
	headerFamilyID    = "X-Family-ID"
	headerCaregiverID = "X-Caregiver-ID"
	headerTimezone    = "X-Timezone"
	headerRequestID   = "X-Request-ID"

	maxResponseBytes = 4 << 20
)

// Client is a GraphQL-over-HTTP client. Every call carries the tenancy
// headers it is given plus a fresh request id.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
	tracing  []otelhttp.Option
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTracerProvider records client spans with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cl *Client) { cl.tracing = append(cl.tracing, otelhttp.WithTracerProvider(tp)) }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Every call gets a client span and carries the caller's trace context.
	instrumented := *c.http
	base := instrumented.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	instrumented.Transport = otelhttp.NewTransport(base, c.tracing...)
	c.http = &instrumented
	return c
}

// GraphQLError is one entry of a GraphQL response's errors list.
type GraphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// GraphQLErrors is returned when the server answered with errors.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	return strings.Join(e.Messages(), "; ")
}

// Messages returns the error messages in server order.
func (e GraphQLErrors) Messages() []string {
	out := make([]string, 0, len(e))
	for _, item := range e {
		if msg := strings.TrimSpace(item.Message); msg != "" {
			out = append(out, msg)
		}
	}
	return out
}

// StatusError is a non-2xx response without a GraphQL error body.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.StatusCode, e.Body)
}

type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors GraphQLErrors   `json:"errors"`
}

// postJSON sends a plain GraphQL request and decodes data into out.
func (c *Client) postJSON(ctx context.Context, headers domain.TenancyHeaders, req graphqlRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", req.OperationName, err)
	}
	return c.post(ctx, headers, req.OperationName, bytes.NewReader(body), "application/json", out)
}

func (c *Client) post(ctx context.Context, headers domain.TenancyHeaders, operation string, body io.Reader, contentType string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(headerRequestID, requestID)
	setTenancy(httpReq.Header, headers)

	logger := c.logger.With("operation", operation, "request_id", requestID)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", operation, err)
	}

	var decoded graphqlResponse
	decodeErr := json.Unmarshal(raw, &decoded)
	if decodeErr == nil && len(decoded.Errors) > 0 {
		logger.Warn("graphql errors", "status", resp.StatusCode, "errors", decoded.Errors.Error())
		return decoded.Errors
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(truncate(raw, 200)))}
	}
	if decodeErr != nil {
		return fmt.Errorf("%s: decode response: %w", operation, decodeErr)
	}
	if len(decoded.Data) == 0 || string(decoded.Data) == "null" {
		return fmt.Errorf("%s: response carried no data", operation)
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", operation, err)
	}
	logger.Debug("graphql call completed", "status", resp.StatusCode)
	return nil
}

func setTenancy(h http.Header, headers domain.TenancyHeaders) {
	if headers.FamilyID != uuid.Nil {
		h.Set(headerFamilyID, headers.FamilyID.String())
	}
	if headers.CaregiverID != uuid.Nil {
		h.Set(headerCaregiverID, headers.CaregiverID.String())
	}
	tz := headers.Timezone
	if tz == "" {
		tz = "UTC"
	}
	h.Set(headerTimezone, tz)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// transportFailure wraps any error of a call as a TransportError.
func transportFailure(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.NewFailure(domain.ErrorCodeTransport, "", err)
}
