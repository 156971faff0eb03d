// Package httprequest provides the HTTP request step handler.
package httprequest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/protocol"
)

var (
	// ErrHTTPRequestURLInvalid is returned when the request url is missing.
	ErrHTTPRequestURLInvalid = errors.New("invalid HTTP request url")
	// ErrHTTPServerError is returned when the server answers with a 5xx status.
	ErrHTTPServerError = errors.New("server error during HTTP request")
	// ErrHTTPClientError is returned when the server answers with a 4xx status.
	ErrHTTPClientError = errors.New("client error during HTTP request")
	// ErrUnexpectedStatus is returned when the status is outside expected_status.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

const maxBodyBytes = 1 << 20

// Request is the rendered form of an http_request step configuration.
type Request struct {
	Method         string
	URL            string
	Headers        map[string]string
	Body           []byte
	ExpectedStatus []int
}

// Handler performs HTTP calls. Retries are owned by the executor, not by the handler.
type Handler struct {
	client *http.Client
	logger *slog.Logger
}

// NewHandler creates a new HTTP request handler. A nil client uses http.DefaultClient.
func NewHandler(client *http.Client, logger *slog.Logger) *Handler {
	if client == nil {
		client = http.DefaultClient
	}

	return &Handler{client: client, logger: logger.With("module", "http_request_handler")}
}

func (*Handler) Kind() models.StepKind {
	return models.StepKindHTTPRequest
}

func (*Handler) Description() string {
	return "Performs an HTTP request to a specified URL with optional headers and body."
}

func (*Handler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"title":       "URL",
				"type":        "string",
				"description": "The URL to send the HTTP request to. Supports templating.",
				"examples": []string{
					"https://api.example.com/users",
					"https://api.example.com/users/{{steps.lookup.output.user_id}}",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method to use",
				"default":     "GET",
				"enum": []string{
					"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS",
					"get", "post", "put", "delete", "patch", "head", "options",
				},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers to include in the request. Values support templating.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"description": "Request body. Objects and lists are sent as JSON.",
			},
			"expected_status": map[string]any{
				"type":        "array",
				"description": "Status codes treated as success. Defaults to any 2xx.",
				"items":       map[string]any{"type": "integer"},
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}

// NewRequest reads a rendered configuration.
func NewRequest(config map[string]any) (*Request, error) {
	url, _ := config["url"].(string)
	if strings.TrimSpace(url) == "" {
		return nil, ErrHTTPRequestURLInvalid
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	req := &Request{
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: map[string]string{},
	}

	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Headers[k] = fmt.Sprint(v)
		}
	}

	switch body := config["body"].(type) {
	case nil:
	case string:
		req.Body = []byte(body)
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		req.Body = encoded

		if _, set := req.Headers["Content-Type"]; !set {
			req.Headers["Content-Type"] = "application/json"
		}
	}

	if statuses, ok := config["expected_status"].([]any); ok {
		for _, s := range statuses {
			switch v := s.(type) {
			case float64:
				req.ExpectedStatus = append(req.ExpectedStatus, int(v))
			case int:
				req.ExpectedStatus = append(req.ExpectedStatus, v)
			}
		}
	}

	return req, nil
}

// Execute sends the request. Transport failures and 5xx answers are retryable,
// 4xx answers and invalid configurations are permanent.
func (h *Handler) Execute(ctx context.Context, config map[string]any, input protocol.Input) (*protocol.Result, error) {
	spec, err := NewRequest(config)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	logger := h.logger.With("execution_id", input.ExecutionID, "step_id", input.StepID, "attempt", input.Attempt)
	logger.DebugContext(ctx, "Sending HTTP request", "method", spec.Method, "url", spec.URL)

	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, bytes.NewReader(spec.Body))
	if err != nil {
		return nil, protocol.Permanent(fmt.Errorf("failed to create http request: %w", err))
	}

	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.ErrorContext(ctx, "failed to close response body", "error", cerr)
		}
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		body = string(bodyBytes)
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     flattenHeaders(resp.Header),
	}

	if err := classifyStatus(resp.StatusCode, spec.ExpectedStatus); err != nil {
		return &protocol.Result{Output: output}, err
	}

	logger.InfoContext(ctx, "HTTP request completed", "status", resp.StatusCode, "bytes", len(bodyBytes))

	return &protocol.Result{Output: output}, nil
}

// DryRun renders the request without sending it.
func (h *Handler) DryRun(_ context.Context, config map[string]any, _ protocol.Input) (*protocol.Result, error) {
	spec, err := NewRequest(config)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	return &protocol.Result{
		Output: map[string]any{
			"dry_run": true,
			"method":  spec.Method,
			"url":     spec.URL,
			"headers": spec.Headers,
			"body":    string(spec.Body),
		},
	}, nil
}

func classifyStatus(status int, expected []int) error {
	if len(expected) > 0 {
		for _, s := range expected {
			if s == status {
				return nil
			}
		}

		if status >= http.StatusInternalServerError {
			return fmt.Errorf("%w: status %d", ErrHTTPServerError, status)
		}

		return protocol.Permanent(fmt.Errorf("%w: %d", ErrUnexpectedStatus, status))
	}

	switch {
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", ErrHTTPServerError, status)
	case status >= http.StatusBadRequest:
		return protocol.Permanent(fmt.Errorf("%w: status %d", ErrHTTPClientError, status))
	default:
		return nil
	}
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}

	return out
}
