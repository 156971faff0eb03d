package httprequest_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/playbook/pkg/handlers/httprequest"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler() *httprequest.Handler {
	return httprequest.NewHandler(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNewRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   map[string]any
		expected *httprequest.Request
		err      error
	}{
		{
			name:   "defaults to GET",
			config: map[string]any{"url": "https://api.example.com/data"},
			expected: &httprequest.Request{
				Method:  "GET",
				URL:     "https://api.example.com/data",
				Headers: map[string]string{},
			},
		},
		{
			name: "json body from object",
			config: map[string]any{
				"url":             "https://api.example.com/create",
				"method":          "post",
				"body":            map[string]any{"key": "value"},
				"headers":         map[string]any{"Authorization": "Bearer token123"},
				"expected_status": []any{201.0, 202.0},
			},
			expected: &httprequest.Request{
				Method: "POST",
				URL:    "https://api.example.com/create",
				Headers: map[string]string{
					"Authorization": "Bearer token123",
					"Content-Type":  "application/json",
				},
				Body:           []byte(`{"key":"value"}`),
				ExpectedStatus: []int{201, 202},
			},
		},
		{
			name:   "missing url",
			config: map[string]any{"method": "GET"},
			err:    httprequest.ErrHTTPRequestURLInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req, err := httprequest.NewRequest(tt.config)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, req)
		})
	}
}

func TestHandler_Execute(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("X-Token"))

		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id": 7}`))
		case "/text":
			_, _ = w.Write([]byte("plain"))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	handler := newHandler()
	input := protocol.Input{ExecutionID: "exec-1", StepID: "call", Attempt: 1}

	call := func(path string) (*protocol.Result, error) {
		return handler.Execute(context.Background(), map[string]any{
			"url":     server.URL + path,
			"headers": map[string]any{"X-Token": "token"},
		}, input)
	}

	result, err := call("/ok")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.Output["status_code"])
	assert.Equal(t, map[string]any{"id": 7.0}, result.Output["body"])

	result, err = call("/text")
	require.NoError(t, err)
	assert.Equal(t, "plain", result.Output["body"])

	_, err = call("/missing")
	require.ErrorIs(t, err, httprequest.ErrHTTPClientError)
	assert.True(t, protocol.IsPermanent(err))

	_, err = call("/boom")
	require.ErrorIs(t, err, httprequest.ErrHTTPServerError)
	assert.False(t, protocol.IsPermanent(err))
}

func TestHandler_HonorsContextDeadline(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newHandler().Execute(ctx, map[string]any{"url": server.URL}, protocol.Input{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandler_DryRunSendsNothing(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	handler := newHandler()
	assert.Equal(t, models.StepKindHTTPRequest, handler.Kind())

	result, err := handler.DryRun(context.Background(), map[string]any{
		"url":    server.URL + "/send",
		"method": "POST",
		"body":   "hello",
	}, protocol.Input{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, true, result.Output["dry_run"])
	assert.Equal(t, "POST", result.Output["method"])
	assert.Equal(t, "hello", result.Output["body"])
	assert.Equal(t, int32(0), hits.Load())
}
