package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperhtml/renderd/internal/db/models"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name       string
		opts       *Options
		wantErr    bool
		validateFn func(t *testing.T, client Client)
	}{
		{
			name: "nil options",
			opts: nil,
			validateFn: func(t *testing.T, client Client) {
				apiClient, ok := client.(*APIClient)
				require.True(t, ok, "client should be an *APIClient")

				expectedDefaults := DefaultOptions()
				assert.Equal(t, expectedDefaults.BaseURL, apiClient.baseURL)
				assert.Equal(t, expectedDefaults.Timeout, apiClient.timeout)
			},
		},
		{
			name: "valid options",
			opts: &Options{
				BaseURL: "http://example.com",
				Timeout: 10 * time.Second,
			},
			validateFn: func(t *testing.T, client Client) {
				apiClient, ok := client.(*APIClient)
				require.True(t, ok, "client should be an *APIClient")

				assert.Equal(t, "http://example.com", apiClient.baseURL)
				assert.Equal(t, 10*time.Second, apiClient.timeout)
			},
		},
		{
			name: "zero timeout falls back to default",
			opts: &Options{BaseURL: "http://example.com"},
			validateFn: func(t *testing.T, client Client) {
				assert.Equal(t, DefaultTimeout, client.(*APIClient).timeout)
			},
		},
		{
			name:    "invalid base URL",
			opts:    &Options{BaseURL: "://invalid-url"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			if tt.validateFn != nil {
				tt.validateFn(t, client)
			}
		})
	}
}

// setupTestServer simulates the render API
func setupTestServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/health":
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/renders/7/state":
			_, _ = w.Write([]byte(`{"id":7,"document_id":3,"state":"running","is_expired":false}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/documents/3/render":
			_, _ = w.Write([]byte(`{"render":{"id":7,"document_id":3,"state":"success"},"html_path":"render-output/7/index.html"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/documents/3/render":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"render":{"id":8,"document_id":3,"state":"running"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/documents/3/render-state":
			_, _ = w.Write([]byte(`{"id":8,"document_id":3,"state":"failure","is_expired":true}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/documents/3/renders":
			assert.Equal(t, "2", r.URL.Query().Get("page"))
			_, _ = w.Write([]byte(`{"rows":[{"id":8,"document_id":3,"state":"failure"}],"pagination":{"total":1,"limit":50,"offset":50}}`))
		case r.URL.Path == "/invalid-json":
			_, _ = w.Write([]byte(`{invalid json`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"Document not found"}`))
		}
	}))
}

func newTestClient(t *testing.T) *APIClient {
	server := setupTestServer(t)
	t.Cleanup(server.Close)

	client, err := NewClient(&Options{BaseURL: server.URL})
	require.NoError(t, err)
	return client.(*APIClient)
}

func TestAPIClient_doRequest(t *testing.T) {
	apiClient := newTestClient(t)

	t.Run("error response", func(t *testing.T) {
		agent, err := apiClient.createAgent(context.Background(), http.MethodGet, "/missing")
		require.NoError(t, err)

		err = apiClient.doRequest(agent, nil)
		var fiberErr *fiber.Error
		require.True(t, errors.As(err, &fiberErr))
		assert.Equal(t, http.StatusNotFound, fiberErr.Code)
		assert.Equal(t, "Document not found", fiberErr.Message)
	})

	t.Run("invalid json", func(t *testing.T) {
		agent, err := apiClient.createAgent(context.Background(), http.MethodGet, "/invalid-json")
		require.NoError(t, err)

		var response map[string]string
		err = apiClient.doRequest(agent, &response)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error decoding response")
	})

	t.Run("unsupported method", func(t *testing.T) {
		_, err := apiClient.createAgent(context.Background(), http.MethodPatch, "/health")
		assert.Error(t, err)
	})
}

func TestAPIClient_Endpoints(t *testing.T) {
	apiClient := newTestClient(t)
	ctx := context.Background()

	health, err := apiClient.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health["status"])

	state, err := apiClient.GetRenderState(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.RenderStateRunning, state.State)
	assert.Equal(t, uint(3), state.DocumentID)

	render, err := apiClient.GetDocumentRender(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, render.Render)
	assert.Equal(t, models.RenderStateSuccess, render.Render.State)
	assert.Equal(t, "render-output/7/index.html", render.HTMLPath)

	created, err := apiClient.CreateDocumentRender(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint(8), created.Render.ID)

	latest, err := apiClient.GetDocumentRenderState(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, models.RenderStateFailure, latest.State)
	assert.True(t, latest.IsExpired)

	rows, err := apiClient.ListDocumentRenders(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint(8), rows[0].ID)

	_, err = apiClient.GetDocumentRender(ctx, 4)
	var fiberErr *fiber.Error
	require.True(t, errors.As(err, &fiberErr))
	assert.Equal(t, http.StatusNotFound, fiberErr.Code)
}
