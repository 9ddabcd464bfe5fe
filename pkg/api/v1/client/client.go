// Package client provides the API client for interacting with the render service
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/paperhtml/renderd/internal/types"
	"github.com/paperhtml/renderd/pkg/api/v1/routes"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// Client is the interface for API client
type Client interface {
	// Health Check
	HealthCheck(ctx context.Context) (map[string]string, error)

	// Render Endpoints
	GetRenderState(ctx context.Context, id uint) (types.StateResponse, error)

	// Document Endpoints
	GetDocumentRender(ctx context.Context, documentID uint) (types.RenderResponse, error)
	GetDocumentRenderState(ctx context.Context, documentID uint) (types.StateResponse, error)
	ListDocumentRenders(ctx context.Context, documentID uint, page int) ([]types.StateResponse, error)
	CreateDocumentRender(ctx context.Context, documentID uint) (types.RenderResponse, error)
}

var _ Client = &APIClient{}

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// Timeout is the request timeout
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL: routes.DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIClient implements the Client interface
type APIClient struct {
	baseURL string
	timeout time.Duration
}

// NewClient creates a new API client with the given options
func NewClient(opts *Options) (Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &APIClient{
		baseURL: opts.BaseURL,
		timeout: timeout,
	}, nil
}

// createAgent creates a new Fiber Agent for the given method and endpoint
func (c *APIClient) createAgent(ctx context.Context, method, endpoint string) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	// Set timeout from context or client default
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	agent.Set("Accept", "application/json")

	return agent, nil
}

// doRequest sends the HTTP request and processes the response
func (c *APIClient) doRequest(agent *fiber.Agent, v interface{}) error {
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("error sending request: %w", errs[0])
	}

	if statusCode < 200 || statusCode >= 300 {
		msg := string(body)
		var errResp types.ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return &fiber.Error{
			Code:    statusCode,
			Message: msg,
		}
	}

	if v != nil && len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("error decoding response: %w", err)
		}
	}

	return nil
}

// executeRequest creates an agent, sends the request, and processes the response
func (c *APIClient) executeRequest(ctx context.Context, method, endpoint string, response interface{}) error {
	agent, err := c.createAgent(ctx, method, endpoint)
	if err != nil {
		return err
	}

	return c.doRequest(agent, response)
}

// HealthCheck checks the health of the API
func (c *APIClient) HealthCheck(ctx context.Context) (map[string]string, error) {
	var response map[string]string
	if err := c.executeRequest(ctx, http.MethodGet, routes.HealthCheckURL(), &response); err != nil {
		return map[string]string{}, err
	}
	return response, nil
}

// GetRenderState retrieves the state of a render
func (c *APIClient) GetRenderState(ctx context.Context, id uint) (types.StateResponse, error) {
	var response types.StateResponse
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetRenderStateURL(id), &response); err != nil {
		return types.StateResponse{}, err
	}
	return response, nil
}

// GetDocumentRender retrieves the render to display for a document, which
// may start a new render on the server
func (c *APIClient) GetDocumentRender(ctx context.Context, documentID uint) (types.RenderResponse, error) {
	var response types.RenderResponse
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetDocumentRenderURL(documentID), &response); err != nil {
		return types.RenderResponse{}, err
	}
	return response, nil
}

// GetDocumentRenderState retrieves the state of the newest render of a document
func (c *APIClient) GetDocumentRenderState(ctx context.Context, documentID uint) (types.StateResponse, error) {
	var response types.StateResponse
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetDocumentRenderStateURL(documentID), &response); err != nil {
		return types.StateResponse{}, err
	}
	return response, nil
}

// ListDocumentRenders lists one page of a document's renders
func (c *APIClient) ListDocumentRenders(ctx context.Context, documentID uint, page int) ([]types.StateResponse, error) {
	q := url.Values{}
	if page > 1 {
		q.Set("page", fmt.Sprint(page))
	}
	var response types.ListResponse[types.StateResponse]
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetDocumentRendersURL(documentID, q), &response); err != nil {
		return []types.StateResponse{}, err
	}
	return response.Rows, nil
}

// CreateDocumentRender forces a new render of a document
func (c *APIClient) CreateDocumentRender(ctx context.Context, documentID uint) (types.RenderResponse, error) {
	var response types.RenderResponse
	if err := c.executeRequest(ctx, http.MethodPost, routes.CreateDocumentRenderURL(documentID), &response); err != nil {
		return types.RenderResponse{}, err
	}
	return response, nil
}
