// Package types holds the request and response bodies of the HTTP API.
package types

import (
	"github.com/paperhtml/renderd/internal/db/models"
)

// StateResponse represents the state of a single render
// swagger:model
// Example: {"id":12,"document_id":3,"state":"running"}
type StateResponse struct {
	// Identifier of the render
	ID uint `json:"id"`

	// Document the render belongs to
	DocumentID uint `json:"document_id"`

	// Current state of the render ("unstarted", "running", "success", "failure")
	State models.RenderState `json:"state"`

	// Whether the render has aged past the expiry window
	IsExpired bool `json:"is_expired"`
}

// NewStateResponse builds a StateResponse from a render
func NewStateResponse(render *models.Render) StateResponse {
	return StateResponse{
		ID:         render.ID,
		DocumentID: render.DocumentID,
		State:      render.State,
		IsExpired:  render.IsExpired,
	}
}

// RenderResponse wraps a render together with where its output can be found
// swagger:model
type RenderResponse struct {
	Render *models.Render `json:"render"`

	// Storage key of the rendered HTML, set once the render succeeded
	HTMLPath string `json:"html_path,omitempty"`
}

// NewRenderResponse builds a RenderResponse from a render
func NewRenderResponse(render *models.Render) RenderResponse {
	resp := RenderResponse{Render: render}
	if render.State == models.RenderStateSuccess {
		resp.HTMLPath = render.HTMLPath()
	}
	return resp
}

// PaginationResponse represents pagination information for list endpoints
// swagger:model
// Example: {"total":42,"limit":10,"offset":0}
type PaginationResponse struct {
	// Number of items in this page
	Total int `json:"total"`

	// Maximum number of items per page
	Limit int `json:"limit"`

	// Number of items skipped from the beginning of the result set
	Offset int `json:"offset"`
}

// ListResponse defines a generic response structure for listing resources
// swagger:model
type ListResponse[T any] struct {
	// Array of resource items
	Rows []T `json:"rows"`

	// Pagination information for the result set
	Pagination PaginationResponse `json:"pagination"`
}

// ErrorResponse represents an error response
// swagger:model
// Example: {"error":"Render not found"}
type ErrorResponse struct {
	// Error message describing what went wrong
	Error string `json:"error"`

	// Optional additional details about the error
	Details interface{} `json:"details,omitempty"`
}
