// Package models contains the persisted entities of the render service.
package models

const (
	// DefaultLimit is the max number of rows retrieved per listing call
	DefaultLimit = 50
	// DefaultBatchSize is the number of rows processed per batch in sweeps
	DefaultBatchSize = 1000
)

// ListOptions represents pagination options for list operations
type ListOptions struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
