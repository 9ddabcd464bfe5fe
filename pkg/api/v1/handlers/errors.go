// Package handlers provides HTTP request handling
package handlers

import (
	"errors"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/paperhtml/renderd/internal/services"
	"github.com/paperhtml/renderd/internal/types"
)

// Common error messages
const (
	ErrMsgInvalidDocumentID = "Invalid document id"
	ErrMsgInvalidRenderID   = "Invalid render id"
	ErrMsgInvalidPage       = "Page must be a positive number from 1"
)

// Render error messages
const (
	ErrMsgDocumentNotFound  = "Document not found"
	ErrMsgRenderNotFound    = "Render not found"
	ErrMsgNotRenderable     = "Document cannot be rendered"
	ErrMsgRenderWrongState  = "Render is in the wrong state"
	ErrMsgRenderFailed      = "Failed to render document"
	ErrMsgGetRenderFailed   = "Failed to get render"
	ErrMsgListRendersFailed = "Failed to list renders"
	ErrMsgUpdateStateFailed = "Failed to update render state"
)

// respondWithError maps service errors onto HTTP statuses. fallback is the
// message used for anything unexpected.
func respondWithError(c *fiber.Ctx, err error, fallback string) error {
	status := fiber.StatusInternalServerError
	msg := fallback

	switch {
	case errors.Is(err, services.ErrDocumentNotFound):
		status, msg = fiber.StatusNotFound, ErrMsgDocumentNotFound
	case errors.Is(err, services.ErrRenderNotFound):
		status, msg = fiber.StatusNotFound, ErrMsgRenderNotFound
	case errors.Is(err, services.ErrNotRenderable):
		status, msg = fiber.StatusNotFound, ErrMsgNotRenderable
	case errors.Is(err, services.ErrWrongState), errors.Is(err, services.ErrAlreadyStarted):
		status, msg = fiber.StatusConflict, ErrMsgRenderWrongState
	}

	return c.Status(status).JSON(types.ErrorResponse{
		Error:   msg,
		Details: err.Error(),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: msg})
}
