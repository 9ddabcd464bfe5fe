package handlers

import (
	"errors"
	"strings"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/paperhtml/renderd/internal/logger"
	"github.com/paperhtml/renderd/internal/services"
	"github.com/paperhtml/renderd/internal/types"
)

// ExitCodeField is the form field a finished job posts its exit code in
const ExitCodeField = "exit_code"

// RenderHandler handles HTTP requests for render operations
type RenderHandler struct {
	renders *services.Renders
}

// NewRenderHandler creates a new render handler instance
func NewRenderHandler(renders *services.Renders) *RenderHandler {
	return &RenderHandler{
		renders: renders,
	}
}

// GetRender returns the render that should be displayed for a document,
// starting a new one when nothing usable exists.
func (h *RenderHandler) GetRender(c *fiber.Ctx) error {
	documentID, err := c.ParamsInt("id")
	if err != nil || documentID < 1 {
		return badRequest(c, ErrMsgInvalidDocumentID)
	}

	render, err := h.renders.GetRenderToDisplay(c.UserContext(), uint(documentID))
	if err != nil {
		return respondWithError(c, err, ErrMsgGetRenderFailed)
	}
	return c.JSON(types.NewRenderResponse(render))
}

// CreateRender forces a new render of a document
func (h *RenderHandler) CreateRender(c *fiber.Ctx) error {
	documentID, err := c.ParamsInt("id")
	if err != nil || documentID < 1 {
		return badRequest(c, ErrMsgInvalidDocumentID)
	}

	render, err := h.renders.RenderNow(c.UserContext(), uint(documentID))
	if err != nil {
		return respondWithError(c, err, ErrMsgRenderFailed)
	}
	return c.Status(fiber.StatusCreated).JSON(types.NewRenderResponse(render))
}

// GetDocumentRenderState returns the state of a document's newest render
func (h *RenderHandler) GetDocumentRenderState(c *fiber.Ctx) error {
	documentID, err := c.ParamsInt("id")
	if err != nil || documentID < 1 {
		return badRequest(c, ErrMsgInvalidDocumentID)
	}

	render, err := h.renders.LatestForDocument(c.UserContext(), uint(documentID))
	if err != nil {
		return respondWithError(c, err, ErrMsgGetRenderFailed)
	}
	return c.JSON(types.NewStateResponse(render))
}

// ListRenders lists the renders of a document, newest first
func (h *RenderHandler) ListRenders(c *fiber.Ctx) error {
	documentID, err := c.ParamsInt("id")
	if err != nil || documentID < 1 {
		return badRequest(c, ErrMsgInvalidDocumentID)
	}
	page := c.QueryInt("page", 1)
	if page < 1 {
		return badRequest(c, ErrMsgInvalidPage)
	}

	opts := getPaginationOptions(page)
	renders, total, err := h.renders.ListForDocument(c.UserContext(), uint(documentID), opts)
	if err != nil {
		return respondWithError(c, err, ErrMsgListRendersFailed)
	}

	rows := make([]types.StateResponse, 0, len(renders))
	for i := range renders {
		rows = append(rows, types.NewStateResponse(&renders[i]))
	}
	return c.JSON(types.ListResponse[types.StateResponse]{
		Rows: rows,
		Pagination: types.PaginationResponse{
			Total:  int(total),
			Limit:  opts.Limit,
			Offset: opts.Offset,
		},
	})
}

// GetRenderState returns the state of a single render
func (h *RenderHandler) GetRenderState(c *fiber.Ctx) error {
	renderID, err := c.ParamsInt("id")
	if err != nil || renderID < 1 {
		return badRequest(c, ErrMsgInvalidRenderID)
	}

	render, err := h.renders.GetByID(c.UserContext(), uint(renderID))
	if err != nil {
		return respondWithError(c, err, ErrMsgGetRenderFailed)
	}
	return c.JSON(types.NewStateResponse(render))
}

// UpdateState is the webhook a render job calls when the engine exits. It
// answers with an empty 200 once the state is applied.
func (h *RenderHandler) UpdateState(c *fiber.Ctx) error {
	renderID, err := c.ParamsInt("id")
	if err != nil || renderID < 1 {
		return badRequest(c, ErrMsgInvalidRenderID)
	}

	exitCode := strings.TrimSpace(c.FormValue(ExitCodeField))
	if _, err := h.renders.HandleWebhook(c.UserContext(), uint(renderID), exitCode); err != nil {
		if !errors.Is(err, services.ErrRenderNotFound) {
			logger.ErrorWithFields("Failed to apply render webhook", map[string]interface{}{
				"render_id": renderID,
				"exit_code": exitCode,
				"error":     err.Error(),
			})
		}
		return respondWithError(c, err, ErrMsgUpdateStateFailed)
	}
	return c.SendStatus(fiber.StatusOK)
}
