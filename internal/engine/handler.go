package engine

import (
	"github.com/gofiber/fiber/v2"

	"dyntables/internal/apperr"
)

type Handler struct {
	engine *Engine
}

func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

// QueryView handles POST /api/views/:viewId/query
func (h *Handler) QueryView(c *fiber.Ctx) error {
	var opts QueryOptions
	if err := parseBody(c, &opts); err != nil {
		return err
	}
	res, err := h.engine.QueryViewRows(c.UserContext(), c.Params("viewId"), opts)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": res})
}

// GroupOptions handles POST /api/views/:viewId/group-options
func (h *Handler) GroupOptions(c *fiber.Ctx) error {
	var in GroupOptionsInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	res, err := h.engine.GroupOptions(c.UserContext(), c.Params("viewId"), in)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": res})
}

// InsertRow handles POST /api/tables/:tableId/rows
func (h *Handler) InsertRow(c *fiber.Ctx) error {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return apperr.InvalidPayload("Invalid JSON body")
	}
	row, err := h.engine.InsertRow(c.UserContext(), c.Params("tableId"), body)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": row})
}

// GetRow handles GET /api/tables/:tableId/rows/:rowId
func (h *Handler) GetRow(c *fiber.Ctx) error {
	row, err := h.engine.GetRow(c.UserContext(), c.Params("tableId"), c.Params("rowId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": row})
}

// UpdateRow handles PATCH /api/tables/:tableId/rows/:rowId
func (h *Handler) UpdateRow(c *fiber.Ctx) error {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return apperr.InvalidPayload("Invalid JSON body")
	}
	row, err := h.engine.UpdateRow(c.UserContext(), c.Params("tableId"), c.Params("rowId"), body)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": row})
}

// DeleteRow handles DELETE /api/tables/:tableId/rows/:rowId
func (h *Handler) DeleteRow(c *fiber.Ctx) error {
	id := c.Params("rowId")
	if err := h.engine.DeleteRow(c.UserContext(), c.Params("tableId"), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

// parseBody decodes an optional JSON body. An empty body keeps the defaults.
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return apperr.InvalidPayload("Invalid JSON body")
	}
	return nil
}
