package engine

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the row and view query endpoints. middleware runs
// before each of them and nowhere else under /api.
func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	with := func(handler fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, middleware...), handler)
	}
	api := app.Group("/api")

	api.Post("/views/:viewId/query", with(h.QueryView)...)
	api.Post("/views/:viewId/group-options", with(h.GroupOptions)...)

	api.Post("/tables/:tableId/rows", with(h.InsertRow)...)
	api.Get("/tables/:tableId/rows/:rowId", with(h.GetRow)...)
	api.Patch("/tables/:tableId/rows/:rowId", with(h.UpdateRow)...)
	api.Delete("/tables/:tableId/rows/:rowId", with(h.DeleteRow)...)
}
