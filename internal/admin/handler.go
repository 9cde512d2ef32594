// Package admin exposes table, column and view definitions over HTTP.
package admin

import (
	"github.com/gofiber/fiber/v2"

	"dyntables/internal/apperr"
	"dyntables/internal/metadata"
	"dyntables/internal/schema"
)

type Handler struct {
	schema *schema.Manager
}

func NewHandler(m *schema.Manager) *Handler {
	return &Handler{schema: m}
}

// RegisterRoutes mounts the schema endpoints. read guards the GET routes;
// write guards everything that changes a definition.
func RegisterRoutes(app *fiber.App, h *Handler, read, write []fiber.Handler) {
	with := func(guards []fiber.Handler, handler fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, guards...), handler)
	}
	api := app.Group("/api")

	api.Get("/tables", with(read, h.ListTables)...)
	api.Post("/tables", with(write, h.CreateTable)...)
	api.Get("/tables/:tableId", with(read, h.GetTable)...)
	api.Patch("/tables/:tableId", with(write, h.UpdateTable)...)
	api.Delete("/tables/:tableId", with(write, h.DeleteTable)...)
	api.Get("/tables/:tableId/reconcile", with(write, h.Reconcile)...)
	api.Get("/reconcile", with(write, h.ReconcileAll)...)

	api.Post("/tables/:tableId/columns", with(write, h.AddColumn)...)
	api.Patch("/tables/:tableId/columns/:columnId", with(write, h.UpdateColumn)...)
	api.Delete("/tables/:tableId/columns/:columnId", with(write, h.DeleteColumn)...)

	api.Get("/tables/:tableId/views", with(read, h.ListViews)...)
	api.Post("/tables/:tableId/views", with(write, h.CreateView)...)
	api.Get("/views/:viewId", with(read, h.GetView)...)
	api.Patch("/views/:viewId", with(write, h.UpdateView)...)
	api.Delete("/views/:viewId", with(write, h.DeleteView)...)
	api.Post("/views/:viewId/default", with(write, h.SetDefaultView)...)
	api.Put("/views/:viewId/column-order", with(write, h.ReorderColumns)...)
}

func tenantOf(c *fiber.Ctx) (string, error) {
	id, err := metadata.TenantFrom(c.UserContext())
	if err != nil {
		return "", apperr.Unauthorized("missing tenant")
	}
	return id, nil
}

func parse(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperr.InvalidPayload("Invalid JSON body")
	}
	return nil
}

func data(c *fiber.Ctx, status int, v any) error {
	return c.Status(status).JSON(fiber.Map{"data": v})
}

// --- Tables ---

func (h *Handler) ListTables(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	tables, err := h.schema.ListTables(c.UserContext(), tenant)
	if err != nil {
		return err
	}
	if tables == nil {
		tables = []*metadata.Table{}
	}
	return data(c, fiber.StatusOK, tables)
}

func (h *Handler) GetTable(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	td, err := h.schema.GetTable(c.UserContext(), tenant, c.Params("tableId"))
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, td)
}

func (h *Handler) CreateTable(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	var in schema.CreateTableInput
	if err := parse(c, &in); err != nil {
		return err
	}
	td, err := h.schema.CreateTable(c.UserContext(), tenant, in)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusCreated, td)
}

func (h *Handler) UpdateTable(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	var in schema.UpdateTableInput
	if err := parse(c, &in); err != nil {
		return err
	}
	t, err := h.schema.UpdateTable(c.UserContext(), tenant, c.Params("tableId"), in)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, t)
}

func (h *Handler) DeleteTable(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	id := c.Params("tableId")
	if err := h.schema.DeleteTable(c.UserContext(), tenant, id); err != nil {
		return err
	}
	return data(c, fiber.StatusOK, fiber.Map{"id": id, "deleted": true})
}

func (h *Handler) Reconcile(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	report, err := h.schema.Reconcile(c.UserContext(), tenant, c.Params("tableId"))
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, report)
}

func (h *Handler) ReconcileAll(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	reports, err := h.schema.ReconcileAll(c.UserContext(), tenant)
	if err != nil {
		return err
	}
	if reports == nil {
		reports = []*schema.ReconcileReport{}
	}
	return data(c, fiber.StatusOK, reports)
}

// --- Columns ---

func (h *Handler) AddColumn(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	var in schema.ColumnInput
	if err := parse(c, &in); err != nil {
		return err
	}
	col, err := h.schema.AddColumn(c.UserContext(), tenant, c.Params("tableId"), in)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusCreated, col)
}

func (h *Handler) UpdateColumn(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	var p schema.ColumnPatch
	if err := parse(c, &p); err != nil {
		return err
	}
	col, err := h.schema.UpdateColumn(c.UserContext(), tenant, c.Params("tableId"), c.Params("columnId"), p)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, col)
}

func (h *Handler) DeleteColumn(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	id := c.Params("columnId")
	if err := h.schema.DeleteColumn(c.UserContext(), tenant, c.Params("tableId"), id); err != nil {
		return err
	}
	return data(c, fiber.StatusOK, fiber.Map{"id": id, "deleted": true})
}

// --- Views ---

func (h *Handler) ListViews(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	views, err := h.schema.ListViews(c.UserContext(), tenant, c.Params("tableId"))
	if err != nil {
		return err
	}
	if views == nil {
		views = []*metadata.View{}
	}
	return data(c, fiber.StatusOK, views)
}

func (h *Handler) GetView(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	v, err := h.schema.GetView(c.UserContext(), tenant, c.Params("viewId"))
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, v)
}

func (h *Handler) CreateView(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	var in schema.ViewInput
	if err := parse(c, &in); err != nil {
		return err
	}
	v, err := h.schema.CreateView(c.UserContext(), tenant, c.Params("tableId"), in)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusCreated, v)
}

func (h *Handler) UpdateView(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	var p schema.ViewPatch
	if err := parse(c, &p); err != nil {
		return err
	}
	v, err := h.schema.UpdateView(c.UserContext(), tenant, c.Params("viewId"), p)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, v)
}

func (h *Handler) DeleteView(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	id := c.Params("viewId")
	if err := h.schema.DeleteView(c.UserContext(), tenant, id); err != nil {
		return err
	}
	return data(c, fiber.StatusOK, fiber.Map{"id": id, "deleted": true})
}

func (h *Handler) SetDefaultView(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	v, err := h.schema.SetDefaultView(c.UserContext(), tenant, c.Params("viewId"))
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, v)
}

type columnOrder struct {
	ColumnIDs []string `json:"columnIds"`
}

func (h *Handler) ReorderColumns(c *fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return err
	}
	var body columnOrder
	if err := parse(c, &body); err != nil {
		return err
	}
	v, err := h.schema.ReorderColumns(c.UserContext(), tenant, c.Params("viewId"), body.ColumnIDs)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, v)
}
