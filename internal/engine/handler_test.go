package engine

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dyntables/internal/logger"
	"dyntables/internal/metadata"
)

func testApp(fx *fixture) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger.Discard())})
	withUser := func(c *fiber.Ctx) error {
		if id := c.Get("X-Tenant"); id != "" {
			c.SetUserContext(tenantCtx(id))
		}
		return c.Next()
	}
	RegisterRoutes(app, NewHandler(fx.engine), withUser)
	return app
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Field string `json:"field"`
			Rule  string `json:"rule"`
		} `json:"details"`
	} `json:"error"`
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant", tenant)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHandler_QueryView(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)
	app := testApp(fx)
	hours := fx.col(fx.tasks, "hours")

	status, env := doRequest(t, app, http.MethodPost, "/api/views/"+fx.view(fx.tasks)+"/query", map[string]any{
		"limit": 1,
		"filters": map[string]any{
			"operator":   "AND",
			"conditions": []any{map[string]any{"columnId": hours, "operator": "gte", "value": 3}},
		},
		"sorts": []any{map[string]any{"columnId": hours, "direction": "desc"}},
	})
	require.Equal(t, http.StatusOK, status)

	var res QueryResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, []string{"Build"}, titles(res.Rows))
	assert.EqualValues(t, 2, res.Total)
	assert.True(t, res.HasMore)

	// no body runs the view as saved
	status, env = doRequest(t, app, http.MethodPost, "/api/views/"+fx.view(fx.tasks)+"/query", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.EqualValues(t, 5, res.Total)
}

func TestHandler_GroupOptions(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)
	app := testApp(fx)

	status, env := doRequest(t, app, http.MethodPost, "/api/views/"+fx.view(fx.projects)+"/group-options", map[string]any{"columnName": "status"})
	require.Equal(t, http.StatusOK, status)

	var res GroupOptionsResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "select", res.ColumnType)
	assert.Len(t, res.Options, 2)
}

func TestHandler_RowLifecycle(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)
	app := testApp(fx)
	base := "/api/tables/" + fx.tasks.ID + "/rows"

	status, env := doRequest(t, app, http.MethodPost, base, map[string]any{"title": "Plan", "project": fx.apollo})
	require.Equal(t, http.StatusCreated, status)
	var row map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &row))
	id := row["id"].(string)
	assert.Equal(t, "Apollo", row["project_name"])

	status, env = doRequest(t, app, http.MethodPatch, base+"/"+id, map[string]any{"hours": 4})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &row))
	assert.Equal(t, float64(8), row["double_hours"])

	status, _ = doRequest(t, app, http.MethodGet, base+"/"+id, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = doRequest(t, app, http.MethodDelete, base+"/"+id, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = doRequest(t, app, http.MethodGet, base+"/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestHandler_Errors(t *testing.T) {
	fx := newFixture(t)
	app := testApp(fx)
	base := "/api/tables/" + fx.tasks.ID + "/rows"

	status, env := doRequest(t, app, http.MethodPost, base, `{"title":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_PAYLOAD", env.Error.Code)

	status, env = doRequest(t, app, http.MethodPost, base, map[string]any{"hours": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	require.Len(t, env.Error.Details, 1)
	assert.Equal(t, "title", env.Error.Details[0].Field)

	status, env = doRequest(t, app, http.MethodPost, "/api/views/"+fx.tasks.ID+"/query", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestHandler_MissingTenant(t *testing.T) {
	fx := newFixture(t)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger.Discard())})
	RegisterRoutes(app, NewHandler(fx.engine))

	req, err := http.NewRequest(http.MethodGet, "/api/tables/"+fx.tasks.ID+"/rows/"+fx.tasks.Views[0].ID, nil)
	require.NoError(t, err)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFilterGroupDecodesFromJSON(t *testing.T) {
	var opts QueryOptions
	require.NoError(t, json.Unmarshal([]byte(`{"filters":{"operator":"OR","conditions":[
		{"columnId":"c1","operator":"equals","value":"a"},
		{"operator":"AND","conditions":[{"columnId":"c2","operator":"isEmpty"}]}
	]}}`), &opts))
	require.NotNil(t, opts.Filters)
	assert.True(t, opts.Filters.IsOr())
	require.Len(t, opts.Filters.Conditions, 2)
	assert.Equal(t, "c1", opts.Filters.Conditions[0].Condition.ColumnID)
	assert.Equal(t, metadata.GroupAnd, opts.Filters.Conditions[1].Group.Operator)
	assert.Nil(t, opts.Sorts)
}
