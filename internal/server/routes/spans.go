package routes

import (
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/spans/pkg/graph"

	"github.com/labstack/echo/v4"
)

// ResolveSpanHandler resolves a candidate record to a span. With
// ?dry_run=true nothing is written.
func ResolveSpanHandler(c echo.Context) error {
	data := new(graph.Candidate)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	var opts graph.ResolveOptions
	if raw := c.QueryParam("dry_run"); raw != "" {
		dryRun, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "Invalid dry_run")
		}
		opts.DryRun = dryRun
	}

	res, err := app(c).Graph.ResolveWithOptions(c.Request().Context(), actor(c), *data, opts)
	if err != nil {
		return respondError(c, err)
	}

	status := http.StatusOK
	if res.Action == graph.ActionCreated && !res.DryRun {
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}

// DeleteSpanHandler deletes a span with its incident connections.
func DeleteSpanHandler(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return badRequest(c, "Missing span id")
	}

	res, err := app(c).Graph.DeleteSpan(c.Request().Context(), actor(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
