package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/spans/pkg/common"

	"github.com/labstack/echo/v4"
)

// ValidateConnectionHandler reports whether a draft could be stored.
// Rule failures are part of the 200 response.
func ValidateConnectionHandler(c echo.Context) error {
	type validateResponse struct {
		Valid     bool               `json:"valid"`
		Violation *common.Violation  `json:"violation,omitempty"`
		Duplicate *common.Connection `json:"duplicate,omitempty"`
		// ClearDates warns that a timeless type will drop the dates.
		ClearDates bool `json:"clear_dates,omitempty"`
	}

	data := new(common.ConnectionDraft)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	res, err := app(c).Graph.Validate(c.Request().Context(), *data)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, validateResponse{
		Valid:      res.Valid(),
		Violation:  res.Violation,
		Duplicate:  res.Duplicate,
		ClearDates: res.ClearDates,
	})
}

// CreateConnectionHandler stores a connection with its relationship-span.
func CreateConnectionHandler(c echo.Context) error {
	data := new(common.ConnectionDraft)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	res, err := app(c).Graph.Connect(c.Request().Context(), actor(c), *data)
	if err != nil {
		return respondError(c, err)
	}
	if res.Duplicate {
		return c.JSON(http.StatusOK, res)
	}
	return c.JSON(http.StatusCreated, res)
}
