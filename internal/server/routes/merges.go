package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/spans/pkg/common"

	"github.com/labstack/echo/v4"
)

type mergeBody struct {
	TargetID string `json:"target_id" validate:"required"`
	SourceID string `json:"source_id" validate:"required"`
}

// GetDuplicatesHandler lists every duplicate group with its suggestion.
func GetDuplicatesHandler(c echo.Context) error {
	type duplicatesResponse struct {
		Groups []common.DuplicateGroup `json:"groups"`
	}

	groups, err := app(c).Graph.FindGroups(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	if groups == nil {
		groups = []common.DuplicateGroup{}
	}
	return c.JSON(http.StatusOK, duplicatesResponse{Groups: groups})
}

// MergeHandler merges source_id into target_id.
func MergeHandler(c echo.Context) error {
	data := new(mergeBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	res, err := app(c).Graph.Merge(c.Request().Context(), actor(c), data.TargetID, data.SourceID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// PreviewMergeHandler reports what MergeHandler would change.
func PreviewMergeHandler(c echo.Context) error {
	data := new(mergeBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	res, err := app(c).Graph.PreviewMerge(c.Request().Context(), data.TargetID, data.SourceID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
