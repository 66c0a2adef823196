package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/spans/internal/server/middleware"
	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/graph"
	"github.com/OFFIS-RIT/spans/pkg/logger"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Violation *common.Violation `json:"violation,omitempty"`
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Message: message, Code: "bad_request"})
}

// respondError maps engine errors onto HTTP statuses. Unknown errors are
// logged and hidden behind a 500.
func respondError(c echo.Context, err error) error {
	var violation *common.Violation
	if errors.As(err, &violation) {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Message:   violation.Error(),
			Code:      violation.Code(),
			Violation: violation,
		})
	}

	status, code := http.StatusInternalServerError, ""
	switch {
	case errors.Is(err, common.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, common.ErrTypeMismatch):
		status, code = http.StatusConflict, "type_mismatch"
	case errors.Is(err, common.ErrSelfMerge):
		status, code = http.StatusBadRequest, "self_merge"
	case errors.Is(err, common.ErrMergeTypeIncompatible):
		status, code = http.StatusConflict, "merge_type_incompatible"
	case errors.Is(err, common.ErrInvalidCandidate):
		status, code = http.StatusBadRequest, "invalid_candidate"
	case errors.Is(err, graph.ErrRepairFinished):
		status, code = http.StatusConflict, "repair_finished"
	}

	if status == http.StatusInternalServerError {
		logger.Error("[Server] Request failed", "path", c.Path(), "err", err)
		return c.JSON(status, errorResponse{Message: "Internal server error"})
	}
	return c.JSON(status, errorResponse{Message: err.Error(), Code: code})
}

func actor(c echo.Context) common.Actor {
	return c.(*middleware.AppContext).User.Actor()
}

func app(c echo.Context) *middleware.App {
	return c.(*middleware.AppContext).App
}
