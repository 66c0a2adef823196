package routes

import (
	"net/http"
	"time"

	"github.com/OFFIS-RIT/spans/internal/util"
	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SubmitRepairHandler queues a bulk repair run and returns its id.
func SubmitRepairHandler(c echo.Context) error {
	type submitResponse struct {
		RunID  string              `json:"run_id"`
		Status common.RepairStatus `json:"status"`
	}

	a := app(c)
	if a.Repairs == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "Repair queue is not configured"})
	}

	run, err := a.Graph.SubmitRepair(c.Request().Context(), actor(c), a.Repairs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, submitResponse{RunID: run.RunID, Status: run.Status})
}

// GetRepairHandler returns the progress of a run, with a report link
// once the run completed and reports are archived.
func GetRepairHandler(c echo.Context) error {
	type repairResponse struct {
		util.RepairProgress
		ReportURL string `json:"report_url,omitempty"`
	}

	ctx := c.Request().Context()
	a := app(c)
	run, err := a.Graph.RepairStatus(ctx, c.Param("run_id"))
	if err != nil {
		return respondError(c, err)
	}

	res := repairResponse{RepairProgress: util.BuildRepairProgress(run, time.Now())}
	if run.Status == common.RepairCompleted && a.ReportLink != nil {
		link, err := a.ReportLink(ctx, run.RunID)
		if err != nil {
			logger.Warn("[Server] Failed to presign repair report", "run_id", run.RunID, "err", err)
		} else {
			res.ReportURL = link
		}
	}
	return c.JSON(http.StatusOK, res)
}
