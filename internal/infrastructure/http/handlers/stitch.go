// Package handlers holds the echo handlers for Stitch's control surface
// (spec.md §4.5, §6): starting a run, worker callbacks, and UX completion.
// Grounded on the teacher's internal/infrastructure/http/handlers/run.go
// (DTO binding, echo.NewHTTPError, JSON envelope shape).
package handlers

import (
	"net/http"

	"github.com/duragraph/duragraph/internal/application/service"
	"github.com/duragraph/duragraph/internal/domain/stitchrun"
	"github.com/duragraph/duragraph/internal/infrastructure/http/dto"
	"github.com/duragraph/duragraph/internal/pkg/errors"
	"github.com/labstack/echo/v4"
)

// StitchHandler serves the engine's control-surface routes.
type StitchHandler struct {
	runs *service.RunService
}

// NewStitchHandler constructs a StitchHandler.
func NewStitchHandler(runs *service.RunService) *StitchHandler {
	return &StitchHandler{runs: runs}
}

// StartRun handles POST /api/flows/:id/run.
func (h *StitchHandler) StartRun(c echo.Context) error {
	flowID := c.Param("id")
	if flowID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "flow id is required in path")
	}

	var req dto.RunRequest
	if err := c.Bind(&req); err != nil {
		return errors.InvalidInput("body", err.Error())
	}

	run, versionID, err := h.runs.StartRun(c.Request().Context(), flowID, req.VisualGraph, req.EntityID, req.Input)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.RunResponse{
		RunID:     run.ID,
		VersionID: versionID,
		Status:    "started",
	})
}

// Callback handles POST /api/stitch/callback/:runId/:nodeId (Worker Protocol
// callback, spec.md §6).
func (h *StitchHandler) Callback(c echo.Context) error {
	runID := c.Param("runId")
	nodeID := c.Param("nodeId")
	if runID == "" || nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "runId and nodeId are required in path")
	}

	var req dto.CallbackRequest
	if err := c.Bind(&req); err != nil {
		return errors.InvalidInput("body", err.Error())
	}
	if req.Status != "completed" && req.Status != "failed" {
		return errors.InvalidInput("status", "status must be \"completed\" or \"failed\"")
	}

	if err := h.runs.HandleCallback(c.Request().Context(), runID, nodeID, req.Status == "completed", req.Output, req.Error); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

// Complete handles POST /api/stitch/complete/:runId/:nodeId (UX-complete,
// spec.md §6).
func (h *StitchHandler) Complete(c echo.Context) error {
	runID := c.Param("runId")
	nodeID := c.Param("nodeId")
	if runID == "" || nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "runId and nodeId are required in path")
	}

	var req dto.CompleteRequest
	if err := c.Bind(&req); err != nil {
		return errors.InvalidInput("body", err.Error())
	}

	if err := h.runs.HandleComplete(c.Request().Context(), runID, nodeID, req.Input); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

// GetRun handles GET /api/runs/:id (supplemented feature, SPEC_FULL.md §6).
func (h *StitchHandler) GetRun(c echo.Context) error {
	runID := c.Param("id")
	run, err := h.runs.GetRun(c.Request().Context(), runID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runToResponse(run))
}

func runToResponse(run *stitchrun.Run) dto.RunStateResponse {
	states := make(map[string]interface{}, len(run.NodeStates))
	for id, st := range run.NodeStates {
		states[id] = st
	}
	return dto.RunStateResponse{
		ID:            run.ID,
		FlowVersionID: run.FlowVersionID,
		EntityID:      run.EntityID,
		Status:        string(run.AggregateStatus()),
		NodeStates:    states,
		CreatedAt:     run.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:     run.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
