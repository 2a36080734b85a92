// Package api contains the HTTP handlers for the concierge service
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/voxhall/concierge/internal/billing"
	"github.com/voxhall/concierge/internal/logging"
	"github.com/voxhall/concierge/internal/orchestrator"
	"github.com/voxhall/concierge/internal/provider"
	"github.com/voxhall/concierge/internal/workflow"
	"github.com/voxhall/concierge/pkg/models"
)

// Handler holds the dependencies for the REST API.
type Handler struct {
	manager *orchestrator.Manager
	logger  *logging.Logger
}

// NewHandler creates a new Handler.
func NewHandler(manager *orchestrator.Manager, logger *logging.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// RegisterRoutes mounts the API routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/jobs", h.StartJob)
	g.GET("/jobs/:id", h.GetJobStatus)
	g.POST("/jobs/stop", h.StopJob)
	g.POST("/jobs/cleanup", h.Cleanup)
	g.GET("/workflows", h.ListWorkflows)
	g.POST("/workflows/:name/run", h.RunWorkflow)
}

// StartJobRequest is the payload for starting an asynchronous job.
type StartJobRequest struct {
	Message   string               `json:"message"`
	Workflow  string               `json:"workflow,omitempty"`
	Params    map[string]any       `json:"params,omitempty"`
	UserID    string               `json:"user_id,omitempty"`
	ChannelID string               `json:"channel_id,omitempty"`
	Agent     provider.AgentConfig `json:"agent,omitempty"`
}

// StartJob starts an asynchronous job
// (POST /api/v1/jobs)
func (h *Handler) StartJob(c echo.Context) error {
	var req StartJobRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}

	result, err := h.manager.Start(c.Request().Context(), orchestrator.StartRequest{
		Message:   req.Message,
		Workflow:  req.Workflow,
		Params:    req.Params,
		UserID:    req.UserID,
		ChannelID: req.ChannelID,
		Agent:     req.Agent,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetJobStatus returns the current state of a job, reconciling it against
// the external process if needed
// (GET /api/v1/jobs/:id)
func (h *Handler) GetJobStatus(c echo.Context) error {
	session, err := h.manager.GetStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// StopJobRequest identifies the process to stop by its reachability handle.
type StopJobRequest struct {
	ExternalRef string `json:"external_ref"`
}

// StopJob stops the external process behind a job
// (POST /api/v1/jobs/stop)
func (h *Handler) StopJob(c echo.Context) error {
	var req StopJobRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}
	if req.ExternalRef == "" {
		return problem(c, http.StatusBadRequest, "Invalid request body", "external_ref is required")
	}

	result, err := h.manager.StopByExternalRef(c.Request().Context(), req.ExternalRef)
	if err != nil {
		return h.mapError(c, err)
	}
	status := "not_found"
	if result.Found {
		status = "success"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": status,
		"handle": req.ExternalRef,
	})
}

// CleanupRequest bounds the age of sessions to keep.
type CleanupRequest struct {
	MaxAge string `json:"max_age,omitempty"`
}

// Cleanup force-stops sessions older than max_age
// (POST /api/v1/jobs/cleanup)
func (h *Handler) Cleanup(c echo.Context) error {
	var req CleanupRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}
	maxAge := time.Hour
	if req.MaxAge != "" {
		parsed, err := time.ParseDuration(req.MaxAge)
		if err != nil {
			return problem(c, http.StatusBadRequest, "Invalid request body", "max_age must be a duration such as 90m or 2h")
		}
		maxAge = parsed
	}

	stopped, err := h.manager.CleanupLongRunning(c.Request().Context(), maxAge)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "success",
		"stopped_count": stopped,
		"max_age":       maxAge.String(),
	})
}

// ListWorkflows returns the registered workflows
// (GET /api/v1/workflows)
func (h *Handler) ListWorkflows(c echo.Context) error {
	workflows := h.manager.ListWorkflows()
	return c.JSON(http.StatusOK, map[string]any{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

// RunWorkflowRequest is the payload for the synchronous workflow path.
type RunWorkflowRequest struct {
	Message   string         `json:"message"`
	Params    map[string]any `json:"params,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
}

// RunWorkflow executes a named workflow synchronously
// (POST /api/v1/workflows/:name/run)
func (h *Handler) RunWorkflow(c echo.Context) error {
	var req RunWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}

	outcome, err := h.manager.RunWorkflow(c.Request().Context(), c.Param("name"),
		workflow.Input{Message: req.Message, Params: req.Params},
		workflow.Correlation{UserID: req.UserID, ChannelID: req.ChannelID})
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

// HandleHealth returns basic health status (always returns 200 OK)
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthStatus{
		Status:    "ok",
		Service:   "concierge",
		Version:   "1.0.0",
		Timestamp: time.Now(),
	})
}

// mapError translates the orchestrator error taxonomy into HTTP responses.
func (h *Handler) mapError(c echo.Context, err error) error {
	var validationErr *orchestrator.ValidationError
	if errors.As(err, &validationErr) {
		return problem(c, http.StatusBadRequest, "Validation failed", validationErr.Message)
	}

	var notFoundErr *orchestrator.NotFoundError
	if errors.As(err, &notFoundErr) {
		return problem(c, http.StatusNotFound, "Not found", notFoundErr.Message)
	}

	var workflowNotFound *workflow.NotFoundError
	if errors.As(err, &workflowNotFound) {
		return problem(c, http.StatusNotFound, "Not found", workflowNotFound.Error())
	}

	var admissionErr *orchestrator.AdmissionError
	if errors.As(err, &admissionErr) {
		status := http.StatusPaymentRequired
		if admissionErr.Reason == billing.ReasonPrincipalUnknown {
			status = http.StatusUnauthorized
		}
		payload := map[string]any{"error": admissionErr.Reason}
		if admissionErr.CurrentBalance != nil {
			payload["current_balance"] = *admissionErr.CurrentBalance
		}
		return c.JSON(status, payload)
	}

	var dispatchErr *orchestrator.DispatchError
	if errors.As(err, &dispatchErr) {
		return problem(c, http.StatusBadGateway, "Dispatch failed", dispatchErr.Error())
	}

	h.logger.Error("internal error: %v", err)
	return problem(c, http.StatusInternalServerError, "Internal error", err.Error())
}

// problem writes an RFC 7807 Problem Details JSON error response.
func problem(c echo.Context, status int, title, detail string) error {
	return c.JSON(status, models.ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
