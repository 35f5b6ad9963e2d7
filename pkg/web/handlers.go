// Package web provides the REST API endpoints for workflow management.
package web

import (
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/ispworks/sagaflow/pkg/models"
	"github.com/ispworks/sagaflow/pkg/services"
)

type APIHandlers struct {
	workflowService *services.Workflow
	validator       *validator.Validate
}

func NewAPIHandlers(workflowService *services.Workflow, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		validator:       validator,
	}
}

// RegisterRoutes mounts the workflow endpoints on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	w := app.Group("/workflows")
	w.Post("/", h.StartWorkflow)
	w.Get("/", h.GetWorkflows)
	w.Get("/statistics", h.GetStatistics)
	w.Get("/:id", h.GetWorkflow)
	w.Post("/:id/retry", h.RetryWorkflow)
	w.Post("/:id/cancel", h.CancelWorkflow)

	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	var req StartWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.workflowService.StartWorkflow(c.Context(), services.StartWorkflowRequest{
		WorkflowType: models.WorkflowType(req.WorkflowType),
		InputData:    req.InputData,
		Initiator:    req.Initiator,
		TenantID:     req.TenantID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.TenantID = c.Query("tenant_id")

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.WorkflowStatus(statusStr)
		req.Status = &status
	}

	if typeStr := c.Query("workflow_type"); typeStr != "" {
		workflowType := models.WorkflowType(typeStr)
		req.Type = &workflowType
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) RetryWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.RetryWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	var req CancelWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if req.RequestedBy == "" {
		req.RequestedBy = "operator"
	}

	if err := h.workflowService.CancelWorkflow(c.Context(), c.Params("id"), req.RequestedBy); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) GetStatistics(c fiber.Ctx) error {
	req := services.StatisticsRequest{}

	if typeStr := c.Query("workflow_type"); typeStr != "" {
		workflowType := models.WorkflowType(typeStr)
		req.Type = &workflowType
	}

	if fromStr := c.Query("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return badRequest(c, "Invalid 'from' timestamp: "+err.Error())
		}

		req.From = from
	}

	if toStr := c.Query("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return badRequest(c, "Invalid 'to' timestamp: "+err.Error())
		}

		req.To = to
	}

	stats, err := h.workflowService.GetStatistics(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	message, healthy := h.workflowService.HealthCheck(c.Context())

	status := fiber.StatusOK
	if !healthy {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"status":  message,
		"healthy": healthy,
	})
}
