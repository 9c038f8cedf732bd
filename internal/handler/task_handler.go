package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-onboarding-api/internal/middleware"
	"github.com/noah-isme/uni-onboarding-api/internal/models"
	"github.com/noah-isme/uni-onboarding-api/internal/service"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
	"github.com/noah-isme/uni-onboarding-api/pkg/response"
)

// TaskHandler exposes the task queue endpoints.
type TaskHandler struct {
	tasks *service.TaskService
}

// NewTaskHandler constructs TaskHandler.
func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// List godoc
// @Summary List tasks
// @Tags Tasks
// @Produce json
// @Param type query string false "Filter by task type"
// @Param state query string false "Filter by state"
// @Param recordId query string false "Filter by record"
// @Param origin query string false "Filter by origin"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	var filter models.TaskFilter
	filter.Type = models.TaskType(c.Query("type"))
	filter.State = models.TaskState(c.Query("state"))
	filter.RecordID = c.Query("recordId")
	filter.Origin = models.TaskOrigin(c.Query("origin"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	tasks, total, err := h.tasks.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tasks, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get a task
// @Tags Tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} response.Envelope
// @Router /tasks/{id} [get]
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task, nil)
}

// Enqueue godoc
// @Summary Enqueue a task
// @Tags Tasks
// @Accept json
// @Produce json
// @Param payload body service.EnqueueTaskRequest true "Task request"
// @Success 201 {object} response.Envelope
// @Router /tasks [post]
func (h *TaskHandler) Enqueue(c *gin.Context) {
	var req service.EnqueueTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	task, err := h.tasks.Enqueue(c.Request.Context(), req, models.OriginManual)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, task)
}

// BulkEnqueue godoc
// @Summary Enqueue the same task for a set of records
// @Tags Tasks
// @Accept json
// @Produce json
// @Param payload body service.BulkEnqueueRequest true "Bulk task request"
// @Success 201 {object} response.Envelope
// @Router /tasks/bulk [post]
func (h *TaskHandler) BulkEnqueue(c *gin.Context) {
	var req service.BulkEnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	created, failed, err := h.tasks.BulkEnqueue(c.Request.Context(), req, models.OriginManual)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{
		"created": created,
		"failed":  failed,
	}, nil)
}

// currentUserID extracts the authenticated operator id, when present.
func currentUserID(c *gin.Context) string {
	claims, ok := middleware.CurrentUser(c)
	if !ok {
		return ""
	}
	return claims.UserID
}
