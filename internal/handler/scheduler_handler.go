package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-onboarding-api/internal/service"
	"github.com/noah-isme/uni-onboarding-api/pkg/response"
)

// SchedulerHandler exposes batch processing and batch report endpoints.
type SchedulerHandler struct {
	batches *service.BatchService
	exports *service.ExportService
}

// NewSchedulerHandler constructs SchedulerHandler.
func NewSchedulerHandler(batches *service.BatchService, exports *service.ExportService) *SchedulerHandler {
	return &SchedulerHandler{batches: batches, exports: exports}
}

// Tick godoc
// @Summary Process one batch of pending tasks now
// @Tags Scheduler
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /scheduler/tick [post]
func (h *SchedulerHandler) Tick(c *gin.Context) {
	batch, err := h.batches.ProcessPendingBatch(c.Request.Context(), time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	if batch == nil {
		response.JSON(c, http.StatusOK, gin.H{"message": "no pending tasks"}, nil)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Export godoc
// @Summary Download recent batch activity as CSV or PDF
// @Tags Scheduler
// @Produce text/csv,application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Param limit query int false "Number of batches"
// @Success 200 {file} binary
// @Router /scheduler/batches/export [get]
func (h *SchedulerHandler) Export(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	result, err := h.exports.BatchReport(c.Request.Context(), format, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Data(http.StatusOK, result.ContentType, result.Content)
}
