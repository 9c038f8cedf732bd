package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
	"github.com/noah-isme/uni-onboarding-api/internal/service"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
	"github.com/noah-isme/uni-onboarding-api/pkg/response"
)

// RecordHandler exposes student record endpoints.
type RecordHandler struct {
	records *service.RecordService
}

// NewRecordHandler constructs RecordHandler.
func NewRecordHandler(records *service.RecordService) *RecordHandler {
	return &RecordHandler{records: records}
}

// List godoc
// @Summary List student records
// @Tags Records
// @Produce json
// @Param search query string false "Search by name or document"
// @Param stage query string false "Filter by lifecycle stage"
// @Param program query string false "Filter by program"
// @Param pending query bool false "Only records with unfinished provisioning"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /records [get]
func (h *RecordHandler) List(c *gin.Context) {
	var filter models.RecordFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Stage = models.LifecycleStage(c.Query("stage"))
	filter.Program = c.Query("program")
	if pending := c.Query("pending"); pending != "" {
		if v, err := strconv.ParseBool(pending); err == nil {
			filter.Pending = &v
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	records, total, err := h.records.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get a student record
// @Tags Records
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Router /records/{id} [get]
func (h *RecordHandler) Get(c *gin.Context) {
	record, err := h.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

type advanceStageRequest struct {
	Stage models.LifecycleStage `json:"stage" binding:"required"`
}

// AdvanceStage godoc
// @Summary Advance a record to a later lifecycle stage
// @Tags Records
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body advanceStageRequest true "Target stage"
// @Success 200 {object} response.Envelope
// @Router /records/{id}/stage [put]
func (h *RecordHandler) AdvanceStage(c *gin.Context) {
	var req advanceStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.records.AdvanceStage(c.Request.Context(), c.Param("id"), req.Stage)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}
