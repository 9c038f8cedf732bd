package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
	"github.com/noah-isme/uni-onboarding-api/internal/service"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
	"github.com/noah-isme/uni-onboarding-api/pkg/response"
)

// IngestionHandler exposes watermark and manual ingestion endpoints. Manual
// runs are dispatched to the background queue so the request returns at once.
type IngestionHandler struct {
	ingest   *service.IngestService
	dispatch func(models.RecordCategory) error
}

// NewIngestionHandler constructs IngestionHandler.
func NewIngestionHandler(ingest *service.IngestService, dispatch func(models.RecordCategory) error) *IngestionHandler {
	return &IngestionHandler{ingest: ingest, dispatch: dispatch}
}

// Watermarks godoc
// @Summary List ingestion watermarks
// @Tags Ingestion
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /ingestion/watermarks [get]
func (h *IngestionHandler) Watermarks(c *gin.Context) {
	wms, err := h.ingest.Watermarks(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, wms, nil)
}

// Run godoc
// @Summary Queue an ingestion run for a category
// @Tags Ingestion
// @Produce json
// @Param category path string true "Record category"
// @Success 202 {object} response.Envelope
// @Router /ingestion/{category}/run [post]
func (h *IngestionHandler) Run(c *gin.Context) {
	category := models.RecordCategory(c.Param("category"))
	if !category.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown record category"))
		return
	}
	if err := h.dispatch(category); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue ingestion run"))
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"message": "ingestion run queued", "category": category}, nil)
}

// ForceFullReload godoc
// @Summary Flag a category for a full window replay on its next run
// @Tags Ingestion
// @Produce json
// @Param category path string true "Record category"
// @Success 204
// @Router /ingestion/{category}/force-reload [post]
func (h *IngestionHandler) ForceFullReload(c *gin.Context) {
	category := models.RecordCategory(c.Param("category"))
	if err := h.ingest.ForceFullReload(c.Request.Context(), category); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
