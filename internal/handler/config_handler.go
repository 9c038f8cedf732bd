package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-onboarding-api/internal/service"
	appErrors "github.com/noah-isme/uni-onboarding-api/pkg/errors"
	"github.com/noah-isme/uni-onboarding-api/pkg/response"
)

// ConfigHandler exposes the runtime-tunable configuration endpoints.
type ConfigHandler struct {
	config *service.ConfigService
}

// NewConfigHandler constructs ConfigHandler.
func NewConfigHandler(config *service.ConfigService) *ConfigHandler {
	return &ConfigHandler{config: config}
}

// Current godoc
// @Summary Show the active runtime configuration
// @Tags Configuration
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /config [get]
func (h *ConfigHandler) Current(c *gin.Context) {
	response.JSON(c, http.StatusOK, gin.H{
		"snapshot": h.config.Current(),
		"keys":     h.config.TunableKeys(),
	}, nil)
}

type setConfigRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// Set godoc
// @Summary Override one tunable configuration value
// @Tags Configuration
// @Accept json
// @Produce json
// @Param payload body setConfigRequest true "Key and value"
// @Success 200 {object} response.Envelope
// @Router /config [put]
func (h *ConfigHandler) Set(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	snap, err := h.config.Set(c.Request.Context(), req.Key, req.Value, currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snap, nil)
}

// Reload godoc
// @Summary Re-resolve overrides and republish the snapshot
// @Tags Configuration
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /config/reload [post]
func (h *ConfigHandler) Reload(c *gin.Context) {
	snap, err := h.config.Reload(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snap, nil)
}
