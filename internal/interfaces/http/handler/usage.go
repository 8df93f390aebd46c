package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meterly/backend/internal/application/metering"
)

// maxHistoryMonths caps the ?months query
const maxHistoryMonths = 24

// UsageReporter summarises consumption
type UsageReporter interface {
	Summary(ctx context.Context, subscriberID uuid.UUID, months int) (*metering.UsageSummary, error)
}

// UsageHandler serves the usage summary
type UsageHandler struct {
	BaseHandler
	usage UsageReporter
}

// NewUsageHandler creates a new UsageHandler
func NewUsageHandler(usage UsageReporter) *UsageHandler {
	return &UsageHandler{usage: usage}
}

// Summary godoc
// @Summary      Current usage and recent history
// @Tags         usage
// @Produce      json
// @Security     BearerAuth
// @Param        months query int false "History length in months" minimum(1) maximum(24)
// @Success      200 {object} dto.Response{data=metering.UsageSummary}
// @Router       /usage [get]
func (h *UsageHandler) Summary(c *gin.Context) {
	id, ok := h.subscriberID(c)
	if !ok {
		return
	}

	months := metering.DefaultHistoryMonths
	if raw := c.Query("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryMonths {
			h.BadRequest(c, "months must be between 1 and 24")
			return
		}
		months = n
	}

	summary, err := h.usage.Summary(c.Request.Context(), id, months)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}
