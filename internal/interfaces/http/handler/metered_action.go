package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/meterly/backend/internal/application/metering"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/usage"
	"github.com/meterly/backend/internal/infrastructure/content"
	"github.com/meterly/backend/internal/interfaces/http/middleware"
)

// MeteredActionPerformer is the metered action gate
type MeteredActionPerformer interface {
	Perform(ctx context.Context, token string, req metering.MeteredActionRequest) (*metering.Outcome, error)
}

// MeteredActionHandler exposes the metered action
type MeteredActionHandler struct {
	BaseHandler
	gate MeteredActionPerformer
}

// NewMeteredActionHandler creates a new MeteredActionHandler
func NewMeteredActionHandler(gate MeteredActionPerformer) *MeteredActionHandler {
	return &MeteredActionHandler{gate: gate}
}

// MeteredActionResponse is the action result with the usage after it
type MeteredActionResponse struct {
	Result        *content.Draft `json:"result"`
	Usage         usage.Snapshot `json:"usage"`
	UsageRecorded bool           `json:"usage_recorded"`
}

// Perform godoc
// @Summary      Run one metered action
// @Tags         metered-actions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.Response{data=MeteredActionResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      402 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      429 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /metered-actions [post]
func (h *MeteredActionHandler) Perform(c *gin.Context) {
	// Session comes before payload: a caller without a token is refused
	// before the body is read. The gate verifies the token itself.
	token := middleware.BearerToken(c)
	if token == "" {
		h.HandleError(c, shared.ErrUnauthenticated)
		return
	}

	var req metering.MeteredActionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	outcome, err := h.gate.Perform(c.Request.Context(), token, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, MeteredActionResponse{
		Result:        outcome.Result,
		Usage:         outcome.Usage,
		UsageRecorded: outcome.UsageRecorded,
	})
}
