package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/meterly/backend/internal/application/subscription"
)

// Signupper runs the signup workflow
type Signupper interface {
	Signup(ctx context.Context, req subscription.SignupRequest) (*subscription.SignupResult, error)
}

// SignupHandler handles self-service signup
type SignupHandler struct {
	BaseHandler
	orchestrator Signupper
}

// NewSignupHandler creates a new SignupHandler
func NewSignupHandler(orchestrator Signupper) *SignupHandler {
	return &SignupHandler{orchestrator: orchestrator}
}

// Signup godoc
// @Summary      Create a subscriber
// @Description  Creates the identity, processor customer and subscription, then the local record
// @Tags         signup
// @Accept       json
// @Produce      json
// @Success      201 {object} dto.Response{data=subscription.SignupResult}
// @Failure      202 {object} dto.Response{error=dto.ErrorInfo} "Provisioned remotely, local record pending reconciliation"
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      502 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /signup [post]
func (h *SignupHandler) Signup(c *gin.Context) {
	var req subscription.SignupRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.orchestrator.Signup(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, result)
}
