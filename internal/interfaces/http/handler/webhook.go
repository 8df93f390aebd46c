package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterly/backend/internal/application/subscription"
	"github.com/meterly/backend/internal/interfaces/http/dto"
)

// DefaultMaxWebhookPayload bounds the raw webhook body (processor events are small)
const DefaultMaxWebhookPayload = 65536

// WebhookProcessor applies verified processor events
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*subscription.WebhookResult, error)
}

// WebhookHandler receives processor webhooks. It is unauthenticated; the
// signature is the only credential.
type WebhookHandler struct {
	BaseHandler
	service    WebhookProcessor
	maxPayload int64
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(service WebhookProcessor, maxPayload int64) *WebhookHandler {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxWebhookPayload
	}
	return &WebhookHandler{service: service, maxPayload: maxPayload}
}

// WebhookResponse acknowledges a delivery
type WebhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// Handle godoc
// @Summary      Receive a billing processor webhook
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Processor signature"
// @Success      200 {object} dto.Response{data=WebhookResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      413 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /webhooks/billing [post]
func (h *WebhookHandler) Handle(c *gin.Context) {
	// The signature covers the exact bytes, so the body is read raw
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxPayload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodePayloadTooLarge, "Payload too large", nil)
			return
		}
		h.BadRequest(c, "Failed to read request body")
		return
	}

	result, err := h.service.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, WebhookResponse{
		Received:  true,
		EventID:   result.EventID,
		EventType: result.EventType,
		Outcome:   result.Outcome,
	})
}
