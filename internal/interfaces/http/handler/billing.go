package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meterly/backend/internal/application/subscription"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/subscriber"
)

// AccountManager is the self-service billing surface
type AccountManager interface {
	PortalLink(ctx context.Context, subscriberID uuid.UUID) (*subscription.PortalLink, error)
	Overview(ctx context.Context, subscriberID uuid.UUID) (*subscription.BillingOverview, error)
	ChangePlan(ctx context.Context, subscriberID uuid.UUID, req subscription.ChangePlanRequest) (*subscriber.Subscriber, error)
	Cancel(ctx context.Context, subscriberID uuid.UUID) (*billing.Subscription, error)
}

// BillingHandler handles billing endpoints for the logged-in subscriber
type BillingHandler struct {
	BaseHandler
	accounts AccountManager
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(accounts AccountManager) *BillingHandler {
	return &BillingHandler{accounts: accounts}
}

// PlanResponse is the subscriber's plan after a change
type PlanResponse struct {
	SubscriberID uuid.UUID           `json:"subscriber_id"`
	Plan         subscriber.PlanType `json:"plan"`
	Status       subscriber.Status   `json:"status"`
}

// CancelResponse reports the processor-side cancellation
type CancelResponse struct {
	SubscriptionRef string `json:"subscription_ref"`
	Status          string `json:"status"`
}

// PortalLink godoc
// @Summary      Create a billing portal link
// @Tags         billing
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.Response{data=subscription.PortalLink}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      502 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /billing/portal-link [post]
func (h *BillingHandler) PortalLink(c *gin.Context) {
	id, ok := h.subscriberID(c)
	if !ok {
		return
	}
	link, err := h.accounts.PortalLink(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, link)
}

// Overview returns invoices and payment methods
func (h *BillingHandler) Overview(c *gin.Context) {
	id, ok := h.subscriberID(c)
	if !ok {
		return
	}
	overview, err := h.accounts.Overview(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, overview)
}

// ChangePlan switches between monthly and annual
func (h *BillingHandler) ChangePlan(c *gin.Context) {
	id, ok := h.subscriberID(c)
	if !ok {
		return
	}
	var req subscription.ChangePlanRequest
	if !h.bindJSON(c, &req) {
		return
	}

	sub, err := h.accounts.ChangePlan(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, PlanResponse{SubscriberID: sub.ID, Plan: sub.Plan, Status: sub.Status})
}

// Cancel asks the processor to cancel. The local status follows the webhook.
func (h *BillingHandler) Cancel(c *gin.Context) {
	id, ok := h.subscriberID(c)
	if !ok {
		return
	}
	sub, err := h.accounts.Cancel(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, CancelResponse{SubscriptionRef: sub.Ref, Status: string(sub.Status)})
}
