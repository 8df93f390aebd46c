package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/meterly/backend/internal/application/subscription"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/subscriber"
)

func signupRouter(m *MockSignupper) *gin.Engine {
	router := gin.New()
	router.POST("/api/v1/signup", NewSignupHandler(m).Signup)
	return router
}

func TestSignupHandler_Created(t *testing.T) {
	m := new(MockSignupper)
	id := uuid.New()
	m.On("Signup", mock.Anything, mock.MatchedBy(func(r subscription.SignupRequest) bool {
		return r.Email == "owner@example.com" && r.Plan == "monthly"
	})).Return(&subscription.SignupResult{
		SubscriberID:              id,
		BillingCustomerRef:        "cus_1",
		BillingSubscriptionRef:    "sub_1",
		PaymentConfirmationHandle: "pi_1_secret",
		Status:                    subscriber.StatusPending,
	}, nil)

	w := serve(signupRouter(m), http.MethodPost, "/api/v1/signup", jsonBody(t, map[string]any{
		"email": "owner@example.com", "password": "s3cret-pass", "display_name": "Owner", "plan": "monthly",
	}), nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	env := decode(t, w)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"billing_customer_ref":"cus_1"`)
	assert.Contains(t, string(env.Data), `"payment_confirmation_handle":"pi_1_secret"`)
	m.AssertExpectations(t)
}

func TestSignupHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"duplicate", shared.ErrDuplicateSubscriber, http.StatusConflict},
		{"provision failed", shared.ErrBillingProvisionFailed, http.StatusBadGateway},
		{"identity store down", shared.ErrIdentityStoreUnavailable, http.StatusServiceUnavailable},
		{"reconciliation", shared.ErrReconciliationRequired.WithDetails(map[string]any{"subscriber_id": "abc"}), http.StatusAccepted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := new(MockSignupper)
			m.On("Signup", mock.Anything, mock.Anything).Return(nil, tc.err)

			w := serve(signupRouter(m), http.MethodPost, "/api/v1/signup", jsonBody(t, map[string]any{"email": "a@b.co"}), nil)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestSignupHandler_ReconciliationCarriesSubscriberID(t *testing.T) {
	m := new(MockSignupper)
	m.On("Signup", mock.Anything, mock.Anything).
		Return(nil, shared.ErrReconciliationRequired.WithDetails(map[string]any{"subscriber_id": "abc"}))

	env := decode(t, serve(signupRouter(m), http.MethodPost, "/api/v1/signup", jsonBody(t, map[string]any{}), nil))
	require.NotNil(t, env.Error)
	assert.Equal(t, "abc", env.Error.Details["subscriber_id"])
}

func TestSignupHandler_InvalidJSON(t *testing.T) {
	m := new(MockSignupper)
	router := signupRouter(m)

	w := serve(router, http.MethodPost, "/api/v1/signup", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	m.AssertNotCalled(t, "Signup", mock.Anything, mock.Anything)
}
