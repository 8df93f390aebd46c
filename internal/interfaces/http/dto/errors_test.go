package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterly/backend/internal/domain/shared"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{shared.CodeValidation, http.StatusBadRequest},
		{shared.CodeDuplicateSubscriber, http.StatusConflict},
		{shared.CodeIdentityStoreUnavailable, http.StatusServiceUnavailable},
		{shared.CodeInvalidCredentials, http.StatusUnauthorized},
		{shared.CodeGatewayUnconfigured, http.StatusServiceUnavailable},
		{shared.CodeGatewayRejected, http.StatusBadGateway},
		{shared.CodeBillingProvisionFailed, http.StatusBadGateway},
		{shared.CodeReconciliationRequired, http.StatusAccepted},
		{shared.CodeUnauthenticated, http.StatusUnauthorized},
		{shared.CodeSubscriptionInactive, http.StatusPaymentRequired},
		{shared.CodeQuotaExceeded, http.StatusTooManyRequests},
		{shared.CodeWebhookSignatureInvalid, http.StatusBadRequest},
		{shared.CodeNotFound, http.StatusNotFound},
		{shared.CodeInternal, http.StatusInternalServerError},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{ErrCodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		// Unknown code should return 500
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestErrorResponseJSON(t *testing.T) {
	resp := NewErrorResponseWithRequestID(shared.CodeQuotaExceeded, "Monthly usage quota exceeded", "req-1",
		map[string]any{"usage": map[string]int{"current": 50, "limit": 50, "remaining": 0}})

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": false,
		"error": {
			"code": "QUOTA_EXCEEDED",
			"message": "Monthly usage quota exceeded",
			"details": {"usage": {"current": 50, "limit": 50, "remaining": 0}},
			"request_id": "req-1"
		}
	}`, string(raw))
}

func TestSuccessResponseOmitsError(t *testing.T) {
	raw, err := json.Marshal(NewSuccessResponse(map[string]string{"url": "https://x"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success": true, "data": {"url": "https://x"}}`, string(raw))
}
