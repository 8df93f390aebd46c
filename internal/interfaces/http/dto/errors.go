package dto

import (
	"net/http"

	"github.com/meterly/backend/internal/domain/shared"
)

// Transport-level error codes, raised before a request reaches a service
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "INVALID_JSON"
	// ErrCodeRateLimited is used when rate limit is exceeded
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodePayloadTooLarge is used when the body exceeds its limit
	ErrCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	// ErrCodeRouteNotFound is used for unknown routes
	ErrCodeRouteNotFound = "ROUTE_NOT_FOUND"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	shared.CodeValidation:               http.StatusBadRequest,
	shared.CodeDuplicateSubscriber:      http.StatusConflict,
	shared.CodeIdentityAlreadyExists:    http.StatusConflict,
	shared.CodeIdentityStoreUnavailable: http.StatusServiceUnavailable,
	shared.CodeInvalidCredentials:       http.StatusUnauthorized,
	shared.CodeGatewayUnconfigured:      http.StatusServiceUnavailable,
	shared.CodeGatewayRejected:          http.StatusBadGateway,
	shared.CodeBillingProvisionFailed:   http.StatusBadGateway,
	// The signup outcome is indeterminate and will be finished out of band
	shared.CodeReconciliationRequired:  http.StatusAccepted,
	shared.CodeUnauthenticated:         http.StatusUnauthorized,
	shared.CodeSubscriptionInactive:    http.StatusPaymentRequired,
	shared.CodeQuotaExceeded:           http.StatusTooManyRequests,
	shared.CodeWebhookSignatureInvalid: http.StatusBadRequest,
	shared.CodeNotFound:                http.StatusNotFound,
	shared.CodeAlreadyExists:           http.StatusConflict,
	shared.CodeInvalidState:            http.StatusUnprocessableEntity,
	shared.CodeInternal:                http.StatusInternalServerError,

	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodePayloadTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeRouteNotFound:   http.StatusNotFound,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
