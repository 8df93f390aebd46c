package shared

// DomainError represents a domain-level error with a stable machine-readable code.
// Two DomainErrors match under errors.Is when their codes are equal, so a sentinel
// refined with WithMessage or WithDetails still matches the sentinel.
type DomainError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any
func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a DomainError with the same code
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithMessage returns a copy of the error with a different message
func (e *DomainError) WithMessage(message string) *DomainError {
	c := *e
	c.Message = message
	return &c
}

// WithCause returns a copy of the error wrapping cause
func (e *DomainError) WithCause(cause error) *DomainError {
	c := *e
	c.cause = cause
	return &c
}

// WithDetails returns a copy of the error carrying machine-readable details
func (e *DomainError) WithDetails(details map[string]any) *DomainError {
	c := *e
	c.Details = details
	return &c
}

// WithDetail returns a copy of the error with key added to its details
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	c := *e
	c.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details[key] = value
	return &c
}

// Error codes
const (
	CodeValidation               = "VALIDATION_ERROR"
	CodeDuplicateSubscriber      = "DUPLICATE_SUBSCRIBER"
	CodeIdentityAlreadyExists    = "IDENTITY_ALREADY_EXISTS"
	CodeIdentityStoreUnavailable = "IDENTITY_STORE_UNAVAILABLE"
	CodeInvalidCredentials       = "INVALID_CREDENTIALS"
	CodeGatewayUnconfigured      = "GATEWAY_UNCONFIGURED"
	CodeGatewayRejected          = "GATEWAY_REJECTED"
	CodeBillingProvisionFailed   = "BILLING_PROVISION_FAILED"
	CodeReconciliationRequired   = "RECONCILIATION_REQUIRED"
	CodeUnauthenticated          = "UNAUTHENTICATED"
	CodeSubscriptionInactive     = "SUBSCRIPTION_INACTIVE"
	CodeQuotaExceeded            = "QUOTA_EXCEEDED"
	CodeWebhookSignatureInvalid  = "WEBHOOK_SIGNATURE_INVALID"
	CodeNotFound                 = "NOT_FOUND"
	CodeAlreadyExists            = "ALREADY_EXISTS"
	CodeInvalidState             = "INVALID_STATE"
	CodeInternal                 = "INTERNAL_ERROR"
)

// Common domain errors
var (
	ErrValidation               = NewDomainError(CodeValidation, "Request validation failed")
	ErrDuplicateSubscriber      = NewDomainError(CodeDuplicateSubscriber, "A subscriber with this email already exists")
	ErrIdentityAlreadyExists    = NewDomainError(CodeIdentityAlreadyExists, "Identity already registered")
	ErrIdentityStoreUnavailable = NewDomainError(CodeIdentityStoreUnavailable, "Identity store is unavailable")
	ErrInvalidCredentials       = NewDomainError(CodeInvalidCredentials, "Invalid email or password")
	ErrGatewayUnconfigured      = NewDomainError(CodeGatewayUnconfigured, "Payment processor is not configured")
	ErrGatewayRejected          = NewDomainError(CodeGatewayRejected, "Payment processor rejected the request")
	ErrBillingProvisionFailed   = NewDomainError(CodeBillingProvisionFailed, "Billing could not be set up, please try again")
	ErrReconciliationRequired   = NewDomainError(CodeReconciliationRequired, "Signup is being finalised, we will follow up shortly")
	ErrUnauthenticated          = NewDomainError(CodeUnauthenticated, "Authentication required")
	ErrSubscriptionInactive     = NewDomainError(CodeSubscriptionInactive, "Subscription is not active")
	ErrQuotaExceeded            = NewDomainError(CodeQuotaExceeded, "Monthly usage quota exceeded")
	ErrWebhookSignatureInvalid  = NewDomainError(CodeWebhookSignatureInvalid, "Webhook signature verification failed")
	ErrNotFound                 = NewDomainError(CodeNotFound, "Resource not found")
	ErrAlreadyExists            = NewDomainError(CodeAlreadyExists, "Resource already exists")
	ErrInvalidState             = NewDomainError(CodeInvalidState, "Operation not allowed in current state")
	ErrInternal                 = NewDomainError(CodeInternal, "An internal error occurred")
)

// FieldError describes a single invalid request field
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// NewValidationError builds a ValidationError carrying per-field details
func NewValidationError(fields []FieldError) *DomainError {
	return ErrValidation.WithDetails(map[string]any{"fields": fields})
}
