package billing

import (
	"fmt"
	"strings"
)

// StripeConfig holds configuration for the Stripe gateway
type StripeConfig struct {
	// SecretKey is the Stripe secret API key (sk_test_xxx or sk_live_xxx).
	// An empty key leaves the gateway unconfigured.
	SecretKey string `json:"-"`

	// IsTestMode indicates if using Stripe test mode
	IsTestMode bool `json:"is_test_mode"`

	// APIURL overrides the API endpoint, e.g. stripe-mock in local runs
	APIURL string `json:"api_url"`

	// MaxNetworkRetries is passed through to the Stripe backend.
	// Mutating calls are not idempotent here, so keep it at zero unless
	// callers send idempotency keys.
	MaxNetworkRetries int64 `json:"max_network_retries"`
}

// Configured reports whether credentials are present
func (c StripeConfig) Configured() bool {
	return c.SecretKey != ""
}

// Validate validates the Stripe configuration
func (c StripeConfig) Validate() error {
	if !c.Configured() {
		return nil
	}
	if c.IsTestMode && !strings.HasPrefix(c.SecretKey, "sk_test") && !strings.HasPrefix(c.SecretKey, "rk_test") {
		return fmt.Errorf("stripe: test mode enabled but secret key is not a test key")
	}
	if !c.IsTestMode && !strings.HasPrefix(c.SecretKey, "sk_live") && !strings.HasPrefix(c.SecretKey, "rk_live") {
		return fmt.Errorf("stripe: live mode enabled but secret key is not a live key")
	}
	if c.MaxNetworkRetries < 0 {
		return fmt.Errorf("stripe: max network retries cannot be negative")
	}
	return nil
}
