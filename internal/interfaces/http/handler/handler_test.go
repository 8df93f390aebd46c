package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	appidentity "github.com/meterly/backend/internal/application/identity"
	"github.com/meterly/backend/internal/application/metering"
	"github.com/meterly/backend/internal/application/subscription"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/identity"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// envelope mirrors dto.Response with raw data for per-test decoding
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Details   map[string]any `json:"details"`
		RequestID string         `json:"request_id"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

// withSession stands in for middleware.RequireSession
func withSession(id uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.SessionKey, &identity.Session{Token: "tok", IdentityID: id, Email: "owner@example.com"})
		c.Set("subscriber_id", id.String())
		c.Next()
	}
}

func serve(router *gin.Engine, method, path string, body *bytes.Reader, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type MockSignupper struct{ mock.Mock }

func (m *MockSignupper) Signup(ctx context.Context, req subscription.SignupRequest) (*subscription.SignupResult, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*subscription.SignupResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockGate struct{ mock.Mock }

func (m *MockGate) Perform(ctx context.Context, token string, req metering.MeteredActionRequest) (*metering.Outcome, error) {
	args := m.Called(ctx, token, req)
	if v := args.Get(0); v != nil {
		return v.(*metering.Outcome), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockAccounts struct{ mock.Mock }

func (m *MockAccounts) PortalLink(ctx context.Context, id uuid.UUID) (*subscription.PortalLink, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*subscription.PortalLink), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccounts) Overview(ctx context.Context, id uuid.UUID) (*subscription.BillingOverview, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*subscription.BillingOverview), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccounts) ChangePlan(ctx context.Context, id uuid.UUID, req subscription.ChangePlanRequest) (*subscriber.Subscriber, error) {
	args := m.Called(ctx, id, req)
	if v := args.Get(0); v != nil {
		return v.(*subscriber.Subscriber), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccounts) Cancel(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*billing.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockWebhooks struct{ mock.Mock }

func (m *MockWebhooks) HandleWebhook(ctx context.Context, payload []byte, signature string) (*subscription.WebhookResult, error) {
	args := m.Called(ctx, payload, signature)
	if v := args.Get(0); v != nil {
		return v.(*subscription.WebhookResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockAuth struct{ mock.Mock }

func (m *MockAuth) Login(ctx context.Context, input appidentity.LoginInput) (*appidentity.LoginResult, error) {
	args := m.Called(ctx, input)
	if v := args.Get(0); v != nil {
		return v.(*appidentity.LoginResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuth) Logout(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockAuth) CurrentSubscriber(ctx context.Context, session *identity.Session) (*appidentity.CurrentSubscriberResult, error) {
	args := m.Called(ctx, session)
	if v := args.Get(0); v != nil {
		return v.(*appidentity.CurrentSubscriberResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockUsage struct{ mock.Mock }

func (m *MockUsage) Summary(ctx context.Context, id uuid.UUID, months int) (*metering.UsageSummary, error) {
	args := m.Called(ctx, id, months)
	if v := args.Get(0); v != nil {
		return v.(*metering.UsageSummary), args.Error(1)
	}
	return nil, args.Error(1)
}
