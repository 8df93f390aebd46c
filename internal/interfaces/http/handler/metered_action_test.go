package handler

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/meterly/backend/internal/application/metering"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/usage"
	"github.com/meterly/backend/internal/infrastructure/content"
)

func gateRouter(m *MockGate) *gin.Engine {
	router := gin.New()
	router.POST("/api/v1/metered-actions", NewMeteredActionHandler(m).Perform)
	return router
}

func TestMeteredActionHandler_Allowed(t *testing.T) {
	m := new(MockGate)
	req := metering.MeteredActionRequest{Kind: "social_post", Topic: "spring sale"}
	m.On("Perform", mock.Anything, "tok-1", req).Return(&metering.Outcome{
		Result:        &content.Draft{Kind: content.KindSocialPost, Title: "Spring sale", Body: "...", GeneratedAt: time.Now()},
		Usage:         usage.NewSnapshot(1, 50),
		UsageRecorded: true,
	}, nil)

	w := serve(gateRouter(m), http.MethodPost, "/api/v1/metered-actions",
		jsonBody(t, map[string]any{"kind": "social_post", "topic": "spring sale"}),
		map[string]string{"Authorization": "Bearer tok-1"})

	assert.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.Contains(t, string(env.Data), `"usage":{"current":1,"limit":50,"remaining":49}`)
	assert.Contains(t, string(env.Data), `"usage_recorded":true`)
}

func TestMeteredActionHandler_Denials(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"expired session", shared.ErrUnauthenticated, http.StatusUnauthorized, shared.CodeUnauthenticated},
		{"inactive", usage.NewSubscriptionInactiveError("past_due", 10, 50), http.StatusPaymentRequired, shared.CodeSubscriptionInactive},
		{"quota", usage.NewQuotaExceededError(50, 50), http.StatusTooManyRequests, shared.CodeQuotaExceeded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := new(MockGate)
			m.On("Perform", mock.Anything, "tok-1", mock.Anything).Return(nil, tc.err)

			w := serve(gateRouter(m), http.MethodPost, "/api/v1/metered-actions",
				jsonBody(t, map[string]any{"kind": "email"}), map[string]string{"Authorization": "Bearer tok-1"})
			assert.Equal(t, tc.status, w.Code)
			env := decode(t, w)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}
}

func TestMeteredActionHandler_MissingTokenBeforeBody(t *testing.T) {
	m := new(MockGate)

	w := serve(gateRouter(m), http.MethodPost, "/api/v1/metered-actions", bytes.NewReader([]byte("{not json")), nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, shared.CodeUnauthenticated, env.Error.Code)
	m.AssertNotCalled(t, "Perform", mock.Anything, mock.Anything, mock.Anything)

	w = serve(gateRouter(m), http.MethodPost, "/api/v1/metered-actions", bytes.NewReader([]byte("{not json")),
		map[string]string{"Authorization": "Bearer tok-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
