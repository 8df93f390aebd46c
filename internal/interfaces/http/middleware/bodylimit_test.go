package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterly/backend/internal/interfaces/http/dto"
)

func bodyLimitEngine(limit int64) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), BodyLimit(limit))
	r.POST("/api/v1/signup", func(c *gin.Context) {
		b, err := io.ReadAll(c.Request.Body)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, "cut at %d", tooLarge.Limit)
			return
		}
		c.String(http.StatusOK, "%d", len(b))
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestBodyLimit(t *testing.T) {
	signup := `{"email":"ada@example.com","password":"correct-horse","plan":"monthly"}`

	tests := []struct {
		name          string
		limit         int64
		body          string
		contentLength int64
		wantStatus    int
		wantBody      string
	}{
		{"within limit", 1024, signup, int64(len(signup)), http.StatusOK, "71"},
		{"exactly at limit", int64(len(signup)), signup, int64(len(signup)), http.StatusOK, "71"},
		{"declared length over limit", 16, signup, int64(len(signup)), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
		{"streamed body cut by reader", 16, signup, -1, http.StatusRequestEntityTooLarge, "cut at 16"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/signup", strings.NewReader(tt.body))
			req.ContentLength = tt.contentLength
			w := httptest.NewRecorder()
			bodyLimitEngine(tt.limit).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestBodyLimit_RejectionEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/signup", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set(RequestIDHeader, "req-body-limit")
	w := httptest.NewRecorder()
	bodyLimitEngine(32).ServeHTTP(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.False(t, resp.Success)
	assert.Equal(t, dto.ErrCodePayloadTooLarge, resp.Error.Code)
	assert.Equal(t, "req-body-limit", resp.Error.RequestID)
	assert.EqualValues(t, 32, resp.Error.Details["max_bytes"])
}

func TestBodyLimit_BodylessRequest(t *testing.T) {
	w := httptest.NewRecorder()
	bodyLimitEngine(1).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
