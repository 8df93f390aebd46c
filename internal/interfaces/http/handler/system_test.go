package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSystemHandler_Health(t *testing.T) {
	healthy := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	t.Run("all dependencies up", func(t *testing.T) {
		router := gin.New()
		router.GET("/health", NewSystemHandler("1.0.0", map[string]Pinger{"database": healthy}).Health)

		w := serve(router, http.MethodGet, "/health", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		env := decode(t, w)
		assert.True(t, env.Success)
		assert.Contains(t, string(env.Data), `"database":"ok"`)
	})

	t.Run("degraded dependency", func(t *testing.T) {
		router := gin.New()
		router.GET("/health", NewSystemHandler("1.0.0", map[string]Pinger{"database": healthy, "redis": down}).Health)

		w := serve(router, http.MethodGet, "/health", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		env := decode(t, w)
		assert.False(t, env.Success)
		assert.Contains(t, string(env.Data), `"redis":"unavailable"`)
		assert.Contains(t, string(env.Data), `"status":"degraded"`)
	})
}
