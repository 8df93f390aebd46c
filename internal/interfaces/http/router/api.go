package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
	"github.com/meterly/backend/internal/interfaces/http/dto"
	"github.com/meterly/backend/internal/interfaces/http/handler"
	"github.com/meterly/backend/internal/interfaces/http/middleware"
)

// DefaultMaxBodyBytes limits JSON request bodies on the versioned API
const DefaultMaxBodyBytes = 1 << 20

// APIVersion prefixes every versioned route
const APIVersion = "v1"

// Handlers are the endpoint handlers mounted by New
type Handlers struct {
	Signup   *handler.SignupHandler
	Actions  *handler.MeteredActionHandler
	Billing  *handler.BillingHandler
	Webhooks *handler.WebhookHandler
	Auth     *handler.AuthHandler
	Usage    *handler.UsageHandler
	System   *handler.SystemHandler
}

// Config wires the engine's middleware
type Config struct {
	Logger   *zap.Logger
	Sessions middleware.SessionVerifier
	// AuthLimiter throttles signup and login by client address. Nil disables it.
	AuthLimiter  middleware.Limiter
	CORS         middleware.CORSConfig
	Tracing      middleware.TracingConfig
	Meter        *telemetry.MeterProvider
	MaxBodyBytes int64
}

// New builds the gin engine with the full middleware chain and every route
func New(cfg Config, h Handlers) (*gin.Engine, error) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(cfg.Logger),
		logger.Recovery(cfg.Logger),
		middleware.Tracing(cfg.Tracing),
		middleware.SpanEnricher(),
		middleware.HTTPMetrics(cfg.Meter, cfg.Logger),
		middleware.Secure(),
		middleware.CORSWithConfig(cfg.CORS),
	)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeRouteNotFound, "Route not found", middleware.GetRequestID(c), nil,
		))
	})

	engine.GET("/health", h.System.Health)
	engine.POST("/webhooks/billing", h.Webhooks.Handle)

	guards := Guards{Session: middleware.RequireSession(cfg.Sessions)}
	if cfg.AuthLimiter != nil {
		guards.Throttle = middleware.RateLimit(cfg.AuthLimiter, middleware.ClientIPKey, cfg.Logger)
	}

	// Metered actions authenticate inside the gate, so the route itself is public.
	groups := []*Group{
		(&Group{Prefix: "/signup"}).
			POST("", Throttled, h.Signup.Signup),
		(&Group{Prefix: "/auth"}).
			POST("/login", Throttled, h.Auth.Login).
			POST("/logout", Session, h.Auth.Logout).
			GET("/me", Session, h.Auth.Me),
		(&Group{Prefix: "/metered-actions"}).
			POST("", Public, h.Actions.Perform),
		(&Group{Prefix: "/usage"}).
			GET("", Session, h.Usage.Summary),
		(&Group{Prefix: "/billing"}).
			POST("/portal-link", Session, h.Billing.PortalLink).
			GET("/overview", Session, h.Billing.Overview).
			PUT("/plan", Session, h.Billing.ChangePlan).
			POST("/cancel", Session, h.Billing.Cancel),
	}

	if err := Mount(engine, APIVersion, guards, groups, middleware.BodyLimit(cfg.MaxBodyBytes)); err != nil {
		return nil, err
	}
	return engine, nil
}
