package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/meterly/backend/internal/domain/identity"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/interfaces/http/dto"
)

// SessionKey holds the *identity.Session in the gin context
const SessionKey = "session"

// SessionVerifier resolves a bearer token to a session
type SessionVerifier interface {
	GetSession(ctx context.Context, token string) (*identity.Session, error)
}

// BearerToken returns the token from an "Authorization: Bearer" header
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireSession aborts with 401 unless the request carries a live session
func RequireSession(sessions SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := sessions.GetSession(c.Request.Context(), BearerToken(c))
		if err != nil {
			abortWithDomainError(c, err)
			return
		}

		subscriberID := session.IdentityID.String()
		c.Set(SessionKey, session)
		c.Set(logger.GinSubscriberIDKey, subscriberID)
		c.Request = c.Request.WithContext(logger.WithSubscriberID(c.Request.Context(), subscriberID))
		c.Next()
	}
}

// GetSession returns the session set by RequireSession
func GetSession(c *gin.Context) (*identity.Session, bool) {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*identity.Session)
	return session, ok && session != nil
}

func abortWithDomainError(c *gin.Context, err error) {
	var domainErr *shared.DomainError
	if !errors.As(err, &domainErr) {
		domainErr = shared.ErrUnauthenticated
	}
	status := dto.GetHTTPStatus(domainErr.Code)
	if status == http.StatusInternalServerError {
		status = http.StatusUnauthorized
		domainErr = shared.ErrUnauthenticated
	}
	c.AbortWithStatusJSON(status, dto.NewErrorResponseWithRequestID(
		domainErr.Code, domainErr.Message, GetRequestID(c), domainErr.Details,
	))
}
