package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/coach-realtime/internal/handler"
	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/service/audit"
	"github.com/jwalitptl/coach-realtime/internal/service/identity"
)

const ContextIdentity = "identity"

type Authenticator interface {
	Resolve(ctx context.Context, cred identity.Credential) (identity.Identity, error)
}

type AuthMiddleware struct {
	authn   Authenticator
	auditor audit.Recorder
}

func NewAuthMiddleware(authn Authenticator, auditor audit.Recorder) *AuthMiddleware {
	return &AuthMiddleware{authn: authn, auditor: auditor}
}

// Authenticate resolves the bearer token through the identity store and puts
// the resulting identity in the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := identity.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			return
		}

		id, err := m.authn.Resolve(c.Request.Context(), identity.Credential{Token: token})
		if err != nil {
			m.auditor.Log(c.Request.Context(), model.AuditLoginFailure, RequestActor(c),
				map[string]interface{}{"reason": string(identity.ReasonOf(err)), "path": c.Request.URL.Path},
				audit.WithOutcome(model.OutcomeFailure),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("unauthorized"))
			return
		}

		c.Set(ContextIdentity, id)
		c.Next()
	}
}

// RequireRole only lets callers with one of roles through. It must run after
// Authenticate.
func (m *AuthMiddleware) RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("unauthorized"))
			return
		}
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}

		m.auditor.Log(c.Request.Context(), model.AuditAccessDenied, RequestActor(c),
			map[string]interface{}{"role": string(id.Role), "path": c.Request.URL.Path},
			audit.WithOutcome(model.OutcomeFailure),
		)
		c.AbortWithStatusJSON(http.StatusForbidden, handler.NewErrorResponse("permission denied"))
	}
}

func IdentityFrom(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return identity.Identity{}, false
	}
	id, ok := v.(identity.Identity)
	return id, ok
}

// RequestActor describes the caller of an HTTP request for audit records.
func RequestActor(c *gin.Context) model.Actor {
	actor := model.Actor{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: c.GetString(ContextRequestID),
	}
	if id, ok := IdentityFrom(c); ok {
		actor.UserID = &id.UserID
		actor.SessionID = id.SessionID
	}
	return actor
}
