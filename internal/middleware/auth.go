package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/service/authz"
	"github.com/jwalitptl/clinic-onboarding/pkg/auth"
	apperrors "github.com/jwalitptl/clinic-onboarding/pkg/errors"
	"github.com/jwalitptl/clinic-onboarding/pkg/httputil"
)

const (
	ContextActor     = "actor"
	ContextPrincipal = "principal"
)

type AuthMiddleware struct {
	tokens   auth.JWTService
	resolver *authz.Resolver
}

func NewAuthMiddleware(tokens auth.JWTService, resolver *authz.Resolver) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:   tokens,
		resolver: resolver,
	}
}

// Authenticate verifies the bearer token and stores the principal and its
// resolved actor in the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.Abort(c, http.StatusUnauthorized, "unauthenticated", "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			httputil.Abort(c, http.StatusUnauthorized, "unauthenticated", "invalid authorization format")
			return
		}

		principal, err := m.tokens.ValidateToken(token)
		if err != nil {
			httputil.Abort(c, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}

		actor, err := m.resolver.Resolve(c.Request.Context(), principal)
		if err != nil {
			httputil.RespondWithError(c, apperrors.Internal(err))
			return
		}

		l := zerolog.Ctx(c.Request.Context()).With().Str("user_id", principal.UserID.String()).Logger()
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		c.Set(ContextPrincipal, principal)
		c.Set(ContextActor, actor)
		c.Next()
	}
}

// ActorFrom returns the actor stored by Authenticate.
func ActorFrom(c *gin.Context) (*model.Actor, bool) {
	v, ok := c.Get(ContextActor)
	if !ok {
		return nil, false
	}
	actor, ok := v.(*model.Actor)
	return actor, ok
}

func PrincipalFrom(c *gin.Context) (*auth.Principal, bool) {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return nil, false
	}
	p, ok := v.(*auth.Principal)
	return p, ok
}
