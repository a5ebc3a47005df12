package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wisebound/sentinel/pkg/models"
)

// contextKey is the gin context key AuthorizationContext is stored under.
const contextKey = "sentinel.auth.context"

// Middleware returns gin middleware that resolves the bearer token via r
// and stores the resulting AuthorizationContext on the request context.
// It does not itself enforce any scope; pair it with RequireScope per
// route (spec.md §6.4).
func Middleware(r *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		authzCtx, err := r.Resolve(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "forbidden"})
			return
		}
		c.Set(contextKey, authzCtx)
		c.Next()
	}
}

// RequireScope aborts the request with 403 unless the resolved
// AuthorizationContext grants scope (spec.md §6.4, §7: "reject request;
// audit; do not reveal reason beyond 'forbidden'").
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authzCtx, ok := FromContext(c)
		if !ok || !authzCtx.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// FromContext retrieves the AuthorizationContext set by Middleware.
func FromContext(c *gin.Context) (models.AuthorizationContext, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return models.AuthorizationContext{}, false
	}
	authzCtx, ok := v.(models.AuthorizationContext)
	return authzCtx, ok
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
