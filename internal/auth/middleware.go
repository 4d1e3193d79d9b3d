package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireBearer resolves the Authorization header into a Scope and injects it
// into the request context. Missing header means unauthenticated, never
// operator scope. Locked sources get a 429-style rejection regardless of the
// credential presented.
//
// disabled short-circuits to operator scope and exists only for local
// development; config rejects it in production.
func RequireBearer(r *Resolver, disabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if disabled {
			c.Request = c.Request.WithContext(WithScope(c.Request.Context(), OperatorScope()))
			c.Next()
			return
		}

		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		scope, err := r.Resolve(c.Request.Context(), tok, c.ClientIP())
		if err != nil {
			switch {
			case errors.Is(err, ErrSourceLocked):
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many failed attempts, retry later"})
			case errors.Is(err, ErrRevoked), errors.Is(err, ErrInvalidCredential):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth unavailable"})
			}
			return
		}

		c.Request = c.Request.WithContext(WithScope(c.Request.Context(), scope))
		c.Next()
	}
}

// RequireAdmin rejects agent-tier scopes. Chain after RequireBearer.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, err := ScopeFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "scope required"})
			return
		}
		if !scope.CanAdminister() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin scope required"})
			return
		}
		c.Next()
	}
}
