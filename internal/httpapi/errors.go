package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/95percent-ai/butt-dial-sub003/internal/auth"
	"github.com/95percent-ai/butt-dial-sub003/internal/directory"
	"github.com/95percent-ai/butt-dial-sub003/internal/gwerr"
	"github.com/95percent-ai/butt-dial-sub003/internal/quota"
)

// writeError maps service errors to API responses. Validation problems
// come back as descriptive 400 bodies; limit violations carry their
// dimension and reset hint verbatim.
func writeError(c *gin.Context, err error) {
	var verr *gwerr.ValidationError
	if errors.As(err, &verr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		return
	}

	var lerr *quota.LimitError
	if errors.As(err, &lerr) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":     lerr.Error(),
			"dimension": lerr.Dimension,
			"current":   lerr.Current,
			"limit":     lerr.Limit,
			"resetHint": lerr.ResetHint,
		})
		return
	}

	var derr *gwerr.DeliveryError
	if errors.As(err, &derr) {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": derr.Error()})
		return
	}

	switch {
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, gwerr.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, auth.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, directory.ErrInvalidArgument), errors.Is(err, quota.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// scopeOr401 fetches the resolved scope or rejects the request.
func scopeOr401(c *gin.Context) (auth.Scope, bool) {
	scope, err := auth.ScopeFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return auth.Scope{}, false
	}
	return scope, true
}
