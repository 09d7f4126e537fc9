package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ember-chat/internal/identity"
)

const identityContextKey = "identity"

// Identity resolves the caller's identity and stores it in the gin context.
// Anonymous callers pass through; only an invalid token is rejected.
func Identity(resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolver.Resolve(c.Request.Context(), c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityContextKey, id)
		c.Next()
	}
}

// IdentityFromContext fetches the resolved identity, if any.
func IdentityFromContext(c *gin.Context) (identity.Identity, bool) {
	val, ok := c.Get(identityContextKey)
	if !ok {
		return identity.Identity{}, false
	}
	id, ok := val.(identity.Identity)
	return id, ok
}
