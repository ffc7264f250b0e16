package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

// actor returns the authenticated identity set by AuthRequired. It doubles
// as the lock holder ID, so a caller can never lock or write as anyone else.
func actor(c *gin.Context) string {
	return c.GetString(actorKey)
}

// AuthRequired resolves a bearer token to an actor identity. Requests with
// no identity are rejected before any other check runs.
func AuthRequired(tokens map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.Header("WWW-Authenticate", `Bearer realm="assetgrid"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
			return
		}
		who, ok := tokens[strings.TrimSpace(strings.TrimPrefix(header, prefix))]
		if !ok {
			c.Header("WWW-Authenticate", `Bearer realm="assetgrid", error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unknown token"})
			return
		}
		c.Set(actorKey, who)
		c.Next()
	}
}
