// README: Bearer-token auth middleware exposing the caller's UID and role.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ridedispatch/internal/infra"
)

const (
	ctxUID  = "auth.uid"
	ctxRole = "auth.role"
)

const (
	RoleRider    = "rider"
	RoleDriver   = "driver"
	RoleOperator = "operator"
)

// Auth verifies the bearer token with verifier. Tokens without a role claim
// belong to riders. Websocket upgrades may pass the token as access_token
// since browsers cannot set headers on them.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		role := RoleRider
		if v, ok := token.Claims["role"].(string); ok && v != "" {
			role = v
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if websocket.IsWebSocketUpgrade(c.Request) {
			if q := c.Query("access_token"); q != "" {
				return q, true
			}
		}
		return "", false
	}
	raw, found := strings.CutPrefix(header, "Bearer ")
	raw = strings.TrimSpace(raw)
	if !found || raw == "" {
		return "", false
	}
	return raw, true
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}
