package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/database"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/identity"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/response"
)

// FirebaseAuthMiddleware verifies "Authorization: Bearer <idToken>" against
// Firebase Auth and resolves the UID into the request context, where the
// identity provider picks it up.
func FirebaseAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.JSON(http.StatusUnauthorized, response.Error("Missing bearer token"))
			c.Abort()
			return
		}
		idToken := strings.TrimPrefix(header, "Bearer ")

		if database.AuthClient == nil {
			c.JSON(http.StatusServiceUnavailable, response.Error("Auth not configured"))
			c.Abort()
			return
		}

		token, err := database.AuthClient.VerifyIDToken(c.Request.Context(), idToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, response.Error("Invalid token"))
			c.Abort()
			return
		}

		// Pass UID in both the gin context and the request context
		c.Set("user_id", token.UID)
		c.Request = c.Request.WithContext(identity.WithUserID(c.Request.Context(), token.UID))
		c.Next()
	}
}

// DevAuthMiddleware resolves the UID from the X-User-ID header. Only wired
// when Firebase is not configured, for local development.
func DevAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, response.Error("Missing X-User-ID header"))
			c.Abort()
			return
		}
		c.Set("user_id", userID)
		c.Request = c.Request.WithContext(identity.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}
