package middleware

import (
	"log"
	"net/http"
	"os"

	"lendwise/api/utils"

	"github.com/gin-gonic/gin"
)

// AuthRequired guards the reporting endpoints. It accepts either the shared
// dashboard API key in X-API-KEY or a valid JWT from the login cookie
// (falling back to a bearer Authorization header).
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := os.Getenv("DASHBOARD_API_KEY")
		if apiKey != "" && c.GetHeader("X-API-KEY") == apiKey {
			c.Next()
			return
		}
		tokenString, err := c.Cookie("jwt_token")
		if err != nil {
			tokenString = c.GetHeader("Authorization")
			if tokenString == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
				return
			}
			if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
				tokenString = tokenString[7:]
			}
		}
		claims, err := utils.ValidateJWT(tokenString)
		if err != nil {
			log.Printf("AuthRequired: Invalid JWT token: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Next()
	}
}
