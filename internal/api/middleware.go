package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"ravenmail/internal/models"
)

const identityKey = "identity"

// requireSession admits requests carrying a live session cookie
func requireSession(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := auth.ResolveRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func identityFrom(c *gin.Context) *models.Identity {
	return c.MustGet(identityKey).(*models.Identity)
}

// requireToken admits requests carrying the shared bearer token
func requireToken(token string) gin.HandlerFunc {
	expected := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
