package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const headerName = "X-API-Key"

// HashCost is the bcrypt cost used for new reporting API keys.
const HashCost = 10

// Keys holds the accepted reporting API keys: one plain key and any number
// of bcrypt hashes.
type Keys struct {
	Plain  string
	Hashes []string
}

func (k Keys) enabled() bool {
	return k.Plain != "" || len(k.Hashes) > 0
}

// Valid reports whether provided matches one of the keys.
func (k Keys) Valid(provided string) bool {
	if k.Plain != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(k.Plain)) == 1 {
		return true
	}
	for _, h := range k.Hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(provided)) == nil {
			return true
		}
	}
	return false
}

// HashKey returns the bcrypt hash to put in server.api_key_hashes.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), HashCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// providedKey reads the key from X-API-Key or an "Authorization: Bearer" header.
func providedKey(c *gin.Context) string {
	if v := c.GetHeader(headerName); v != "" {
		return v
	}
	if v, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// APIKeyMiddleware validates the API key of each request.
// If no keys are configured, authentication is disabled.
func APIKeyMiddleware(keys Keys) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !keys.enabled() {
			c.Next()
			return
		}

		provided := providedKey(c)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		if !keys.Valid(provided) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}

		c.Next()
	}
}
