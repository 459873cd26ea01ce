package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminMiddleware guards endpoints that mutate forecast state (actuals, cache resets)
type AdminMiddleware struct {
	apiKey string
	logger *logrus.Logger
}

// NewAdminMiddleware creates the guard. An empty key leaves the guarded routes open,
// which is only accepted outside production.
func NewAdminMiddleware(apiKey string, logger *logrus.Logger) *AdminMiddleware {
	if logger == nil {
		logger = logrus.New()
	}
	if apiKey == "" {
		logger.Warn("ADMIN_API_KEY not set, admin endpoints are unauthenticated")
	}
	return &AdminMiddleware{apiKey: apiKey, logger: logger}
}

// RequireAdminAuth accepts the key as a Bearer token or in the X-API-Key header
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.apiKey == "" {
			c.Next()
			return
		}

		if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok && am.ValidateAdminKey(token) {
			c.Next()
			return
		}
		if am.ValidateAdminKey(c.GetHeader("X-API-Key")) {
			c.Next()
			return
		}

		am.logger.WithFields(logrus.Fields{
			"path":      c.Request.URL.Path,
			"client_ip": c.ClientIP(),
		}).Warn("Rejected admin request")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Valid admin API key required for this endpoint",
		})
	}
}

// ValidateAdminKey compares in constant time
func (am *AdminMiddleware) ValidateAdminKey(key string) bool {
	if key == "" || am.apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(am.apiKey)) == 1
}
