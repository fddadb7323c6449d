package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/crawlkit/config"
	"github.com/use-agent/crawlkit/models"
)

// Auth returns API-key authentication middleware for the control plane.
//
// Supports two header styles:
//
//	X-API-Key: <key>
//	Authorization: Bearer <key>
//
// If cfg.Enabled is false or cfg.APIKeys is empty, the middleware is a
// no-op (open access), so router.go installs it unconditionally.
func Auth(cfg config.AuthConfig) gin.HandlerFunc {
	if !cfg.Enabled || len(cfg.APIKeys) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	keys := make([][]byte, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			slog.Warn("middleware: auth rejected request with no API key", "remoteIP", c.ClientIP(), "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": models.ErrorDetail{
					Kind:    "UNAUTHORIZED",
					Message: "missing API key: provide X-API-Key header or Authorization: Bearer <key>",
				},
			})
			return
		}

		if !keyIsValid(keys, key) {
			slog.Warn("middleware: auth rejected request with invalid API key", "remoteIP", c.ClientIP(), "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": models.ErrorDetail{
					Kind:    "UNAUTHORIZED",
					Message: "invalid API key",
				},
			})
			return
		}

		c.Set("api_key", key)
		c.Next()
	}
}

// keyIsValid compares key against every configured key in constant time,
// so a caller can't distinguish "close" guesses from wrong ones by timing.
func keyIsValid(keys [][]byte, key string) bool {
	candidate := []byte(key)
	for _, k := range keys {
		if len(k) == len(candidate) && subtle.ConstantTimeCompare(k, candidate) == 1 {
			return true
		}
	}
	return false
}

// extractAPIKey tries X-API-Key first, then Authorization: Bearer.
func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
