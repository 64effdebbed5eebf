package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	corsMethods        = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}, ",")
	corsAllowHeaders   = strings.Join([]string{"Content-Type", requestIDHeader, "X-Admin-Bootstrap-Token", "If-None-Match"}, ",")
	corsExposedHeaders = strings.Join([]string{requestIDHeader, "ETag", "Retry-After"}, ",")
)

// CORS allows credentialed requests from the configured origins only. Session
// cookies ride along, so a wildcard origin is never echoed.
func CORS(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		ok := origin != "" && allowed[origin]

		if origin != "" {
			c.Header("Vary", "Origin")
		}
		if ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Expose-Headers", corsExposedHeaders)
		}

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}

		if ok {
			c.Header("Access-Control-Allow-Methods", corsMethods)
			c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			c.Header("Access-Control-Max-Age", "600")
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}
