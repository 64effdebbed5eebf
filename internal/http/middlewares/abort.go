package middlewares

import "github.com/gin-gonic/gin"

func requestID(c *gin.Context) string {
	if v := c.GetString(CtxRequestID); v != "" {
		return v
	}
	return c.GetHeader(requestIDHeader)
}

// abort writes the standard error envelope and stops the chain.
func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":      code,
			"message":   message,
			"requestId": requestID(c),
		},
	})
}
