package utils

import (
	"github.com/gin-gonic/gin"
)

// ClientIP returns the caller's address for logs and payment audits.
// Forwarding headers count only when the engine trusts the peer that sent
// them (gin's SetTrustedProxies); otherwise this is the socket address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// UserAgent returns the User-Agent header or "Unknown"
func UserAgent(c *gin.Context) string {
	if ua := c.Request.UserAgent(); ua != "" {
		return ua
	}
	return "Unknown"
}
