package utils

import (
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetRealIP returns the caller's address for logs and rate limiting.
// A public X-Real-IP wins, then the first public hop in X-Forwarded-For,
// then gin's ClientIP.
func GetRealIP(c *gin.Context) string {
	if addr, ok := publicAddr(c.GetHeader("X-Real-IP")); ok {
		return addr
	}

	for _, hop := range strings.Split(c.GetHeader("X-Forwarded-For"), ",") {
		if addr, ok := publicAddr(hop); ok {
			return addr
		}
	}

	return c.ClientIP()
}

// publicAddr parses s and reports whether it is a routable address
func publicAddr(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	addr = addr.Unmap()
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
		return "", false
	}
	return addr.String(), true
}
