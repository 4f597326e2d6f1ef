package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	ua "github.com/mssola/user_agent"

	"github.com/tourlink/booking-backend/internal/models"
)

// GetRealIP extracts the client IP address from the request.
// X-Real-IP wins over the first public address in X-Forwarded-For;
// gin's ClientIP is the fallback.
func GetRealIP(c *gin.Context) string {
	if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); realIP != "" {
		if ip := net.ParseIP(realIP); ip != nil && !ip.IsPrivate() {
			return realIP
		}
	}

	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		var first string
		for _, part := range strings.Split(forwarded, ",") {
			candidate := strings.TrimSpace(part)
			ip := net.ParseIP(candidate)
			if ip == nil {
				continue
			}
			if first == "" {
				first = candidate
			}
			if !ip.IsPrivate() && !ip.IsLoopback() {
				return candidate
			}
		}
		if first != "" {
			return first
		}
	}

	return c.ClientIP()
}

// DeviceInfo holds parsed information from a User-Agent string
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	BrowserVer string `json:"browser_ver"`
	IsBot      bool   `json:"is_bot"`
}

// ParseUserAgent parses a User-Agent string
func ParseUserAgent(userAgent string) DeviceInfo {
	if userAgent == "" {
		return DeviceInfo{DeviceType: "unknown", OS: "Unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)
	info := DeviceInfo{
		DeviceType: "desktop",
		OS:         "Unknown",
		Browser:    "Unknown",
		IsBot:      parser.Bot(),
	}

	if osInfo := parser.OSInfo(); osInfo.Name != "" {
		info.OS = strings.TrimSpace(osInfo.Name + " " + osInfo.Version)
	}
	if name, version := parser.Browser(); name != "" {
		info.Browser = name
		info.BrowserVer = version
	}
	if parser.Mobile() {
		info.DeviceType = "mobile"
		if isTablet(userAgent) {
			info.DeviceType = "tablet"
		}
	}
	return info
}

func isTablet(userAgent string) bool {
	lower := strings.ToLower(userAgent)
	for _, indicator := range []string{"ipad", "tablet", "kindle", "sm-t", "nexus 7", "nexus 9", "nexus 10"} {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// BuildRequestMeta collects what payment transactions record about the caller
func BuildRequestMeta(c *gin.Context) models.RequestMeta {
	device := ParseUserAgent(c.Request.UserAgent())
	return models.RequestMeta{
		IPAddress: GetRealIP(c),
		RequestID: c.GetString("request_id"),
		Device: map[string]interface{}{
			"device_type": device.DeviceType,
			"os":          device.OS,
			"browser":     device.Browser,
			"browser_ver": device.BrowserVer,
			"is_bot":      device.IsBot,
		},
	}
}
