package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(headers map[string]string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest("POST", "/api/v1/bookings/create-with-payment", nil)
	req.RemoteAddr = "10.0.0.5:4431"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c.Request = req
	return c
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"x-real-ip", map[string]string{"X-Real-IP": "203.0.113.7"}, "203.0.113.7"},
		{"first public forwarded", map[string]string{"X-Forwarded-For": "10.1.1.1, 198.51.100.4, 203.0.113.9"}, "198.51.100.4"},
		{"all private forwarded", map[string]string{"X-Forwarded-For": "10.1.1.1, 192.168.0.2"}, "10.1.1.1"},
		{"fallback", nil, "10.0.0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetRealIP(newContext(tt.headers)))
		})
	}
}

func TestParseUserAgent(t *testing.T) {
	iphone := ParseUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
	assert.Equal(t, "mobile", iphone.DeviceType)
	assert.Equal(t, "Safari", iphone.Browser)
	assert.False(t, iphone.IsBot)

	ipad := ParseUserAgent("Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
	assert.Equal(t, "tablet", ipad.DeviceType)

	desktop := ParseUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	assert.Equal(t, "desktop", desktop.DeviceType)
	assert.Equal(t, "Chrome", desktop.Browser)

	bot := ParseUserAgent("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	assert.True(t, bot.IsBot)

	empty := ParseUserAgent("")
	assert.Equal(t, "unknown", empty.DeviceType)
}

func TestBuildRequestMeta(t *testing.T) {
	c := newContext(map[string]string{"X-Real-IP": "203.0.113.7", "User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/126.0.0.0"})
	c.Set("request_id", "req-42")

	meta := BuildRequestMeta(c)
	assert.Equal(t, "203.0.113.7", meta.IPAddress)
	assert.Equal(t, "req-42", meta.RequestID)
	require.NotNil(t, meta.Device)
	assert.Equal(t, "desktop", meta.Device["device_type"])
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret(32)
	require.NoError(t, err)
	b, err := GenerateSecret(32)
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
