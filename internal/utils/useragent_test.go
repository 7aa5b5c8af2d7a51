package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name       string
		userAgent  string
		deviceType string
		platform   string
	}{
		{
			name:       "Android phone",
			userAgent:  "Mozilla/5.0 (Linux; Android 12; Pixel 6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Mobile Safari/537.36",
			deviceType: "mobile",
			platform:   "android",
		},
		{
			name:       "iPad",
			userAgent:  "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
			deviceType: "tablet",
		},
		{
			name:       "Windows desktop",
			userAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36",
			deviceType: "desktop",
			platform:   "windows",
		},
		{
			name:       "Empty",
			userAgent:  "",
			deviceType: "unknown",
			platform:   "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseUserAgent(tt.userAgent)
			assert.Equal(t, tt.deviceType, info.DeviceType)
			if tt.platform != "" {
				assert.Equal(t, tt.platform, info.Platform)
			}
		})
	}
}

func TestParseUserAgent_TruncatesRaw(t *testing.T) {
	long := "Mozilla/5.0 " + strings.Repeat("x", 1000)
	info := ParseUserAgent(long)
	assert.Len(t, info.Raw, maxRawUserAgent)
}
