package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// maxRawUserAgent bounds what is stored from a client-supplied header
const maxRawUserAgent = 256

// DeviceInfo describes the device that presented a request, typically a ticket scanner
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop, unknown
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	BrowserVer string `json:"browser_ver,omitempty"`
	Platform   string `json:"platform"` // android, ios, windows, mac, linux, chromeos, unknown
	IsBot      bool   `json:"is_bot"`
	Raw        string `json:"raw"`
}

// ParseUserAgent extracts device information from a User-Agent header
func ParseUserAgent(userAgent string) DeviceInfo {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" || userAgent == "Unknown" {
		return DeviceInfo{
			DeviceType: "unknown",
			OS:         "Unknown",
			Browser:    "Unknown",
			Platform:   "unknown",
		}
	}

	parser := ua.New(userAgent)
	browser, version := parser.Browser()
	if browser == "" {
		browser = "Unknown"
	}

	raw := userAgent
	if len(raw) > maxRawUserAgent {
		raw = raw[:maxRawUserAgent]
	}

	return DeviceInfo{
		DeviceType: deviceType(parser),
		OS:         osName(parser),
		Browser:    browser,
		BrowserVer: version,
		Platform:   platform(parser),
		IsBot:      parser.Bot(),
		Raw:        raw,
	}
}

func deviceType(parser *ua.UserAgent) string {
	lower := strings.ToLower(parser.UA())
	for _, hint := range []string{"ipad", "tablet", "kindle", "sm-t", "nexus 7", "nexus 9", "nexus 10"} {
		if strings.Contains(lower, hint) {
			return "tablet"
		}
	}
	if parser.Mobile() {
		return "mobile"
	}
	return "desktop"
}

func osName(parser *ua.UserAgent) string {
	info := parser.OSInfo()
	if info.Name == "" {
		return "Unknown"
	}
	if info.Version != "" {
		return info.Name + " " + info.Version
	}
	return info.Name
}

// platformHints is ordered so the more specific names win
var platformHints = []struct{ hint, platform string }{
	{"android", "android"},
	{"iphone os", "ios"},
	{"ios", "ios"},
	{"chrome os", "chromeos"},
	{"mac os x", "mac"},
	{"macos", "mac"},
	{"windows", "windows"},
	{"ubuntu", "linux"},
	{"linux", "linux"},
}

func platform(parser *ua.UserAgent) string {
	name := strings.ToLower(parser.OSInfo().Name)
	for _, p := range platformHints {
		if strings.Contains(name, p.hint) {
			return p.platform
		}
	}
	return "unknown"
}
