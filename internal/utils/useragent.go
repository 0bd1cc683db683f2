package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// Device types recorded on payment audits
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// tabletIndicators mark mobile user agents that are really tablets
var tabletIndicators = []string{"ipad", "tablet", "kindle", "playbook", "nexus 7", "nexus 9", "nexus 10", "xoom", "sm-t"}

// DeviceInfo holds parsed information from a User-Agent string
type DeviceInfo struct {
	DeviceType string `json:"device_type"`
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	IsBot      bool   `json:"is_bot"`
}

// ParseUserAgent parses a User-Agent string into device information
func ParseUserAgent(userAgent string) DeviceInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return DeviceInfo{DeviceType: DeviceUnknown, OS: "Unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)
	info := DeviceInfo{
		IsBot:   parser.Bot(),
		OS:      "Unknown",
		Browser: "Unknown",
	}

	if os := parser.OSInfo(); os.Name != "" {
		info.OS = strings.TrimSpace(os.Name + " " + os.Version)
	}
	if name, _ := parser.Browser(); name != "" {
		info.Browser = name
	}

	switch {
	case info.IsBot:
		info.DeviceType = DeviceBot
	case parser.Mobile() && isTablet(userAgent):
		info.DeviceType = DeviceTablet
	case parser.Mobile():
		info.DeviceType = DeviceMobile
	default:
		info.DeviceType = DeviceDesktop
	}
	return info
}

// DeviceType returns only the device class of a User-Agent, or "" when it is empty
func DeviceType(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	return ParseUserAgent(userAgent).DeviceType
}

func isTablet(userAgent string) bool {
	lower := strings.ToLower(userAgent)
	for _, indicator := range tabletIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
