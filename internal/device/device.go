// Package device abstracts the host environment's device context behind a
// small capability interface so session tracking has no direct environment
// dependency.
package device

import (
	"github.com/okline/readpulse/internal/session"
)

// Screen-width cutoffs for device-type classification, in pixels.
const (
	tabletMinWidth  = 768
	desktopMinWidth = 1024
)

// Detector supplies the device context captured once at session start.
type Detector interface {
	Detect() session.DeviceInfo
}

// TypeForWidth classifies a screen width as mobile, tablet or desktop.
func TypeForWidth(width int) string {
	switch {
	case width < tabletMinWidth:
		return "mobile"
	case width < desktopMinWidth:
		return "tablet"
	default:
		return "desktop"
	}
}

// StaticDetector reports fixed device characteristics supplied by the host.
// The device type is derived from the screen width.
type StaticDetector struct {
	UserAgent      string
	ScreenWidth    int
	ScreenHeight   int
	ConnectionType string
}

// Detect builds the device info record. Missing user-agent and connection
// values degrade to "unknown".
func (d StaticDetector) Detect() session.DeviceInfo {
	userAgent := d.UserAgent
	if userAgent == "" {
		userAgent = "unknown"
	}
	connection := d.ConnectionType
	if connection == "" {
		connection = "unknown"
	}
	// A zero width means the host could not measure the screen; assume
	// desktop rather than classifying as the smallest device.
	deviceType := "desktop"
	if d.ScreenWidth > 0 {
		deviceType = TypeForWidth(d.ScreenWidth)
	}
	return session.DeviceInfo{
		Type:      deviceType,
		UserAgent: userAgent,
		ScreenSize: session.ScreenSize{
			Width:  d.ScreenWidth,
			Height: d.ScreenHeight,
		},
		ConnectionType: connection,
	}
}
