package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DeviceSession identifies one (user, browser/OS fingerprint) pair.
type DeviceSession struct {
	ID           uuid.UUID `json:"id"`
	UserID       int       `json:"user_id"`
	DeviceHash   string    `json:"-"`
	Browser      string    `json:"browser"`
	OS           string    `json:"os"`
	DeviceType   string    `json:"device_type"`
	UserAgent    string    `json:"user_agent"`
	IPAddress    string    `json:"ip_address"`
	FirstSeen    time.Time `json:"first_seen"`
	LastActivity time.Time `json:"last_activity"`
	IsActive     bool      `json:"is_active"`
}

// ShouldTimeout reports whether the device has been idle longer than timeout.
func (d *DeviceSession) ShouldTimeout(now time.Time, timeout time.Duration) bool {
	return now.Sub(d.LastActivity) > timeout
}

// Deactivate soft-deletes the session. The row is kept for audit.
func (d *DeviceSession) Deactivate() {
	d.IsActive = false
}

// Touch marks the device as seen again.
func (d *DeviceSession) Touch(ip string, now time.Time) {
	d.LastActivity = now
	d.IsActive = true
	if ip != "" {
		d.IPAddress = ip
	}
}

// DeviceSignal is the subset of request headers used to fingerprint a device.
// Missing headers weaken discrimination but never fail resolution.
type DeviceSignal struct {
	UserAgent       string `json:"user_agent"`
	AcceptLanguage  string `json:"accept_language"`
	SecCHUA         string `json:"sec_ch_ua"`
	SecCHUAPlatform string `json:"sec_ch_ua_platform"`
	SecCHUAMobile   string `json:"sec_ch_ua_mobile"`
	IPAddress       string `json:"-"`
}

// Hash returns hex(SHA-256(canonical JSON of the signal + secret)).
// encoding/json emits struct fields in declaration order, which keeps the
// encoding stable.
func (s DeviceSignal) Hash(secret string) string {
	canonical, _ := json.Marshal(s)
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// LabelMaxLen is the width of the browser and os columns.
const LabelMaxLen = 64

// truncateLabel cuts a client-supplied label to LabelMaxLen characters.
func truncateLabel(v string) string {
	if utf8.RuneCountInString(v) <= LabelMaxLen {
		return v
	}
	return string([]rune(v)[:LabelMaxLen])
}

// Describe derives coarse browser, OS and device type labels. Labels fit the
// device_sessions columns.
func (s DeviceSignal) Describe() (browser, os, deviceType string) {
	ua := strings.ToLower(s.UserAgent)

	switch {
	case strings.Contains(ua, "edg/"):
		browser = "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		browser = "Opera"
	case strings.Contains(ua, "firefox/"):
		browser = "Firefox"
	case strings.Contains(ua, "chrome/"):
		browser = "Chrome"
	case strings.Contains(ua, "safari/"):
		browser = "Safari"
	default:
		browser = "Unknown"
	}

	if p := strings.TrimSpace(strings.Trim(s.SecCHUAPlatform, `"`)); p != "" {
		os = truncateLabel(p)
	} else {
		switch {
		case strings.Contains(ua, "windows"):
			os = "Windows"
		case strings.Contains(ua, "android"):
			os = "Android"
		case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad"):
			os = "iOS"
		case strings.Contains(ua, "mac os"):
			os = "macOS"
		case strings.Contains(ua, "linux"):
			os = "Linux"
		default:
			os = "Unknown"
		}
	}

	switch {
	case s.SecCHUAMobile == "?1" || strings.Contains(ua, "mobile"):
		deviceType = "mobile"
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		deviceType = "tablet"
	default:
		deviceType = "desktop"
	}
	return browser, os, deviceType
}
