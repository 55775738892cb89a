// Package models defines rate-limit keys, counters and check results.
package models

import (
	"strings"
	"time"

	"govid/pkg/domain"
)

// Result is the outcome of one counted request.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is set when the result came from the in-process fallback store.
	Degraded bool
}

// Record is a fixed-window counter. The window starts at the first request
// and lasts until WindowExpiry; the next request after that starts a new
// window with Count 1.
type Record struct {
	Count        int
	WindowExpiry time.Time
}

// Expired reports whether the window has elapsed at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.WindowExpiry)
}

const keyPrefix = "rl:"

// KeyForIdentity keys an authenticated caller.
func KeyForIdentity(id domain.IdentityID) string {
	return keyPrefix + "identity:" + id.String()
}

// KeyForAddress keys an unauthenticated caller by client address.
func KeyForAddress(ip string) string {
	return keyPrefix + "addr:" + SanitizeKeySegment(ip)
}

// SanitizeKeySegment escapes the key delimiter so a caller-controlled value
// (an IPv6 address, a forged X-Forwarded-For) cannot address another bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
