// Package liveness decides whether a timestamp should still be treated as
// current relative to a freshness window.
package liveness

import (
	"time"

	"github.com/wakeguard/companion/internal/models"
)

// Default freshness windows. The location window gates the "driving now"
// signal; the warning window gates whether a stored warning event is still an
// active alert rather than history. They share the same predicate but are
// independently tunable.
const (
	DefaultLocationWindow = 90 * time.Second
	DefaultWarningWindow  = 90 * time.Second
)

// FreshAt reports whether ts is within window of now. A zero timestamp is
// never fresh.
func FreshAt(now, ts time.Time, window time.Duration) bool {
	if ts.IsZero() {
		return false
	}
	return now.Sub(ts) <= window
}

// Fresh is FreshAt against the wall clock.
func Fresh(ts time.Time, window time.Duration) bool {
	return FreshAt(time.Now(), ts, window)
}

// LiveAt reports whether a subject counts as live: it declared itself driving
// and its last published location is inside the freshness window.
func LiveAt(now time.Time, mode models.Mode, lastLocationAt time.Time, window time.Duration) bool {
	return mode == models.ModeDriver && FreshAt(now, lastLocationAt, window)
}
