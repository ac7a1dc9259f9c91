package security

import (
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// ParseTTL parses a duration with a ms, s, m, h or d suffix. Empty,
// unparsable and non-positive values silently return fallback so a bad
// config value degrades to the default instead of failing boot.
func ParseTTL(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return fallback
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return fallback
		}
		return time.Duration(n) * 24 * time.Hour
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
