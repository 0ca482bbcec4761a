package memory

import "fmt"

// FormatTTL renders a remaining-TTL duration the way the original
// implementation's decay mixin does (grounded on
// original_source/tests/unit/memory/redisstack/test_decay_mixin.py):
// seconds under a minute as "30s", under an hour as "1m 30s" (seconds
// dropped when zero), under a day as "1h 1m", and a day or more as "1d"
// (days only, no finer unit once a full day has elapsed).
func FormatTTL(seconds int64) string {
	if seconds < 0 {
		return "N/A"
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		m := seconds / 60
		s := seconds % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	case seconds < 86400:
		h := seconds / 3600
		m := (seconds % 3600) / 60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh %dm", h, m)
	default:
		d := seconds / 86400
		return fmt.Sprintf("%dd", d)
	}
}

// TTLInfo is the diagnostic shape surfaced by the decay scheduler and
// read-path annotations (grounded on the same test file's
// MockDecayHost._get_ttl_info).
type TTLInfo struct {
	TTLSeconds         int64
	TTLFormatted       string
	ExpiresAtMs        *int64
	HasExpiry          bool
}

// GetTTLInfo computes TTLInfo for an entry at nowMs.
func GetTTLInfo(e Entry, nowMs int64) TTLInfo {
	if e.ExpireAtMs == nil {
		return TTLInfo{TTLSeconds: -1, TTLFormatted: "N/A", HasExpiry: false}
	}
	remainingMs := *e.ExpireAtMs - nowMs
	remainingSec := remainingMs / 1000
	if remainingSec < 0 {
		remainingSec = 0
	}
	return TTLInfo{
		TTLSeconds:   remainingSec,
		TTLFormatted: FormatTTL(remainingSec),
		ExpiresAtMs:  e.ExpireAtMs,
		HasExpiry:    true,
	}
}
