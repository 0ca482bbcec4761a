package resilience

import (
	"errors"
	"strings"

	"github.com/orkarun/orka/core"
)

// transientMarkers is the fixed, documented substring set used to recognize
// a "retry-eligible transient" error (spec §7, §9 Open Question: "the exact
// set of matched substrings is not formally specified" in the source -- this
// rewrite pins one set and documents it here rather than guessing at the
// original's intent). Matching is case-insensitive against the error's
// message text, isolated in this single predicate exactly as the teacher
// isolates its own heuristic in DefaultErrorClassifier (circuit_breaker.go).
var transientMarkers = []string{
	"rate limit",
	"rate_limit",
	"timeout",
	"timed out",
	"429",
	"500",
	"502",
	"503",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
}

// IsTransient reports whether err represents a retry-eligible transient
// condition: a network/5xx/rate-limit style failure that a Failover node may
// reasonably retry against an alternate child, as opposed to a
// configuration or validation error that will fail identically on retry.
// The orchestrator itself never retries (spec §4.4.6/§7) -- this predicate
// only informs Failover's child-selection and the error-wrapping layer's
// `recovery_action` classification.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fe *core.FrameworkError
	if errors.As(err, &fe) && fe.Kind == core.KindRetryEligibleTransient {
		return true
	}
	if core.IsTimeout(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
