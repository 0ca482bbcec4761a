package telemetry

import (
	"time"
)

// Health represents the health status of the telemetry system
type Health struct {
	Enabled         bool   `json:"enabled"`
	Provider        string `json:"provider"`
	MetricsEmitted  int64  `json:"metrics_emitted"`
	MetricsDropped  int64  `json:"metrics_dropped"`
	Errors          int64  `json:"errors"`
	LastError       string `json:"last_error,omitempty"`
	CircuitState    string `json:"circuit_state"`
	Uptime          string `json:"uptime"`
	CardinalityUsed int    `json:"cardinality_used"`
	CardinalityMax  int    `json:"cardinality_max"`
	Initialized     bool   `json:"initialized"`
}

// GetHealth returns the current health status of the telemetry system. The
// orchestrator's run summary (spec §8 RunResult) surfaces this alongside
// its own counters so an operator inspecting a failed run can tell a
// telemetry outage from an orchestration bug.
func GetHealth() Health {
	registry := globalRegistry.Load()
	if registry == nil {
		return Health{
			Enabled:     false,
			Initialized: false,
		}
	}

	r, ok := registry.(*Registry)
	if !ok || r == nil {
		return Health{
			Enabled:     false,
			Initialized: false,
		}
	}

	lastErr := ""
	if errVal := r.lastError.Load(); errVal != nil {
		if errStr, ok := errVal.(string); ok && errStr != "" {
			lastErr = errStr
		}
	}

	circuitState := "disabled"
	if r.circuit != nil {
		circuitState = r.circuit.State()
	}

	cardinalityUsed := 0
	cardinalityMax := 0
	if r.limiter != nil {
		cardinalityUsed = r.limiter.CurrentCardinality()
		cardinalityMax = r.limiter.MaxCardinality()
	}

	return Health{
		Enabled:         r.config.Enabled,
		Provider:        "otel",
		MetricsEmitted:  r.emitted.Load(),
		MetricsDropped:  telemetryDropped.Load(),
		Errors:          telemetryErrors.Load(),
		LastError:       lastErr,
		CircuitState:    circuitState,
		Uptime:          time.Since(r.startTime).String(),
		CardinalityUsed: cardinalityUsed,
		CardinalityMax:  cardinalityMax,
		Initialized:     true,
	}
}

// InternalMetrics returns internal telemetry metrics for monitoring
type InternalMetrics struct {
	Errors  int64 `json:"errors"`
	Dropped int64 `json:"dropped"`
	Emitted int64 `json:"emitted"`
}

// GetInternalMetrics returns internal telemetry metrics
func GetInternalMetrics() InternalMetrics {
	registry := globalRegistry.Load()
	emitted := int64(0)
	if registry != nil {
		r := registry.(*Registry)
		emitted = r.emitted.Load()
	}

	return InternalMetrics{
		Errors:  telemetryErrors.Load(),
		Dropped: telemetryDropped.Load(),
		Emitted: emitted,
	}
}

// ResetInternalMetrics resets internal metrics (useful for testing)
func ResetInternalMetrics() {
	telemetryErrors.Store(0)
	telemetryDropped.Store(0)

	registry := globalRegistry.Load()
	if registry != nil {
		r := registry.(*Registry)
		r.emitted.Store(0)
	}
}
