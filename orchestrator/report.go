package orchestrator

import (
	"time"
)

// ErrorEntry is one entry in an ErrorReport.Errors list (spec §6 "Error
// report").
type ErrorEntry struct {
	Type          string     `json:"type"`
	AgentID       string     `json:"agent_id"`
	Message       string     `json:"message"`
	Exception     *Exception `json:"exception,omitempty"`
	StatusCode    int        `json:"status_code,omitempty"`
	RecoveryAction string    `json:"recovery_action,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Exception carries the lower-level failure detail for an ErrorEntry.
type Exception struct {
	Type      string `json:"type"`
	Traceback string `json:"traceback"`
}

// MemorySnapshot summarizes store state at report time (spec §6 "Error
// report" -> memory_snapshot).
type MemorySnapshot struct {
	TotalEntries int      `json:"total_entries"`
	Last10       []string `json:"last_10_entries"`
	BackendType  string   `json:"backend_type"`
}

// ExecutionSummary is the report's rollup (spec §6 "Error report" ->
// execution_summary).
type ExecutionSummary struct {
	TotalAgentsExecuted int    `json:"total_agents_executed"`
	TotalErrors         int    `json:"total_errors"`
	TotalRetries        int    `json:"total_retries"`
	ExecutionStatus     string `json:"execution_status"`
}

// ErrorReport is the comprehensive JSON document the error-wrapping layer
// writes for every run (spec §4.4.7, §6 "Error report", §7 "the wrapping
// layer raises to the caller only when it itself cannot persist a report").
type ErrorReport struct {
	RunID              string             `json:"run_id"`
	ExecutionStatus    string             `json:"execution_status"`
	StartedAt          time.Time          `json:"started_at"`
	FinishedAt         time.Time          `json:"finished_at"`
	Errors             []ErrorEntry       `json:"errors"`
	SilentDegradations []ErrorEntry       `json:"silent_degradations"`
	RetryCounters      map[string]int     `json:"retry_counters"`
	CriticalFailures   []ErrorEntry       `json:"critical_failures"`
	MemorySnapshot     MemorySnapshot     `json:"memory_snapshot"`
	ExecutionSummary   ExecutionSummary   `json:"execution_summary"`
}

// NewErrorReport starts a report for a fresh run.
func NewErrorReport(runID string) *ErrorReport {
	return &ErrorReport{
		RunID:         runID,
		StartedAt:     time.Now(),
		RetryCounters: make(map[string]int),
	}
}

// RecordError appends a node-execution failure (spec §7 "Nodes never raise
// to the scheduler; they return error envelopes" -- the scheduler is what
// turns those envelopes into report entries).
func (r *ErrorReport) RecordError(e ErrorEntry) {
	r.Errors = append(r.Errors, e)
}

// RecordSilentDegradation records a recognized suboptimal-but-non-failing
// outcome (spec §7 "Silent degradation"), e.g. jsonx repairing malformed
// JSON rather than failing the step.
func (r *ErrorReport) RecordSilentDegradation(e ErrorEntry) {
	r.SilentDegradations = append(r.SilentDegradations, e)
}

// RecordCriticalFailure records a scheduler-level crash (spec §7 "Critical
// failure").
func (r *ErrorReport) RecordCriticalFailure(e ErrorEntry) {
	r.CriticalFailures = append(r.CriticalFailures, e)
}

// Finish fills FinishedAt and the execution summary from the report's own
// accumulated state. totalAgentsExecuted is the distinct node count the
// caller observed; TotalRetries is always 0 -- spec §4.4.7/§7: "the
// orchestrator itself does not retry" (Failover substitutes children, it
// never re-runs the same node).
func (r *ErrorReport) Finish(status string, totalAgentsExecuted int) {
	r.ExecutionStatus = status
	r.FinishedAt = time.Now()
	r.ExecutionSummary = ExecutionSummary{
		TotalAgentsExecuted: totalAgentsExecuted,
		TotalErrors:         len(r.Errors),
		ExecutionStatus:     status,
	}
}

// WithMemorySnapshot attaches a memory_snapshot taken by the caller (the
// orchestrator, which has the Store handle the report itself does not).
func (r *ErrorReport) WithMemorySnapshot(snapshot MemorySnapshot) *ErrorReport {
	r.MemorySnapshot = snapshot
	return r
}
