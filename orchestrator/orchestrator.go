package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/memory"
	"github.com/orkarun/orka/telemetry"
	"github.com/orkarun/orka/workflow"
)

// Orchestrator ties a compiled workflow to a Store/AIClient/Logger and runs
// it end to end, producing the logs-or-critical-failure envelope spec §7
// describes ("On success: return a logs list... On critical failure:
// return {status: critical_failure, error, error_report_path}").
type Orchestrator struct {
	Store     memory.Store
	AIClient  core.AIClient
	Logger    core.Logger
	Telemetry core.Telemetry

	compiled *compiled
	root     []string
}

// New compiles doc (spec §4.4.1) and returns a ready-to-run Orchestrator.
func New(doc *workflow.Document, store memory.Store, aiClient core.AIClient, logger core.Logger, globalDecay memory.DecayConfig) (*Orchestrator, error) {
	return NewWithTelemetry(doc, store, aiClient, logger, nil, globalDecay)
}

// NewWithTelemetry is New plus a telemetry provider, so spans wrap node
// execution, fork dispatch, and loop iterations all the way down into
// nested Loop subgraphs (spec §A.1 "tracing spans around node execution,
// fork/join, loop iterations"). A nil telemetry behaves exactly like New.
func NewWithTelemetry(doc *workflow.Document, store memory.Store, aiClient core.AIClient, logger core.Logger, telemetry core.Telemetry, globalDecay memory.DecayConfig) (*Orchestrator, error) {
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	c := &Compiler{Store: store, AIClient: aiClient, Logger: logger, Telemetry: telemetry, GlobalDecay: globalDecay}
	compiledGraph, err := c.Compile(doc.Agents)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		Store:     store,
		AIClient:  aiClient,
		Logger:    logger,
		Telemetry: telemetry,
		compiled:  compiledGraph,
		root:      doc.RootQueue(),
	}, nil
}

// CriticalFailure is the envelope Run returns when the scheduler panics.
// The error report is not persisted, so ErrorReportPath stays empty.
type CriticalFailure struct {
	Status          string `json:"status"`
	Message         string `json:"error"`
	ErrorReportPath string `json:"error_report_path,omitempty"`
}

func (c *CriticalFailure) Error() string {
	return fmt.Sprintf("critical_failure: %s", c.Message)
}

// Run executes the compiled graph against input, returning the run's
// RunResult (logs + final previous_outputs + error report) on completed or
// partial runs. A panic surfacing past the ConcurrencyManager's own
// recovery (i.e. a scheduler-level bug, not a node-level one) is the one
// path that produces a critical_failure instead -- recovered here so Run
// never panics out to the caller (spec §7 "Critical failure").
func (o *Orchestrator) Run(ctx context.Context, input interface{}) (result *RunResult, critical *CriticalFailure) {
	traceID := uuid.NewString()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			report := NewErrorReport(traceID)
			report.RecordCriticalFailure(ErrorEntry{
				Type:      "critical_failure",
				Message:   fmt.Sprintf("scheduler panic: %v", r),
				Timestamp: time.Now(),
			})
			report.Finish("failed", 0)
			critical = &CriticalFailure{Status: "critical_failure", Message: fmt.Sprintf("scheduler panic: %v", r)}
			result = nil
			telemetry.RecordRequestError(telemetry.ModuleOrchestration, "workflow_run", "critical_failure")
			telemetry.RecordRequest(telemetry.ModuleOrchestration, "workflow_run", float64(time.Since(start).Milliseconds()), "error")
		}
	}()

	sched := &Scheduler{Compiled: o.compiled, Store: o.Store, Logger: o.Logger, Telemetry: o.Telemetry}
	result = sched.Run(ctx, o.root, input, traceID)
	result.Report.WithMemorySnapshot(o.memorySnapshot(ctx))

	status := "success"
	if result.Status != "completed" {
		status = "error"
	}
	telemetry.RecordRequest(telemetry.ModuleOrchestration, "workflow_run", float64(time.Since(start).Milliseconds()), status)
	return result, nil
}

// memorySnapshot builds the error report's memory_snapshot field (spec §6
// "memory_snapshot: {total_entries, last_10_entries, backend_type}"). Best
// effort: a snapshot failure degrades to a zero-value snapshot rather than
// failing the run (spec §7 "Store write failures are logged and swallowed;
// they never abort a run" -- applied here to the analogous read path).
func (o *Orchestrator) memorySnapshot(ctx context.Context) MemorySnapshot {
	snapshot := MemorySnapshot{BackendType: "redis"}
	if o.Store == nil {
		return snapshot
	}
	results, err := o.Store.Search(ctx, memory.SearchOptions{Limit: 10})
	if err != nil {
		o.Logger.Warn("memory snapshot read failed", map[string]interface{}{"error": err.Error()})
		return snapshot
	}
	snapshot.TotalEntries = len(results)
	for i := len(results) - 1; i >= 0 && len(snapshot.Last10) < 10; i-- {
		snapshot.Last10 = append(snapshot.Last10, results[i].Entry.ID)
	}
	return snapshot
}
