package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/memory"
	"github.com/orkarun/orka/nodes"
	"github.com/orkarun/orka/prompt"
	"github.com/orkarun/orka/resilience"
	"github.com/orkarun/orka/telemetry"
)

// logFields merges trace_id/span_id for the active span in ctx (if any)
// into fields, so a log line can be correlated with the trace an operator
// is looking at in Jaeger without needing the whole span.
func logFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	tc := telemetry.GetTraceContext(ctx)
	if tc.TraceID == "" {
		return fields
	}
	fields["trace_id"] = tc.TraceID
	fields["span_id"] = tc.SpanID
	return fields
}

// defaultNodeTimeout is the per-step timeout applied when a node's config
// carries none (spec §4.4.2 step 4: "timeout drawn from config (default
// 30s)").
const defaultNodeTimeout = 30 * time.Second

// requeueBackoff is the pause a cooperatively-requeued Join takes before
// the scheduler retries it, so a not-yet-ready Join doesn't spin the FIFO
// loop hot while its fork branches are still running (spec §5 "the join's
// back-off re-enqueue (yields to allow other work)").
const requeueBackoff = 5 * time.Millisecond

// LogEntry is one execution-loop record (spec §4.4.2 step 6).
type LogEntry struct {
	StepIndex int         `json:"step_index"`
	AgentID   string      `json:"agent_id"`
	Payload   core.Output `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunResult is what Scheduler.Run returns to its caller (spec §7
// "User-visible behavior").
type RunResult struct {
	RunID           string
	Status          string // completed | partial (critical failures come from Orchestrator.Run)
	Logs            []LogEntry
	PreviousOutputs map[string]core.Output
	Report          *ErrorReport
}

// Scheduler executes a compiled graph (spec §4.4.2): a FIFO queue of
// pending node ids, processed one step at a time, except that a Fork's
// branches run as their own goroutines so they execute concurrently with
// each other and with the rest of the run (spec §5 "cooperative
// single-threaded per run, with bounded parallel branches inside forks").
// Admission into both the main loop and every branch goroutine is gated by
// the same ConcurrencyManager, so fan-out stays bounded regardless of fork
// width.
type Scheduler struct {
	Compiled    *compiled
	Store       memory.Store
	Logger      core.Logger
	Telemetry   core.Telemetry
	Concurrency *core.ConcurrencyManager

	renderer *prompt.Renderer
}

func (s *Scheduler) ensureDeps() {
	if s.Logger == nil {
		s.Logger = &core.NoOpLogger{}
	}
	if s.Telemetry == nil {
		s.Telemetry = &core.NoOpTelemetry{}
	}
	if s.Concurrency == nil {
		s.Concurrency = core.NewConcurrencyManager(8)
	}
	if s.renderer == nil {
		s.renderer = prompt.NewRenderer(s.Logger)
	}
}

// runState is the mutable, concurrency-shared bookkeeping for one Run call:
// the step counter and log slice are written from both the main loop and
// fork-branch goroutines, so they carry their own mutex rather than living
// on Scheduler itself.
type runState struct {
	logsMu    sync.Mutex
	logs      []LogEntry
	nextStep  int64
	hadErrors atomic.Bool
}

func (rs *runState) append(id string, out core.Output) {
	rs.logsMu.Lock()
	defer rs.logsMu.Unlock()
	idx := rs.nextStep
	rs.nextStep++
	rs.logs = append(rs.logs, LogEntry{StepIndex: int(idx), AgentID: id, Payload: out, Timestamp: time.Now()})
}

// Run executes rootQueue to completion against input, returning the
// accumulated logs and final previous_outputs with Status "completed", or
// "partial" when a node failed or ctx was cancelled (spec §4.4.7, §7).
func (s *Scheduler) Run(ctx context.Context, rootQueue []string, input interface{}, traceID string) *RunResult {
	s.ensureDeps()
	rc := core.NewRunContext(input, traceID)
	report := NewErrorReport(traceID)
	rs := &runState{}
	var branches sync.WaitGroup

	recordOutcome := func(id string, out core.Output, runErr error) {
		switch {
		case runErr != nil:
			report.RecordError(ErrorEntry{Type: classifyRunErr(runErr), AgentID: id, Message: runErr.Error(), Timestamp: time.Now()})
			rs.hadErrors.Store(true)
		case out.Status == core.StatusError:
			report.RecordError(ErrorEntry{Type: "node_execution", AgentID: id, Message: out.Error, Timestamp: time.Now()})
			rs.hadErrors.Store(true)
		}
	}

	runBranch := func(head, groupID, branchID string) {
		defer branches.Done()
		current := head
		for current != "" {
			node, ok := s.Compiled.instances[current]
			if !ok {
				report.RecordError(ErrorEntry{Type: "node_execution", AgentID: current, Message: fmt.Sprintf("no such node %q", current), Timestamp: time.Now()})
				rs.hadErrors.Store(true)
				break
			}
			cfg := s.Compiled.configs[current]
			out, runErr := s.execNode(ctx, rc, current, cfg, node)
			recordOutcome(current, out, runErr)
			rc.MergeOutput(current, out)
			rs.append(current, out)
			if len(cfg.Queue) == 0 {
				break
			}
			current = cfg.Queue[0]
		}
		if s.Store == nil {
			return
		}
		if err := s.Store.ForkGroupComplete(ctx, groupID, branchID); err != nil {
			s.Logger.Warn("fork branch completion write failed", logFields(ctx, map[string]interface{}{
				"group_id": groupID, "branch_id": branchID, "error": err.Error(),
			}))
		}
	}

	queue := append([]string(nil), rootQueue...)
	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			branches.Wait()
			report.Finish("partial", len(rc.PreviousOutputs))
			return &RunResult{RunID: traceID, Status: "partial", Logs: rs.logs, PreviousOutputs: rc.PreviousOutputs, Report: report}
		default:
		}

		id := queue[0]
		queue = queue[1:]

		node, ok := s.Compiled.instances[id]
		if !ok {
			report.RecordError(ErrorEntry{Type: "node_execution", AgentID: id, Message: fmt.Sprintf("no such node %q", id), Timestamp: time.Now()})
			rs.hadErrors.Store(true)
			continue
		}
		cfg := s.Compiled.configs[id]

		out, runErr := s.execNode(ctx, rc, id, cfg, node)
		recordOutcome(id, out, runErr)
		rc.MergeOutput(id, out)
		rs.append(id, out)

		if out.Metadata != nil {
			if requeue, _ := out.Metadata[nodes.MetaRequeueSelf].(bool); requeue {
				time.Sleep(requeueBackoff)
				queue = append(queue, id)
				continue
			}
			if groupID, branchIDs, ok := forkBranchesFromMeta(out.Metadata); ok {
				_, forkSpan := s.Telemetry.StartSpan(ctx, "orchestrator.fork_dispatch")
				forkSpan.SetAttribute("orka.group_id", groupID)
				forkSpan.SetAttribute("orka.branch_count", len(branchIDs))
				for _, b := range branchIDs {
					branches.Add(1)
					go runBranch(b, groupID, b)
				}
				forkSpan.End()
				queue = append(queue, cfg.Queue...)
				continue
			}
			if nextQueue := extractNextQueue(out.Metadata); nextQueue != nil {
				queue = append(queue, nextQueue...)
				continue
			}
		}

		queue = append(queue, cfg.Queue...)
	}

	branches.Wait()

	status := "completed"
	if rs.hadErrors.Load() {
		status = "partial"
	}
	report.Finish(status, len(rc.PreviousOutputs))
	return &RunResult{RunID: traceID, Status: status, Logs: rs.logs, PreviousOutputs: rc.PreviousOutputs, Report: report}
}

// execNode renders the node's prompt (if any) against rc, then invokes it
// under the timeout/panic-safety of the shared ConcurrencyManager (spec
// §4.4.2 steps 3-4).
func (s *Scheduler) execNode(ctx context.Context, rc *core.RunContext, id string, cfg core.NodeConfig, node core.Node) (core.Output, error) {
	var span core.Span
	ctx, span = s.Telemetry.StartSpan(ctx, "orchestrator.node_execution")
	span.SetAttribute("orka.node_id", id)
	span.SetAttribute("orka.node_type", cfg.Type)
	defer span.End()

	if cfg.Prompt != "" {
		rendered, err := s.renderer.Render(cfg.Prompt, rc)
		if err != nil {
			s.Logger.Warn("prompt render degraded", logFields(ctx, map[string]interface{}{"node_id": id, "error": err.Error()}))
		}
		rc.FormattedPrompt = rendered
	} else {
		rc.FormattedPrompt = ""
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultNodeTimeout
	}

	nodeStart := time.Now()
	out, err := s.Concurrency.RunWithTimeout(ctx, timeout, func(stepCtx context.Context) (core.Output, error) {
		return node.Run(stepCtx, rc)
	})
	durationMs := float64(time.Since(nodeStart).Milliseconds())
	if err != nil {
		span.RecordError(err)
		telemetry.RecordToolCall(telemetry.ModuleOrchestration, cfg.Type, durationMs, "error")
		telemetry.RecordToolCallError(telemetry.ModuleOrchestration, cfg.Type, classifyRunErr(err))
		return core.ErrorOutput(id, core.ComponentNode, err), err
	}
	span.SetAttribute("orka.status", out.Status)
	telemetry.RecordToolCall(telemetry.ModuleOrchestration, cfg.Type, durationMs, "success")
	return out, nil
}

// forkBranchesFromMeta recognizes a Fork node's output shape (nodes.ForkNode
// installs group_id + branch_ids metadata) and returns its branch set.
func forkBranchesFromMeta(meta map[string]interface{}) (groupID string, branchIDs []string, ok bool) {
	groupID, _ = meta["group_id"].(string)
	ids, hasIDs := meta["branch_ids"].([]string)
	if groupID == "" || !hasIDs {
		return "", nil, false
	}
	return groupID, ids, true
}

func extractNextQueue(meta map[string]interface{}) []string {
	v, ok := meta[nodes.MetaNextQueue]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}

func classifyRunErr(err error) string {
	if fe, ok := err.(*core.FrameworkError); ok {
		return fe.Kind
	}
	if resilience.IsTransient(err) {
		return core.KindRetryEligibleTransient
	}
	return "node_execution"
}

// compileLoopRunner wires a Loop node's SubRunner to a fresh Scheduler
// running over the pre-compiled internal_workflow graph (spec §4.4.4 steps
// 1-2: "Compose an input... Execute"). A distinct Scheduler per call keeps
// concurrent loop iterations (e.g. a Loop nested inside a Fork branch) from
// sharing queue/log state.
func (c *Compiler) compileLoopRunner(nested *compiled) nodes.SubRunner {
	if nested == nil {
		return func(ctx context.Context, input interface{}, pastLoops []core.PastLoop, loopNumber int) (map[string]core.Output, error) {
			return nil, fmt.Errorf("loop has no internal_workflow configured")
		}
	}
	telemetry := c.Telemetry
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return func(ctx context.Context, input interface{}, pastLoops []core.PastLoop, loopNumber int) (map[string]core.Output, error) {
		var span core.Span
		ctx, span = telemetry.StartSpan(ctx, "orchestrator.loop_iteration")
		span.SetAttribute("orka.loop_number", loopNumber)
		defer span.End()

		sched := &Scheduler{Compiled: nested, Store: c.Store, Logger: c.Logger, Telemetry: telemetry}
		rootQueue := nested.order
		if len(rootQueue) > 1 {
			rootQueue = rootQueue[:1]
		}
		traceID := fmt.Sprintf("loop-%d", loopNumber)
		result := sched.Run(ctx, rootQueue, loopInput{Parent: input, PastLoops: pastLoops, LoopNumber: loopNumber}, traceID)
		return result.PreviousOutputs, nil
	}
}

// loopInput is the composed nested-run input (spec §4.4.4 step 1: "parent
// input and the current past_loops").
type loopInput struct {
	Parent     interface{}     `json:"parent_input"`
	PastLoops  []core.PastLoop `json:"past_loops"`
	LoopNumber int             `json:"loop_number"`
}
