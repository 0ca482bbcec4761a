package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ComponentType identifies what kind of executable unit produced an Output.
type ComponentType string

const (
	ComponentAgent ComponentType = "agent"
	ComponentNode  ComponentType = "node"
	ComponentTool  ComponentType = "tool"
)

// Status is the outcome of a single node invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPartial Status = "partial"
)

// Output is the uniform envelope every node returns from Run. Extension data
// belongs under Metadata/Metrics rather than new top-level fields -- compose,
// don't inherit (spec §9 "Polymorphic output envelopes").
type Output struct {
	Result          interface{}            `json:"result"`
	Status          Status                 `json:"status"`
	Error           string                 `json:"error,omitempty"`
	ComponentID     string                 `json:"component_id"`
	ComponentType   ComponentType          `json:"component_type"`
	Timestamp       time.Time              `json:"timestamp"`
	ExecutionTimeMs int64                  `json:"execution_time_ms,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
}

// Validate enforces the envelope invariant from spec §3: status==success
// implies no error string, status==error implies a non-empty error string.
func (o Output) Validate() error {
	if o.Status == StatusSuccess && o.Error != "" {
		return fmt.Errorf("output envelope invalid: status=success but error is set (%q)", o.Error)
	}
	if o.Status == StatusError && o.Error == "" {
		return fmt.Errorf("output envelope invalid: status=error but error is empty")
	}
	return nil
}

// ErrorOutput builds a status:error envelope, the shape every node boundary
// converts a panic/returned error into (spec §4.1 / §7).
func ErrorOutput(componentID string, componentType ComponentType, err error) Output {
	return Output{
		Result:        nil,
		Status:        StatusError,
		Error:         err.Error(),
		ComponentID:   componentID,
		ComponentType: componentType,
		Timestamp:     time.Now(),
	}
}

// PastLoop summarizes one completed Loop iteration (spec §3).
type PastLoop struct {
	LoopNumber   int                    `json:"loop_number"`
	Score        float64                `json:"score"`
	Timestamp    time.Time              `json:"timestamp"`
	Insights     string                 `json:"insights,omitempty"`
	Improvements string                 `json:"improvements,omitempty"`
	Mistakes     string                 `json:"mistakes,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
}

// RunContext is the per-execution state threaded through every node
// invocation (spec §3, §9 "per-run ambient state" -- passed explicitly, no
// globals, no thread-locals).
type RunContext struct {
	Input           interface{}
	PreviousOutputs map[string]Output
	TraceID         string
	Timestamp       time.Time
	LoopNumber      int
	PastLoops       []PastLoop
	FormattedPrompt string

	mu sync.RWMutex
}

// NewRunContext creates a RunContext for a fresh orchestrator.Run(input)
// call, using the caller-supplied trace ID as is (Orchestrator.Run
// generates one per run).
func NewRunContext(input interface{}, traceID string) *RunContext {
	return &RunContext{
		Input:           input,
		PreviousOutputs: make(map[string]Output),
		TraceID:         traceID,
		Timestamp:       time.Now(),
	}
}

// Clone returns a shallow copy safe for a concurrent fork branch to mutate
// its own PreviousOutputs view without racing siblings; PreviousOutputs is
// deep-copied one level (map of structs) since branches must not see each
// other's writes until the Join merges them.
func (r *RunContext) Clone() *RunContext {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := &RunContext{
		Input:           r.Input,
		TraceID:         r.TraceID,
		Timestamp:       r.Timestamp,
		LoopNumber:      r.LoopNumber,
		FormattedPrompt: r.FormattedPrompt,
		PreviousOutputs: make(map[string]Output, len(r.PreviousOutputs)),
	}
	for k, v := range r.PreviousOutputs {
		cp.PreviousOutputs[k] = v
	}
	cp.PastLoops = append(cp.PastLoops, r.PastLoops...)
	return cp
}

// MergeOutput installs a node's Output under its id in PreviousOutputs
// (spec §4.4.2 step 5: "Merge output into previous_outputs").
func (r *RunContext) MergeOutput(nodeID string, out Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PreviousOutputs[nodeID] = out
}

// Output returns the most recent output recorded for nodeID, matching the
// invariant "previous_outputs[x] after step N equals the output envelope of
// the most recent execution of node x at or before step N" (spec §8).
func (r *RunContext) Output(nodeID string) (Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.PreviousOutputs[nodeID]
	return out, ok
}

// NodeConfig is the declarative specification compiled from workflow YAML
// into the execution graph (spec §3, §6).
type NodeConfig struct {
	ID       string                 `yaml:"id" json:"id"`
	Type     string                 `yaml:"type" json:"type"`
	Prompt   string                 `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Queue    []string               `yaml:"queue,omitempty" json:"queue,omitempty"`
	Children []NodeConfig           `yaml:"children,omitempty" json:"children,omitempty"`
	Timeout  time.Duration          `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Extra    map[string]interface{} `yaml:",inline" json:"-"`
}

// Node is the contract every executable unit implements (spec §4.1): agent,
// tool, or control node alike. Run must never let a panic or error escape --
// callers get an error-status Output, never a Go error return, except where
// the implementation explicitly documents otherwise (control nodes may
// return a wiring error for genuinely unrecoverable configuration problems,
// which the scheduler treats as a compile-time/fatal condition rather than a
// per-step error).
type Node interface {
	ID() string
	Type() ComponentType
	Run(ctx context.Context, rc *RunContext) (Output, error)
}

// Initializer is optionally implemented by nodes with idempotent resource
// acquisition (spec §4.1: "initialize() idempotent"). The scheduler never
// calls it directly -- nodes self-initialize on first Run.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Cleaner is optionally implemented by nodes that hold releasable resources.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// RunOnce wraps an idempotent Initialize call behind a sync.Once so a node
// embedding this helper gets "calling initialize() twice is a no-op on the
// second call" (spec §8 round-trip property) for free.
type RunOnce struct {
	once sync.Once
	err  error
}

func (r *RunOnce) Do(fn func() error) error {
	r.once.Do(func() {
		r.err = fn()
	})
	return r.err
}
