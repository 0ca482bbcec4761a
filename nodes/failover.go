package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/telemetry"
)

// errorMarkers is the fixed substring set _isValidResult rejects a string
// result for (spec §4.4.6), grounded on
// original_source/orka/nodes/failover_node.py's validity check.
var errorMarkers = []string{
	"error", "failed", "rate limit", "timeout",
	"400 ", "401 ", "403 ", "404 ", "429 ", "500 ", "502 ", "503 ",
}

// FailoverNode tries each child in declared order, returning the first
// child whose output passes isValidResult; all-failure aggregates every
// child's error into one output (spec §4.4.6).
type FailoverNode struct {
	Base
	Children []core.Node
}

var _ core.Node = (*FailoverNode)(nil)

func NewFailoverNode(id string, children []core.Node) *FailoverNode {
	return &FailoverNode{Base: Base{NodeID: id}, Children: children}
}

func (f *FailoverNode) Run(ctx context.Context, rc *core.RunContext) (core.Output, error) {
	var failures []string
	for i, child := range f.Children {
		if i > 0 {
			telemetry.RecordToolCallRetry(telemetry.ModuleOrchestration, f.NodeID)
		}
		out, err := child.Run(ctx, rc)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", child.ID(), err))
			continue
		}
		if !isValidResult(out) {
			reason := out.Error
			if reason == "" {
				reason = fmt.Sprintf("%v", out.Result)
			}
			failures = append(failures, fmt.Sprintf("%s: %s", child.ID(), reason))
			continue
		}
		return successOutput(f.NodeID, map[string]interface{}{
			"result":          out,
			"successful_child": child.ID(),
		}, nil), nil
	}
	return errorOutput(f.NodeID, fmt.Errorf("all children failed: %s", strings.Join(failures, "; "))), nil
}

// isValidResult implements spec §4.4.6's validity predicate: non-empty,
// not status:error, and (when the result is a string) free of error/failed
// /rate-limit/timeout/HTTP-error/HTML-tag markers and not a None/"NONE"
// sentinel.
func isValidResult(out core.Output) bool {
	if out.Status == core.StatusError {
		return false
	}
	if out.Result == nil {
		return false
	}
	s, isString := out.Result.(string)
	if !isString {
		return true
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || strings.EqualFold(trimmed, "none") {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	if strings.Contains(trimmed, "<") && strings.Contains(trimmed, ">") {
		return false
	}
	return true
}
