package nodes

import (
	"context"
	"fmt"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/memory"
)

// JoinMode selects the Join node's completion rule (spec §4.4.3).
type JoinMode string

const (
	JoinAll JoinMode = "all"
	JoinAny JoinMode = "any"
)

// JoinNode waits on the fork-group its paired ForkNode created. If the
// completion set isn't ready yet it asks the scheduler to requeue it
// (cooperative back-off) instead of blocking a worker.
type JoinNode struct {
	Base
	ForkNodeID string
	Mode       JoinMode
	Store      memory.Store
}

var _ core.Node = (*JoinNode)(nil)

func NewJoinNode(id, forkNodeID string, mode JoinMode, store memory.Store) *JoinNode {
	if mode == "" {
		mode = JoinAll
	}
	return &JoinNode{Base: Base{NodeID: id}, ForkNodeID: forkNodeID, Mode: mode, Store: store}
}

func (j *JoinNode) Run(ctx context.Context, rc *core.RunContext) (core.Output, error) {
	forkOut, ok := rc.Output(j.ForkNodeID)
	if !ok {
		return errorOutput(j.NodeID, fmt.Errorf("join %s: no output recorded for fork node %s", j.NodeID, j.ForkNodeID)), nil
	}
	groupID, _ := forkOut.Metadata["group_id"].(string)
	if groupID == "" {
		return errorOutput(j.NodeID, fmt.Errorf("join %s: fork node %s output carries no group_id", j.NodeID, j.ForkNodeID)), nil
	}

	expected, completed, err := j.Store.ForkGroupStatus(ctx, groupID)
	if err != nil {
		return errorOutput(j.NodeID, fmt.Errorf("join %s: status: %w", j.NodeID, err)), nil
	}

	ready := joinReady(j.Mode, expected, completed)
	if !ready {
		return successOutput(j.NodeID, map[string]interface{}{
			"group_id":  groupID,
			"completed": completed,
			"expected":  expected,
		}, map[string]interface{}{MetaRequeueSelf: true}), nil
	}

	merged := make(map[string]interface{}, len(completed))
	for _, branchID := range completed {
		if out, ok := rc.Output(branchID); ok {
			merged[branchID] = out
		}
	}

	if err := j.Store.ForkGroupDelete(ctx, groupID); err != nil {
		return errorOutput(j.NodeID, fmt.Errorf("join %s: delete group: %w", j.NodeID, err)), nil
	}

	return successOutput(j.NodeID, merged, nil), nil
}

func joinReady(mode JoinMode, expected, completed []string) bool {
	if mode == JoinAny {
		return len(completed) > 0
	}
	if len(expected) == 0 {
		return true
	}
	set := make(map[string]bool, len(completed))
	for _, c := range completed {
		set[c] = true
	}
	for _, e := range expected {
		if !set[e] {
			return false
		}
	}
	return true
}
