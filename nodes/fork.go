package nodes

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/memory"
)

// ForkNode creates a fork-group record in the store and enqueues every
// branch's entry node; branches then run concurrently under the
// scheduler's concurrency manager (spec §4.4.3, §5, §6 "fork: targets").
// Each target id doubles as its branch's identity in the fork-group record
// -- the scheduler (orchestrator.Scheduler) recognizes when a branch has no
// further successors and calls Store.ForkGroupComplete on the branch's
// behalf, since "the terminal node" is a scheduling fact (no queue
// successors left within the branch), not something the leaf node itself
// needs to know how to report.
type ForkNode struct {
	Base
	Targets []string
	Mode    string // "parallel" (default) | "sequential"
	Store   memory.Store
}

var _ core.Node = (*ForkNode)(nil)

func NewForkNode(id string, targets []string, mode string, store memory.Store) *ForkNode {
	if mode == "" {
		mode = "parallel"
	}
	return &ForkNode{Base: Base{NodeID: id}, Targets: targets, Mode: mode, Store: store}
}

func (f *ForkNode) Run(ctx context.Context, rc *core.RunContext) (core.Output, error) {
	groupID := uuid.NewString()
	if err := f.Store.ForkGroupCreate(ctx, groupID, f.Targets); err != nil {
		return errorOutput(f.NodeID, fmt.Errorf("fork %s: create group: %w", f.NodeID, err)), nil
	}
	return successOutput(f.NodeID, map[string]interface{}{
		"group_id": groupID,
		"branches": f.Targets,
		"mode":     f.Mode,
	}, map[string]interface{}{
		MetaNextQueue: f.Targets,
		"group_id":    groupID,
		"branch_ids":  f.Targets,
	}), nil
}
