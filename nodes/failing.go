package nodes

import (
	"context"
	"fmt"

	"github.com/orkarun/orka/core"
)

// FailingNode deliberately returns a status:error output; it exists for
// testing Failover/error-surface behavior rather than doing real work
// (grounded on AGENT_TYPES' "failing" entry in agent_factory.py).
type FailingNode struct {
	Base
	Message string
}

var _ core.Node = (*FailingNode)(nil)

func NewFailingNode(id, message string) *FailingNode {
	if message == "" {
		message = "deliberate failure"
	}
	return &FailingNode{Base: Base{NodeID: id}, Message: message}
}

func (n *FailingNode) Run(ctx context.Context, rc *core.RunContext) (core.Output, error) {
	return errorOutput(n.NodeID, fmt.Errorf("%s", n.Message)), nil
}
