// Package nodes implements the control-flow and utility node types spec
// §4.4.3-§4.4.6 and §C name: Router, Failover, Fork, Join, Loop, Failing,
// the memory read/write wrappers, and the validate-and-structure agent.
// Each type implements core.Node; control nodes communicate dynamic
// successor decisions to the scheduler through Output.Metadata rather than
// a separate return channel, keeping the core.Node interface uniform across
// every node kind (spec §9 "Polymorphic output envelopes").
package nodes

import (
	"time"

	"github.com/orkarun/orka/core"
)

// MetaNextQueue is the Output.Metadata key a control node sets to tell the
// scheduler which node ids to enqueue next, overriding the static
// NodeConfig.Queue for that step (spec §4.4.2 step 7 "dynamic" enqueueing).
const MetaNextQueue = "next_queue"

// MetaRequeueSelf is the Output.Metadata key a Join sets when its expected
// set isn't complete yet, asking the scheduler to push this node's id back
// onto the tail of the queue (spec §4.4.3 "cooperative back-off").
const MetaRequeueSelf = "requeue_self"

// Base holds the fields every node type shares: identity, declared
// children/queue, and a default timeout. Control nodes embed it instead of
// repeating ID()/Type() boilerplate.
type Base struct {
	NodeID  string
	Queue   []string
	Timeout time.Duration
}

func (b *Base) ID() string { return b.NodeID }

func (b *Base) Type() core.ComponentType { return core.ComponentNode }

func successOutput(componentID string, result interface{}, metadata map[string]interface{}) core.Output {
	return core.Output{
		Result:        result,
		Status:        core.StatusSuccess,
		ComponentID:   componentID,
		ComponentType: core.ComponentNode,
		Timestamp:     time.Now(),
		Metadata:      metadata,
	}
}

func errorOutput(componentID string, err error) core.Output {
	return core.ErrorOutput(componentID, core.ComponentNode, err)
}
