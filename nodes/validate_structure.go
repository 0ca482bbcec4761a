package nodes

import (
	"context"
	"fmt"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/jsonx"
)

// ValidateAndStructureNode takes free-form LLM output (read from the
// rendered prompt or a referenced node's result) and returns a structured,
// schema-validated object, or a caller-supplied default on failure
// (SPEC_FULL.md §C.8, exercising jsonx end to end).
type ValidateAndStructureNode struct {
	Base
	SourceNodeID string // if set, structures that node's Output.Result instead of rc.FormattedPrompt
	Schema       jsonx.Schema
	Default      map[string]interface{}
}

var _ core.Node = (*ValidateAndStructureNode)(nil)

func NewValidateAndStructureNode(id, sourceNodeID string, schema jsonx.Schema, def map[string]interface{}) *ValidateAndStructureNode {
	return &ValidateAndStructureNode{
		Base:         Base{NodeID: id},
		SourceNodeID: sourceNodeID,
		Schema:       schema,
		Default:      def,
	}
}

func (n *ValidateAndStructureNode) Run(ctx context.Context, rc *core.RunContext) (core.Output, error) {
	raw := n.rawText(rc)

	extracted, err := jsonx.Extract(raw)
	if err != nil {
		if n.Default != nil {
			return successOutput(n.NodeID, n.Default, map[string]interface{}{"used_default": true, "reason": err.Error()}), nil
		}
		return errorOutput(n.NodeID, fmt.Errorf("validate_and_structure %s: %w", n.NodeID, err)), nil
	}

	structured, err := n.Schema.Validate(extracted)
	if err != nil {
		if n.Default != nil {
			return successOutput(n.NodeID, n.Default, map[string]interface{}{"used_default": true, "reason": err.Error()}), nil
		}
		return errorOutput(n.NodeID, fmt.Errorf("validate_and_structure %s: %w", n.NodeID, err)), nil
	}

	return successOutput(n.NodeID, structured, nil), nil
}

func (n *ValidateAndStructureNode) rawText(rc *core.RunContext) string {
	if n.SourceNodeID != "" {
		if out, ok := rc.Output(n.SourceNodeID); ok {
			if s, ok := out.Result.(string); ok {
				return s
			}
			return fmt.Sprintf("%v", out.Result)
		}
	}
	if rc.FormattedPrompt != "" {
		return rc.FormattedPrompt
	}
	if s, ok := rc.Input.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", rc.Input)
}
