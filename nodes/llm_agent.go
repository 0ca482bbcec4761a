package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/telemetry"
)

// LLMAgentNode renders its prompt (already installed as rc.FormattedPrompt
// by the scheduler, spec §4.4.2 step 3) and delegates generation to a
// core.AIClient -- the generic node AGENT_TYPES' "openai-answer" and
// siblings reduce to once decay/memory/control concerns are factored out
// into their own node types.
type LLMAgentNode struct {
	Base
	Client       core.AIClient
	SystemPrompt string
	Model        string
	Temperature  float32
	MaxTokens    int
}

var _ core.Node = (*LLMAgentNode)(nil)

func NewLLMAgentNode(id string, client core.AIClient, systemPrompt, model string) *LLMAgentNode {
	return &LLMAgentNode{
		Base:         Base{NodeID: id},
		Client:       client,
		SystemPrompt: systemPrompt,
		Model:        model,
	}
}

func (n *LLMAgentNode) Run(ctx context.Context, rc *core.RunContext) (core.Output, error) {
	prompt := rc.FormattedPrompt
	if prompt == "" {
		if s, ok := rc.Input.(string); ok {
			prompt = s
		}
	}

	start := time.Now()
	resp, err := n.Client.GenerateResponse(ctx, prompt, &core.AIOptions{
		Model:        n.Model,
		Temperature:  n.Temperature,
		MaxTokens:    n.MaxTokens,
		SystemPrompt: n.SystemPrompt,
	})
	durationMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		telemetry.RecordAIRequest(telemetry.ModuleOrchestration, n.Model, durationMs, "error")
		return errorOutput(n.NodeID, fmt.Errorf("llm agent %s: %w", n.NodeID, err)), nil
	}
	telemetry.RecordAIRequest(telemetry.ModuleOrchestration, resp.Model, durationMs, "success")
	telemetry.RecordAITokens(telemetry.ModuleOrchestration, resp.Model, "input", int64(resp.Usage.PromptTokens))
	telemetry.RecordAITokens(telemetry.ModuleOrchestration, resp.Model, "output", int64(resp.Usage.CompletionTokens))

	return successOutput(n.NodeID, resp.Content, map[string]interface{}{
		"model":             resp.Model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
	}), nil
}
