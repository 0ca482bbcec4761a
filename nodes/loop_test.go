package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orkarun/orka/core"
)

func constRunner(scores []float64) SubRunner {
	call := 0
	return func(ctx context.Context, input interface{}, pastLoops []core.PastLoop, loopNumber int) (map[string]core.Output, error) {
		idx := call
		if idx >= len(scores) {
			idx = len(scores) - 1
		}
		call++
		return map[string]core.Output{
			"evaluator": {Status: core.StatusSuccess, Result: map[string]interface{}{"score": scores[idx]}},
		}, nil
	}
}

func TestLoopNode_TerminatesOnThreshold(t *testing.T) {
	strategies := []ScoreStrategy{{Type: "agent_key", Agents: []string{"evaluator"}, Key: "score"}}
	loop := NewLoopNode("loop1", 5, 0.8, strategies, CognitiveExtractionConfig{}, false, nil,
		constRunner([]float64{0.3, 0.5, 0.9}))

	rc := core.NewRunContext("start", "trace-loop")
	out, err := loop.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, out.Status)

	payload, ok := out.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, payload["threshold_met"])
	assert.Equal(t, 3, payload["loops_completed"])
}

func TestLoopNode_StopsAtMaxLoopsWithoutThreshold(t *testing.T) {
	strategies := []ScoreStrategy{{Type: "agent_key", Agents: []string{"evaluator"}, Key: "score"}}
	loop := NewLoopNode("loop1", 2, 0.95, strategies, CognitiveExtractionConfig{}, false, nil,
		constRunner([]float64{0.1, 0.2}))

	rc := core.NewRunContext("start", "trace-loop-2")
	out, err := loop.Run(context.Background(), rc)
	require.NoError(t, err)

	payload, ok := out.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, payload["threshold_met"])
	assert.Equal(t, 2, payload["loops_completed"])
}

func TestExtractDirectKey(t *testing.T) {
	v, ok := extractDirectKey(map[string]interface{}{"score": 0.75}, "score")
	require.True(t, ok)
	assert.Equal(t, 0.75, v)

	_, ok = extractDirectKey(map[string]interface{}{}, "score")
	assert.False(t, ok)
}
