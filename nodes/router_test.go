package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orkarun/orka/core"
)

func TestRouterNode_MatchesFirstTrueCondition(t *testing.T) {
	router := NewRouterNode("router1", []RouterBranch{
		{Name: "low", Expression: "outputs.score.value < 0.5", Queue: []string{"retry"}},
		{Name: "high", Expression: "outputs.score.value >= 0.5", Queue: []string{"accept"}},
	}, []string{"fallback"})

	rc := core.NewRunContext(nil, "trace-router")
	rc.MergeOutput("score", core.Output{Status: core.StatusSuccess, Result: 0.9})

	out, err := router.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, out.Status)
	assert.Equal(t, []string{"accept"}, out.Metadata[MetaNextQueue])

	payload, ok := out.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "high", payload["matched_branch"])
}

func TestRouterNode_FallsBackToDefault(t *testing.T) {
	router := NewRouterNode("router1", []RouterBranch{
		{Name: "never", Expression: "1 == 2", Queue: []string{"never"}},
	}, []string{"fallback"})

	rc := core.NewRunContext(nil, "trace-router-default")
	out, err := router.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback"}, out.Metadata[MetaNextQueue])
}

func TestRouterNode_InvalidExpressionReturnsError(t *testing.T) {
	router := NewRouterNode("router1", []RouterBranch{
		{Name: "broken", Expression: "outputs.(((", Queue: []string{"x"}},
	}, nil)

	rc := core.NewRunContext(nil, "trace-router-broken")
	out, err := router.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, core.StatusError, out.Status)
}
