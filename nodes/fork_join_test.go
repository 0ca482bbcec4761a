package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orkarun/orka/core"
)

func TestForkNode_CreatesGroupAndReportsBranches(t *testing.T) {
	store := newFakeMemoryStore()
	fork := NewForkNode("fork1", []string{"b1", "b2"}, "", store)

	rc := core.NewRunContext(nil, "trace-fork")
	out, err := fork.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, out.Status)

	groupID, _ := out.Metadata["group_id"].(string)
	require.NotEmpty(t, groupID)
	assert.Equal(t, []string{"b1", "b2"}, out.Metadata["branch_ids"])
	assert.Equal(t, []string{"b1", "b2"}, store.expected[groupID])
}

func TestJoinNode_RequeuesUntilAllBranchesComplete(t *testing.T) {
	store := newFakeMemoryStore()
	require.NoError(t, store.ForkGroupCreate(context.Background(), "group1", []string{"b1", "b2"}))

	join := NewJoinNode("join1", "fork1", JoinAll, store)
	rc := core.NewRunContext(nil, "trace-join")
	rc.MergeOutput("fork1", core.Output{Status: core.StatusSuccess, Metadata: map[string]interface{}{"group_id": "group1"}})

	out, err := join.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, true, out.Metadata[MetaRequeueSelf])

	require.NoError(t, store.ForkGroupComplete(context.Background(), "group1", "b1"))
	require.NoError(t, store.ForkGroupComplete(context.Background(), "group1", "b2"))
	rc.MergeOutput("b1", core.Output{Status: core.StatusSuccess, Result: "r1"})
	rc.MergeOutput("b2", core.Output{Status: core.StatusSuccess, Result: "r2"})

	out, err = join.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Nil(t, out.Metadata)
	merged, ok := out.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, merged, 2)

	_, hasGroup := store.expected["group1"]
	assert.False(t, hasGroup, "group record should be deleted after completion")
}
