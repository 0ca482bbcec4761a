package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/jsonx"
)

func TestValidateAndStructureNode_ParsesAndValidates(t *testing.T) {
	schema := jsonx.Schema{Fields: []jsonx.FieldSpec{
		{Name: "approved", Type: jsonx.TypeBool, Required: true},
		{Name: "score", Type: jsonx.TypeNumber, Default: 0.0},
	}}
	node := NewValidateAndStructureNode("vs1", "", schema, nil)

	rc := core.NewRunContext(nil, "trace-vs")
	rc.FormattedPrompt = `here is the result: {"approved": true, "score": 0.8}`

	out, err := node.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, out.Status)
	structured, ok := out.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, structured["approved"])
	assert.Equal(t, 0.8, structured["score"])
}

func TestValidateAndStructureNode_FallsBackToDefaultOnFailure(t *testing.T) {
	schema := jsonx.Schema{Fields: []jsonx.FieldSpec{
		{Name: "approved", Type: jsonx.TypeBool, Required: true},
	}}
	def := map[string]interface{}{"approved": false}
	node := NewValidateAndStructureNode("vs1", "", schema, def)

	rc := core.NewRunContext(nil, "trace-vs-fail")
	rc.FormattedPrompt = "not json at all"

	out, err := node.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, out.Status)
	assert.Equal(t, def, out.Result)
	assert.Equal(t, true, out.Metadata["used_default"])
}
