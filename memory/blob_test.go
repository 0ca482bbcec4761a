package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobDeduplicator_ReplacesSecondOccurrenceOfLargeString(t *testing.T) {
	dedup := NewBlobDeduplicator(10)
	large := strings.Repeat("x", 50)

	tree := map[string]interface{}{
		"a": large,
		"b": large,
	}
	out := dedup.Walk(tree).(map[string]interface{})

	// same content both places; deduplicated output keeps the raw value at
	// its first occurrence and a BlobRef at repeats is only guaranteed once
	// usage has been observed twice across the whole walk.
	_, aIsRef := out["a"].(BlobRef)
	_, bIsRef := out["b"].(BlobRef)
	assert.True(t, aIsRef || bIsRef, "at least one occurrence should be replaced with a blob reference")

	store := dedup.BlobStore()
	assert.Len(t, store, 1)
}

func TestBlobDeduplicator_LeavesSmallValuesAlone(t *testing.T) {
	dedup := NewBlobDeduplicator(1000)
	tree := map[string]interface{}{"a": "short", "b": "short"}
	out := dedup.Walk(tree).(map[string]interface{})
	assert.Equal(t, "short", out["a"])
	assert.Equal(t, "short", out["b"])
	assert.Empty(t, dedup.BlobStore())
}

func TestBlobDeduplicator_BreaksCycles(t *testing.T) {
	dedup := NewBlobDeduplicator(10)
	cyclic := map[string]interface{}{"name": strings.Repeat("y", 20)}
	cyclic["self"] = cyclic

	var out map[string]interface{}
	require.NotPanics(t, func() {
		out = dedup.Walk(cyclic).(map[string]interface{})
	})
	assert.Equal(t, "<circular_reference>", out["self"])
}
