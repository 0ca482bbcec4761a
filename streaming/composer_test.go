package streaming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompose_IncludesAllNonEmptySections(t *testing.T) {
	composer := NewPromptComposer(0, 0, 0, 0)
	snap := Snapshot{
		Invariants: Invariants{Identity: "orka-assistant", Voice: "concise"},
		Intent:     "plan a trip",
		Summary:    "user wants a weekend trip",
		History:    []HistoryEntry{{Role: "user", Content: "hello"}},
	}

	prompt := composer.Compose(snap, "context from a summarizer satellite")

	assert.Contains(t, prompt, "orka-assistant")
	assert.Contains(t, prompt, "plan a trip")
	assert.Contains(t, prompt, "user wants a weekend trip")
	assert.Contains(t, prompt, "context from a summarizer satellite")
	assert.Contains(t, prompt, "hello")
}

func TestCompose_SkipsEmptySections(t *testing.T) {
	composer := NewPromptComposer(0, 0, 0, 0)
	prompt := composer.Compose(Snapshot{Intent: "only intent"}, "")

	assert.Contains(t, prompt, "only intent")
	assert.NotContains(t, prompt, "Summary:")
	assert.NotContains(t, prompt, "History:")
}

func TestTruncateToTokens_KeepsMostRecentContent(t *testing.T) {
	long := strings.Repeat("word ", 100)
	truncated := truncateToTokens(long, 5)

	assert.LessOrEqual(t, estimateTokens(truncated), 5+1) // allow the ellipsis rune's overhead
	assert.True(t, strings.HasSuffix(truncated, "word "), "truncation keeps the tail, not the head")
}

func TestTruncateToTokens_UnboundedWhenBudgetIsZero(t *testing.T) {
	long := strings.Repeat("word ", 100)
	assert.Equal(t, long, truncateToTokens(long, 0))
}
