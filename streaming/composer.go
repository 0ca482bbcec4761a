package streaming

import (
	"fmt"
	"strings"
)

// estimateTokens is a rough token count (teacher's own heuristic, ui/
// chat_agent.go: "TokenCount: len(message) / 4 // Rough estimate").
func estimateTokens(s string) int {
	return len(s) / 4
}

// Section is one named, independently-budgeted part of a composed prompt
// (spec §4.5 PromptComposer: "assembles a prompt within a global token
// budget (sections have individual budgets)").
type Section struct {
	Name   string
	Text   string
	Budget int // max tokens for this section; 0 means unbounded
}

// PromptComposer assembles a prompt from a StreamingState snapshot plus an
// optional satellite summary, respecting a global token budget and
// per-section budgets.
type PromptComposer struct {
	GlobalBudget    int
	HistoryBudget   int
	SummaryBudget   int
	SatelliteBudget int
}

// NewPromptComposer returns a composer with the given budgets (tokens).
func NewPromptComposer(globalBudget, historyBudget, summaryBudget, satelliteBudget int) *PromptComposer {
	return &PromptComposer{
		GlobalBudget:    globalBudget,
		HistoryBudget:   historyBudget,
		SummaryBudget:   summaryBudget,
		SatelliteBudget: satelliteBudget,
	}
}

// Compose builds the prompt text for snap, optionally including a
// satellite-produced summary (e.g. from a "summarizer" satellite role).
// Each section is truncated independently to its budget, then the whole
// assembly is truncated to GlobalBudget if it still overflows.
func (c *PromptComposer) Compose(snap Snapshot, satelliteSummary string) string {
	sections := make([]Section, 0, 4)

	if snap.Invariants.Identity != "" || snap.Invariants.Voice != "" {
		sections = append(sections, Section{
			Name: "identity",
			Text: fmt.Sprintf("Identity: %s\nVoice: %s", snap.Invariants.Identity, snap.Invariants.Voice),
		})
	}
	if snap.Intent != "" {
		sections = append(sections, Section{Name: "intent", Text: "Intent: " + snap.Intent})
	}
	if snap.Summary != "" {
		sections = append(sections, Section{Name: "summary", Text: "Summary: " + snap.Summary, Budget: c.SummaryBudget})
	}
	if satelliteSummary != "" {
		sections = append(sections, Section{Name: "satellite_summary", Text: "Additional context: " + satelliteSummary, Budget: c.SatelliteBudget})
	}
	if len(snap.History) > 0 {
		sections = append(sections, Section{Name: "history", Text: formatHistory(snap.History), Budget: c.HistoryBudget})
	}

	for i, s := range sections {
		sections[i].Text = truncateToTokens(s.Text, s.Budget)
	}

	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.Text)
	}

	return truncateToTokens(b.String(), c.GlobalBudget)
}

func formatHistory(history []HistoryEntry) string {
	var b strings.Builder
	b.WriteString("History:")
	for _, h := range history {
		b.WriteString(fmt.Sprintf("\n%s: %s", h.Role, h.Content))
	}
	return b.String()
}

// truncateToTokens trims s from the front (keeping the most recent content)
// so its estimated token count fits budget. budget <= 0 means unbounded.
func truncateToTokens(s string, budget int) string {
	if budget <= 0 || estimateTokens(s) <= budget {
		return s
	}
	maxChars := budget * 4
	if maxChars >= len(s) {
		return s
	}
	return "…" + s[len(s)-maxChars:]
}
