// Package streaming implements the Streaming Runtime (spec §4.5): a
// long-running per-session reactor that accepts ingress text and state
// patches, maintains a StreamingState, and periodically refreshes an LLM
// completion to an egress channel.
package streaming

import (
	"sync"
)

// maxHistoryEntries bounds StreamingState.History (spec §3 "history
// (bounded)").
const maxHistoryEntries = 50

// Invariants are fixed at session construction and never change after
// (spec §3 StreamingState: "Invariants (immutable after construction):
// identity, voice, refusal policy, tool permissions").
type Invariants struct {
	Identity        string
	Voice           string
	RefusalPolicy   string
	ToolPermissions []string
}

// invariantFields names the patch keys that ApplyPatch rejects.
var invariantFields = map[string]bool{
	"identity":         true,
	"voice":            true,
	"refusal_policy":   true,
	"tool_permissions": true,
}

// HistoryEntry is one turn appended to StreamingState.History.
type HistoryEntry struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// Patch is an ingress state mutation (spec §4.5 "apply_patch(patch,
// provenance) -> new_version"). Fields carries the mutable-field updates;
// recognized keys are "intent", "summary", and "append_history".
type Patch struct {
	Fields      map[string]interface{}
	TimestampMs int64
	Provenance  string
}

// ErrInvariantPatch is returned when a Patch targets an invariant field.
type ErrInvariantPatch struct {
	Field string
}

func (e *ErrInvariantPatch) Error() string {
	return "streaming: patch targets invariant field " + e.Field
}

// ErrStalePatch is returned (non-fatal, caller may log and continue) when a
// patch's timestamp is older than the state's last-patch timestamp (spec
// §4.5 "Last-write-wins by timestamp_ms; older patches ignored").
var ErrStalePatch = staleErr{}

type staleErr struct{}

func (staleErr) Error() string { return "streaming: stale patch ignored" }

// StreamingState is the mutable session state plus its fixed Invariants
// (spec §3 StreamingState entity).
type StreamingState struct {
	mu sync.Mutex

	Invariants Invariants

	Intent               string
	Summary              string
	History              []HistoryEntry
	Version              uint64
	LastPatchTimestampMs int64
}

// NewStreamingState constructs a session state with its invariants fixed.
func NewStreamingState(inv Invariants) *StreamingState {
	return &StreamingState{Invariants: inv}
}

// Snapshot is an immutable copy of the mutable state, safe to read without
// holding the state's lock (used by PromptComposer and trace persistence).
type Snapshot struct {
	Invariants           Invariants
	Intent               string
	Summary              string
	History              []HistoryEntry
	Version              uint64
	LastPatchTimestampMs int64
}

// Snapshot returns a copy of the current state.
func (s *StreamingState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]HistoryEntry, len(s.History))
	copy(history, s.History)
	return Snapshot{
		Invariants:           s.Invariants,
		Intent:               s.Intent,
		Summary:              s.Summary,
		History:              history,
		Version:              s.Version,
		LastPatchTimestampMs: s.LastPatchTimestampMs,
	}
}

// ApplyPatch applies patch to the mutable part of the state and returns the
// new version (spec §4.5 "apply_patch(patch, provenance) -> new_version.
// Last-write-wins by timestamp_ms; older patches ignored. Patches to
// invariant fields fail.").
func (s *StreamingState) ApplyPatch(patch Patch) (uint64, error) {
	for field := range patch.Fields {
		if invariantFields[field] {
			return 0, &ErrInvariantPatch{Field: field}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if patch.TimestampMs < s.LastPatchTimestampMs {
		return s.Version, ErrStalePatch
	}

	if intent, ok := patch.Fields["intent"].(string); ok {
		s.Intent = intent
	}
	if summary, ok := patch.Fields["summary"].(string); ok {
		s.Summary = summary
	}
	if entry, ok := patch.Fields["append_history"].(HistoryEntry); ok {
		s.History = append(s.History, entry)
		if len(s.History) > maxHistoryEntries {
			s.History = s.History[len(s.History)-maxHistoryEntries:]
		}
	}

	s.Version++
	s.LastPatchTimestampMs = patch.TimestampMs
	return s.Version, nil
}

// MergeSatelliteResult folds a satellite's output (e.g. a summarizer's
// refreshed summary) back into state without advancing LastPatchTimestampMs,
// which ApplyPatch uses for stale-patch detection (spec §4.5 Satellites: "on success,
// merge its output back into state").
func (s *StreamingState) MergeSatelliteResult(field, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch field {
	case "summary":
		s.Summary = value
	case "intent":
		s.Intent = value
	}
	s.Version++
}

// HasContent reports whether the state carries anything worth composing a
// prompt from (spec §4.5 Refresh: "If no content (no intent/summary/
// history), skip.").
func (snap Snapshot) HasContent() bool {
	return snap.Intent != "" || snap.Summary != "" || len(snap.History) > 0
}
