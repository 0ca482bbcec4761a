// Package memory implements the OrKa Memory Store (spec §4.3): a
// key-value + vector index with TTL, category/type classification, a decay
// scheduler, and keyword/vector/hybrid search. Grounded on the teacher's
// core/memory_store.go (in-memory TTL-cache shape, metrics/logger wiring)
// and core/redis_client.go (Redis connection-building idiom), generalized
// per original_source/orka/contracts.py's MemoryEntry and the
// original_source decay/search mixin test suites.
package memory

import (
	"time"
)

// MemoryType governs base expiry and retrieval priority (spec §3 Glossary).
type MemoryType string

const (
	ShortTerm MemoryType = "short_term"
	LongTerm  MemoryType = "long_term"
)

// Category distinguishes persisted knowledge from orchestration events
// (spec §3 Glossary, §4.3.5).
type Category string

const (
	CategoryStored Category = "stored"
	CategoryLog    Category = "log"
)

// Entry is a record in the Memory Store (spec §3 "MemoryEntry").
type Entry struct {
	ID              string                 `json:"id"`
	Content         string                 `json:"content"`
	NodeID          string                 `json:"node_id"`
	TraceID         string                 `json:"trace_id"`
	TimestampMs     int64                  `json:"timestamp_ms"`
	ImportanceScore float64                `json:"importance_score"`
	MemoryType      MemoryType             `json:"memory_type"`
	Category        Category               `json:"category"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Vector          []float32              `json:"vector,omitempty"`
	ExpireAtMs      *int64                 `json:"expire_at_ms,omitempty"`
}

// IsExpired reports whether e's expiry (if any) is in the past relative to
// now. An entry with no ExpireAtMs never expires (spec §3 invariant).
func (e Entry) IsExpired(now time.Time) bool {
	if e.ExpireAtMs == nil {
		return false
	}
	return *e.ExpireAtMs < now.UnixMilli()
}

// WriteRequest is the input to the write path (spec §4.3.1).
type WriteRequest struct {
	Content            string
	NodeID             string
	TraceID            string
	Metadata           map[string]interface{}
	MemoryType         MemoryType // optional override
	Category           Category   // optional override
	ExpiryHours        float64    // optional override, 0 = use decay config
	AgentDecayConfig   *DecayConfig
	EventType          string // e.g. "write", "result" -- drives importance boost
	AgentName          string
}

// DecayConfig controls expiry computation (spec §4.3.1 step 4).
type DecayConfig struct {
	Enabled              bool
	ShortTermHours       float64
	LongTermHours        float64
	CheckIntervalMinutes float64
	LongTermEventTypes   []string
}

// DefaultDecayConfig mirrors the original implementation's defaults: short
// term entries live an hour, long term a month, swept every five minutes.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		Enabled:              true,
		ShortTermHours:       1,
		LongTermHours:        24 * 30,
		CheckIntervalMinutes: 5,
		LongTermEventTypes:   []string{"write", "result", "success"},
	}
}

// Merge deep-merges override on top of base: scalar fields in override win
// when non-zero, LongTermEventTypes from override wins when non-empty
// (spec SPEC_FULL.md §C.7, grounded on agent_factory.py's per-agent
// decay-config deep merge).
func (base DecayConfig) Merge(override *DecayConfig) DecayConfig {
	if override == nil {
		return base
	}
	merged := base
	if override.ShortTermHours != 0 {
		merged.ShortTermHours = override.ShortTermHours
	}
	if override.LongTermHours != 0 {
		merged.LongTermHours = override.LongTermHours
	}
	if override.CheckIntervalMinutes != 0 {
		merged.CheckIntervalMinutes = override.CheckIntervalMinutes
	}
	if len(override.LongTermEventTypes) > 0 {
		merged.LongTermEventTypes = override.LongTermEventTypes
	}
	merged.Enabled = override.Enabled || base.Enabled
	return merged
}
