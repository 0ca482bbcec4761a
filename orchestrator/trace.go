package orchestrator

import (
	"encoding/json"
	"os"
	"time"

	"github.com/orkarun/orka/memory"
)

// TraceEvent is one entry in a trace file's events list (spec §6 "Trace
// file layout": "events: [{step, agent_id, event_type, payload,
// timestamp}]").
type TraceEvent struct {
	Step      int         `json:"step"`
	AgentID   string      `json:"agent_id"`
	EventType string      `json:"event_type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// TraceMetadata is the trace file's _metadata block.
type TraceMetadata struct {
	DeduplicationEnabled bool           `json:"deduplication_enabled"`
	Stats                map[string]int `json:"stats"`
}

// Trace is the full document written to disk per run (spec §6 "Trace file
// layout").
type Trace struct {
	Metadata     TraceMetadata          `json:"_metadata"`
	BlobStore    map[string]interface{} `json:"blob_store,omitempty"`
	Events       []TraceEvent           `json:"events"`
	MetaReport   *ErrorReport           `json:"meta_report,omitempty"`
	CostAnalysis map[string]interface{} `json:"cost_analysis,omitempty"`
}

// BuildTrace converts a RunResult's logs into a deduplicated Trace document
// (spec §9 "Blob deduplication": "Before persisting a trace, walk it; any
// dict > threshold is replaced with a reference and cached by content
// hash").
func BuildTrace(result *RunResult, report *ErrorReport, costAnalysis map[string]interface{}) *Trace {
	dedup := memory.NewBlobDeduplicator(memory.BlobThresholdBytes)

	events := make([]TraceEvent, 0, len(result.Logs))
	for _, entry := range result.Logs {
		payload := dedup.Walk(map[string]interface{}{
			"result":       entry.Payload.Result,
			"status":       entry.Payload.Status,
			"error":        entry.Payload.Error,
			"component_id": entry.Payload.ComponentID,
			"metadata":     entry.Payload.Metadata,
		})
		events = append(events, TraceEvent{
			Step:      entry.StepIndex,
			AgentID:   entry.AgentID,
			EventType: "node_execution",
			Payload:   payload,
			Timestamp: entry.Timestamp,
		})
	}

	blobStore := dedup.BlobStore()
	return &Trace{
		Metadata: TraceMetadata{
			DeduplicationEnabled: true,
			Stats:                map[string]int{"blobs_deduplicated": len(blobStore), "events": len(events)},
		},
		BlobStore:    blobStore,
		Events:       events,
		MetaReport:   report,
		CostAnalysis: costAnalysis,
	}
}

// WriteFile serializes t as indented JSON to path (spec §6 "Trace file
// layout" is a JSON document written per run).
func (t *Trace) WriteFile(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
