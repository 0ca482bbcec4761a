package streaming

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/orkarun/orka/core"
)

// refresh performs one Refresh cycle (spec §4.5 "Refresh: rotate executor
// instance id, compose prompt, stream chunks from the LLM client, publish
// each chunk to egress, and publish a final marker. If no content (no
// intent/summary/history), skip.") followed by any configured Satellites.
func (s *Session) refresh(ctx context.Context) {
	snap := s.State.Snapshot()
	if !snap.HasContent() {
		return
	}

	var span core.Span
	ctx, span = s.Telemetry.StartSpan(ctx, "streaming.refresh")
	span.SetAttribute("orka.session_id", s.ID)
	span.SetAttribute("orka.state_version", snap.Version)
	defer span.End()

	s.setStatus(StatusRefreshing)
	defer s.setStatus(StatusActive)

	s.mu.Lock()
	s.unrefreshedDelta = 0
	satelliteSummary := s.lastSatelliteSummary
	s.mu.Unlock()

	executorID := uuid.NewString()
	span.SetAttribute("orka.executor_instance_id", executorID)
	prompt := s.Cfg.Composer.Compose(snap, satelliteSummary)

	s.streamCompletion(ctx, executorID, prompt, snap.Version)
	s.runSatellites(ctx, snap)
}

// streamCompletion drives the LLM call for one refresh, preferring a
// streaming client (spec §1 stream_complete) and falling back to a single
// non-streaming completion when the configured client doesn't support it.
func (s *Session) streamCompletion(ctx context.Context, executorID, prompt string, version uint64) {
	if streamer, ok := s.Client.(core.StreamingAIClient); ok && streamer.SupportsStreaming() {
		chunkIndex := 0
		_, err := streamer.StreamResponse(ctx, prompt, nil, func(chunk core.StreamChunk) error {
			if s.currentExecutorStale(executorID) {
				return context.Canceled
			}
			s.publishEgressChunk(executorID, version, chunk.Content, chunkIndex, false)
			chunkIndex++
			return nil
		})
		if err != nil && err != core.ErrStreamPartiallyCompleted {
			s.publishAlert("refresh stream failed: "+err.Error(), "refresh")
		}
		s.publishEgressChunk(executorID, version, "", chunkIndex, true)
		return
	}

	resp, err := s.Client.GenerateResponse(ctx, prompt, nil)
	if err != nil {
		s.publishAlert("refresh completion failed: "+err.Error(), "refresh")
		s.publishEgressChunk(executorID, version, "", 0, true)
		return
	}
	s.publishEgressChunk(executorID, version, resp.Content, 0, false)
	s.publishEgressChunk(executorID, version, "", 1, true)
}

// currentExecutorStale reports whether a stream in flight under executorID
// has been superseded by a newer refresh (spec §4.5 ordering guarantee:
// "readers must discard chunks whose id does not match the currently
// active refresh"). Since refresh runs synchronously within the main loop
// in this implementation, staleness can only arise if Shutdown raced the
// stream; checked via session status rather than a separate id field.
func (s *Session) currentExecutorStale(executorID string) bool {
	return s.Status() == StatusShutdown
}

func (s *Session) publishEgressChunk(executorID string, version uint64, content string, index int, final bool) {
	s.Bus.Publish(WireMessage{
		Channel: s.ID + ".egress",
		Type:    TypeEgress,
		Payload: map[string]interface{}{
			"content": content,
			"index":   index,
			"final":   final,
		},
		TimestampMs:        nowMs(),
		Source:             "refresh",
		StateVersion:       version,
		ExecutorInstanceID: executorID,
	})
}

// runSatellites calls each configured satellite's LLM with a role-specific
// prompt, merging successes back into state and alerting on failure (spec
// §4.5 Satellites).
func (s *Session) runSatellites(ctx context.Context, snap Snapshot) {
	for _, sat := range s.Cfg.Satellites {
		if sat.Client == nil {
			continue
		}
		base := s.Cfg.Composer.Compose(snap, "")
		prompt := strings.ReplaceAll(sat.PromptTemplate, "{{state}}", base)

		resp, err := sat.Client.GenerateResponse(ctx, prompt, nil)
		if err != nil {
			s.publishAlert("satellite "+sat.Role+" failed: "+err.Error(), "satellite:"+sat.Role)
			continue
		}

		s.State.MergeSatelliteResult(sat.MergeField, resp.Content)
		if sat.MergeField == "summary" {
			s.mu.Lock()
			s.lastSatelliteSummary = resp.Content
			s.mu.Unlock()
		}
	}
}

// traceDocument is the file persisted by Shutdown (ambient stack A.1/A.3
// idiom: structured JSON, mirrors orchestrator.Trace's shape for the
// Streaming Runtime's own session history).
type traceDocument struct {
	SessionID string        `json:"session_id"`
	State     Snapshot      `json:"state"`
	Events    []WireMessage `json:"events"`
}

func (s *Session) writeTrace(path string) error {
	snap := s.State.Snapshot()
	events, unsubscribe := s.Bus.Subscribe(0)
	defer unsubscribe()
	doc := traceDocument{SessionID: s.ID, State: snap}
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				data, err := json.MarshalIndent(doc, "", "  ")
				if err != nil {
					return err
				}
				return os.WriteFile(path, data, 0o644)
			}
			doc.Events = append(doc.Events, msg)
		default:
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			return os.WriteFile(path, data, 0o644)
		}
	}
}
