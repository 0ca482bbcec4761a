package memory

import "strings"

// ComputeImportance implements spec §4.3.1 step 2: base 0.5 plus an
// event-type boost, plus an agent-name boost for memory-related agents,
// minus a penalty if the payload carries an error, clamped to [0,1].
func ComputeImportance(req WriteRequest) float64 {
	score := 0.5

	switch req.EventType {
	case "write":
		score += 0.3
	case "result":
		score += 0.2
	}

	if isMemoryAgentName(req.AgentName) {
		score += 0.2
	}

	if hasErrorMarker(req.Metadata) {
		score -= 0.1
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func isMemoryAgentName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "memory-writer") ||
		strings.Contains(lower, "memory_writer") ||
		strings.Contains(lower, "memory-reader") ||
		strings.Contains(lower, "memory_reader")
}

func hasErrorMarker(metadata map[string]interface{}) bool {
	if metadata == nil {
		return false
	}
	if _, ok := metadata["error"]; ok {
		return true
	}
	return false
}

// ClassifyCategory implements spec §4.3.5: a memory is "stored" iff an
// explicit log_type of "memory" was given, the agent name carries a
// persistence marker, or the payload carries content/memory_object/memories
// keys; otherwise it is "log".
func ClassifyCategory(req WriteRequest, metadata map[string]interface{}) Category {
	if req.Category != "" {
		return req.Category
	}
	if logType, ok := metadata["log_type"].(string); ok && logType == "memory" {
		return CategoryStored
	}
	if isMemoryAgentName(req.AgentName) {
		return CategoryStored
	}
	if _, ok := metadata["memory_object"]; ok {
		return CategoryStored
	}
	if _, ok := metadata["memories"]; ok {
		return CategoryStored
	}
	if req.Content != "" {
		return CategoryStored
	}
	return CategoryLog
}

// ClassifyMemoryType implements spec §4.3.1 step 3: a log-category entry is
// always short_term; a stored entry is long_term if its event type is
// configured as a "long-term event" or importance_score >= 0.7.
func ClassifyMemoryType(req WriteRequest, category Category, importance float64, decay DecayConfig) MemoryType {
	if req.MemoryType != "" {
		return req.MemoryType
	}
	if category == CategoryLog {
		return ShortTerm
	}
	for _, t := range decay.LongTermEventTypes {
		if t == req.EventType {
			return LongTerm
		}
	}
	if importance >= 0.7 {
		return LongTerm
	}
	return ShortTerm
}

// ComputeExpiry implements spec §4.3.1 step 4: when decay is disabled,
// there is no expiry; otherwise the base hours for the entry's memory type
// are scaled by (1 + importance_score).
func ComputeExpiry(memType MemoryType, importance float64, decay DecayConfig) (hours float64, hasExpiry bool) {
	if !decay.Enabled {
		return 0, false
	}
	base := decay.ShortTermHours
	if memType == LongTerm {
		base = decay.LongTermHours
	}
	return base * (1 + importance), true
}
