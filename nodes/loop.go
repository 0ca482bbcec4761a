package nodes

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/jsonx"
	"github.com/orkarun/orka/memory"
)

// ScoreStrategy is one entry in a Loop node's score-extraction chain
// (SPEC_FULL.md §C.2, grounded on loop_node.py's _extract_score family:
// _extract_direct_key, _extract_agent_key, _extract_nested_path,
// _extract_pattern, _extract_secondary_metric).
type ScoreStrategy struct {
	Type     string   // "direct_key" | "agent_key" | "nested_path" | "pattern" | "secondary_metric"
	Key      string   // direct_key / nested_path (dotted) / secondary_metric name
	Agents   []string // agent_key: substrings matched case-insensitively against result keys
	Patterns []string // pattern: regexes with one capture group
}

// CognitiveExtractionConfig configures insights/improvements/mistakes
// extraction (SPEC_FULL.md §C.1).
type CognitiveExtractionConfig struct {
	Enabled              bool
	ExtractPatterns      map[string][]string // category -> regex list, each with one capture group
	AgentPriorities      map[string][]string // agent id -> categories to extract from its text
	MaxLengthPerCategory int
}

// LoopNode executes an embedded workflow up to MaxLoops times, extracting a
// score and cognitive insights from each iteration's result, appending a
// PastLoop record, and terminating early once ScoreThreshold is met (spec
// §4.4.4).
type LoopNode struct {
	Base
	MaxLoops            int
	ScoreThreshold      float64
	ScoreStrategies     []ScoreStrategy
	CognitiveExtraction CognitiveExtractionConfig
	PersistAcrossRuns   bool
	Store               memory.Store
	Runner              SubRunner
}

// SubRunner executes a nested workflow for one loop iteration, returning
// the nested run's previous_outputs map. The orchestrator supplies this
// callback after compiling the Loop's embedded NodeConfig graph, avoiding a
// nodes -> orchestrator import cycle.
type SubRunner func(ctx context.Context, input interface{}, pastLoops []core.PastLoop, loopNumber int) (map[string]core.Output, error)

var _ core.Node = (*LoopNode)(nil)

func NewLoopNode(id string, maxLoops int, scoreThreshold float64, strategies []ScoreStrategy, cognitive CognitiveExtractionConfig, persist bool, store memory.Store, runner SubRunner) *LoopNode {
	if maxLoops <= 0 {
		maxLoops = 5
	}
	if scoreThreshold <= 0 {
		scoreThreshold = 0.8
	}
	return &LoopNode{
		Base:                Base{NodeID: id},
		MaxLoops:            maxLoops,
		ScoreThreshold:      scoreThreshold,
		ScoreStrategies:     strategies,
		CognitiveExtraction: cognitive,
		PersistAcrossRuns:   persist,
		Store:               store,
		Runner:              runner,
	}
}

func (l *LoopNode) Run(ctx context.Context, rc *core.RunContext) (core.Output, error) {
	var pastLoops []core.PastLoop
	if l.PersistAcrossRuns && l.Store != nil {
		loaded, err := l.Store.PastLoopsLoad(ctx, l.NodeID)
		if err == nil {
			pastLoops = loaded
		}
	}

	var lastResult map[string]core.Output
	for current := 0; current < l.MaxLoops; current++ {
		result, err := l.Runner(ctx, rc.Input, pastLoops, current+1)
		if err != nil {
			return errorOutput(l.NodeID, fmt.Errorf("loop %s: iteration %d: %w", l.NodeID, current+1, err)), nil
		}
		lastResult = result

		resultMap := outputsToMap(result)
		score := l.extractScore(resultMap)
		insights := l.extractCognitiveInsights(resultMap)
		safeResult := sanitizeResult(resultMap, nil)

		pastLoops = append(pastLoops, core.PastLoop{
			LoopNumber:   current + 1,
			Score:        score,
			Timestamp:    time.Now(),
			Insights:     insights["insights"],
			Improvements: insights["improvements"],
			Mistakes:     insights["mistakes"],
			Result:       asMap(safeResult),
		})

		if l.PersistAcrossRuns && l.Store != nil {
			_ = l.Store.PastLoopsSave(ctx, l.NodeID, pastLoops)
		}

		if score >= l.ScoreThreshold {
			return l.finalOutput(resultMap, pastLoops, true), nil
		}
	}

	return l.finalOutput(outputsToMap(lastResult), pastLoops, false), nil
}

func (l *LoopNode) finalOutput(resultMap map[string]interface{}, pastLoops []core.PastLoop, thresholdMet bool) core.Output {
	return successOutput(l.NodeID, map[string]interface{}{
		"result":        sanitizeResult(resultMap, nil),
		"threshold_met": thresholdMet,
		"loops_completed": len(pastLoops),
		"past_loops":    pastLoops,
	}, nil)
}

func outputsToMap(outs map[string]core.Output) map[string]interface{} {
	m := make(map[string]interface{}, len(outs))
	for id, out := range outs {
		m[id] = map[string]interface{}{
			"status": string(out.Status),
			"result": out.Result,
		}
	}
	return m
}

func asMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"value": v}
}

// extractScore runs the ordered strategy chain (SPEC_FULL.md §C.2): the
// first strategy producing a usable value wins; an unconfigured or
// entirely non-matching chain yields 0.0.
func (l *LoopNode) extractScore(result map[string]interface{}) float64 {
	if len(result) == 0 {
		return 0.0
	}
	for _, strat := range l.ScoreStrategies {
		var (
			v  float64
			ok bool
		)
		switch strat.Type {
		case "direct_key":
			v, ok = extractDirectKey(result, strat.Key)
		case "agent_key":
			v, ok = extractAgentKey(result, strat.Agents, strat.Key)
		case "nested_path":
			v, ok = extractNestedPath(result, strat.Key)
		case "pattern":
			v, ok = extractPattern(result, strat.Patterns)
		case "secondary_metric":
			if raw, found := extractSecondaryMetric(result, strat.Key); found {
				if f, isFloat := jsonx.CoerceFloat(raw); isFloat {
					v, ok = f, true
				}
			}
		}
		if ok {
			return v
		}
	}
	return 0.0
}

func extractDirectKey(result map[string]interface{}, key string) (float64, bool) {
	v, exists := result[key]
	if !exists {
		return 0, false
	}
	return jsonx.CoerceFloat(v)
}

func extractAgentKey(result map[string]interface{}, agents []string, key string) (float64, bool) {
	for agentID, v := range result {
		if len(agents) > 0 && !matchesAnyLower(agentID, agents) {
			continue
		}
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if val, exists := m[key]; exists {
			if f, isFloat := jsonx.CoerceFloat(val); isFloat {
				return f, true
			}
		}
		for _, nestedKey := range []string{"response", "result", "output", "data"} {
			nested, exists := m[nestedKey]
			if !exists {
				continue
			}
			if nm, ok := nested.(map[string]interface{}); ok {
				if val, exists := nm[key]; exists {
					if f, isFloat := jsonx.CoerceFloat(val); isFloat {
						return f, true
					}
				}
			}
			if s, ok := nested.(string); ok {
				if parsed, err := jsonx.Extract(s); err == nil {
					if pm, ok := parsed.(map[string]interface{}); ok {
						if val, exists := pm[key]; exists {
							if f, isFloat := jsonx.CoerceFloat(val); isFloat {
								return f, true
							}
						}
					}
				}
				if v, ok := extractByKeyPattern(s, key); ok {
					return v, true
				}
			}
		}
	}
	return 0, false
}

func extractNestedPath(result map[string]interface{}, path string) (float64, bool) {
	if path == "" {
		return 0, false
	}
	var current interface{} = result
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return 0, false
		}
		current, ok = m[part]
		if !ok {
			return 0, false
		}
	}
	return jsonx.CoerceFloat(current)
}

func extractPattern(result map[string]interface{}, patterns []string) (float64, bool) {
	text := fmt.Sprintf("%v", result)
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func extractSecondaryMetric(result map[string]interface{}, metricKey string) (interface{}, bool) {
	for _, v := range result {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		for _, nestedKey := range []string{"response", "result", "output", "data"} {
			nested, exists := m[nestedKey]
			if !exists {
				continue
			}
			if nm, ok := nested.(map[string]interface{}); ok {
				if val, exists := nm[metricKey]; exists {
					return val, true
				}
			}
			if s, ok := nested.(string); ok {
				if parsed, err := jsonx.Extract(s); err == nil {
					if pm, ok := parsed.(map[string]interface{}); ok {
						if val, exists := pm[metricKey]; exists {
							return val, true
						}
					}
				}
			}
		}
	}
	return nil, false
}

func extractByKeyPattern(text, key string) (float64, bool) {
	pattern := fmt.Sprintf(`['"]?%s['"]?\s*:\s*([0-9.]+)`, regexp.QuoteMeta(key))
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, false
	}
	if m := re.FindStringSubmatch(text); len(m) > 1 {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func matchesAnyLower(s string, candidates []string) bool {
	lower := strings.ToLower(s)
	for _, c := range candidates {
		if strings.Contains(lower, strings.ToLower(c)) {
			return true
		}
	}
	return false
}

// extractCognitiveInsights implements SPEC_FULL.md §C.1: per-category
// regex extraction gated by per-agent priority ordering, deduplicated
// case-insensitively, joined with " | " and truncated to MaxLengthPerCategory.
func (l *LoopNode) extractCognitiveInsights(result map[string]interface{}) map[string]string {
	out := map[string]string{"insights": "", "improvements": "", "mistakes": ""}
	if !l.CognitiveExtraction.Enabled || len(l.CognitiveExtraction.ExtractPatterns) == 0 {
		return out
	}
	maxLen := l.CognitiveExtraction.MaxLengthPerCategory
	if maxLen <= 0 {
		maxLen = 300
	}

	extracted := map[string][]string{"insights": {}, "improvements": {}, "mistakes": {}}

	agentIDs := make([]string, 0, len(result))
	for id := range result {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	for _, agentID := range agentIDs {
		text := fmt.Sprintf("%v", result[agentID])
		categories := l.CognitiveExtraction.AgentPriorities[agentID]
		for _, category := range categories {
			if category != "insights" && category != "improvements" && category != "mistakes" {
				continue
			}
			patterns := l.CognitiveExtraction.ExtractPatterns[category]
			for _, p := range patterns {
				re, err := regexp.Compile("(?i)" + p)
				if err != nil {
					continue
				}
				for _, m := range re.FindAllStringSubmatch(text, -1) {
					if len(m) < 2 {
						continue
					}
					insight := strings.TrimSpace(m[1])
					if len(insight) > 10 {
						extracted[category] = append(extracted[category], insight)
					}
				}
			}
		}
	}

	for _, category := range []string{"insights", "improvements", "mistakes"} {
		items := extracted[category]
		if len(items) == 0 {
			continue
		}
		seen := map[string]bool{}
		var unique []string
		for _, item := range items {
			key := strings.ToLower(item)
			if !seen[key] {
				seen[key] = true
				unique = append(unique, item)
			}
		}
		combined := strings.Join(unique, " | ")
		if len(combined) > maxLen {
			combined = combined[:maxLen] + "..."
		}
		out[category] = combined
	}
	return out
}

// sanitizeResult recursively copies v, replacing on-path revisits with
// "<circular_reference>", excluding "previous_outputs"/"payload" keys, and
// truncating long string renderings to 1000 characters (SPEC_FULL.md §C.3).
func sanitizeResult(v interface{}, seen map[interface{}]bool) interface{} {
	if seen == nil {
		seen = map[interface{}]bool{}
	}
	switch t := v.(type) {
	case nil, string, int, int64, float64, bool:
		return t
	case map[string]interface{}:
		if seen[pointerKeyForMap(t)] {
			return "<circular_reference>"
		}
		branch := copySeenAny(seen)
		branch[pointerKeyForMap(t)] = true
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if k == "previous_outputs" || k == "payload" {
				continue
			}
			out[k] = sanitizeResult(val, branch)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = sanitizeResult(val, seen)
		}
		return out
	default:
		s := fmt.Sprintf("%v", t)
		if len(s) > 1000 {
			return s[:1000] + "..."
		}
		return s
	}
}

func copySeenAny(seen map[interface{}]bool) map[interface{}]bool {
	out := make(map[interface{}]bool, len(seen)+1)
	for k, v := range seen {
		out[k] = v
	}
	return out
}

func pointerKeyForMap(m map[string]interface{}) interface{} {
	return fmt.Sprintf("%p", m)
}
