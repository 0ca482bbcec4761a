package memory

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// SearchOptions is the read-path request (spec §4.3.4).
type SearchOptions struct {
	Query                 string
	Limit                 int
	NodeID                string // exact-match filter
	MemoryCategoryFilter  Category
	LogType               string // "memory" -> stored only, "log" -> logs only
	SimilarityThreshold   float64
	EnableTemporalRanking bool
	TemporalDecayHours    float64
	Context               []string // conversation context for context_factor
	ContextWeight         float64
}

// ScoredEntry pairs an Entry with its raw and composed similarity (spec
// §4.3.4 "Output").
type ScoredEntry struct {
	Entry       Entry
	RawScore    float64
	FinalScore  float64
}

// escapeRedisSearchQuery escapes Redis full-text-search special characters
// in an unquoted token (grounded on
// original_source/tests/unit/memory/redisstack/test_search_mixin.py
// test_escape_redis_search_query[_with_underscores]).
func escapeRedisSearchQuery(q string, includeUnderscores bool) string {
	if q == "" {
		return ""
	}
	chars := []string{":", "@", "-"}
	if includeUnderscores {
		chars = append(chars, "_")
	}
	for _, c := range chars {
		q = strings.ReplaceAll(q, c, "\\"+c)
	}
	return q
}

// escapeRedisSearchPhrase escapes quote-breaking characters inside a
// quoted phrase (same grounding file, test_escape_redis_search_phrase).
func escapeRedisSearchPhrase(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "\\\\")
	p = strings.ReplaceAll(p, `"`, `\"`)
	return p
}

// validateSimilarityScore clamps a raw similarity score to [0,1], treating
// NaN/Inf/unparseable input as 0.0 (same grounding file,
// TestSearchMixinValidation).
func validateSimilarityScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.0
	}
	if v < 0 {
		return 0.0
	}
	if v > 1 {
		return 1.0
	}
	return v
}

// expandQueryVariations produces the multi-token query variations spec
// §4.3.4 strategy 2 describes for short-query recall: the original query,
// a reversed-bigram swap, an "about X" phrasing, and a first-and-last-word
// combination.
func expandQueryVariations(query string) []string {
	variations := []string{query}
	tokens := strings.Fields(query)
	if len(tokens) >= 2 {
		reversed := make([]string, len(tokens))
		copy(reversed, tokens)
		reversed[0], reversed[1] = reversed[1], reversed[0]
		variations = append(variations, strings.Join(reversed, " "))
		variations = append(variations, "about "+query)
		variations = append(variations, tokens[0]+" "+tokens[len(tokens)-1])
	}
	return variations
}

// tokenOverlapScore is the keyword-search similarity metric: fraction of
// query tokens present in content, case-insensitive.
func tokenOverlapScore(query, content string) float64 {
	qTokens := strings.Fields(strings.ToLower(query))
	if len(qTokens) == 0 {
		return 0
	}
	lowerContent := strings.ToLower(content)
	hits := 0
	for _, t := range qTokens {
		if strings.Contains(lowerContent, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(qTokens))
}

// cosineSimilarity computes vector similarity for the vector-search
// strategy (spec §4.3.4 strategy 1).
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// lengthFactor implements spec §4.3.4 hybrid re-ranking: a bell curve
// favoring 20-200 word contents, capped at 1.1.
func lengthFactor(content string) float64 {
	words := len(strings.Fields(content))
	if words >= 20 && words <= 200 {
		return 1.1
	}
	if words == 0 {
		return 0.5
	}
	var dist float64
	if words < 20 {
		dist = float64(20-words) / 20
	} else {
		dist = float64(words-200) / 200
	}
	factor := 1.0 - 0.4*dist
	if factor < 0.3 {
		factor = 0.3
	}
	return factor
}

// recencyFactor implements exp(-age_hours / temporal_decay_hours).
func recencyFactor(e Entry, now time.Time, decayHours float64) float64 {
	if decayHours <= 0 {
		return 1.0
	}
	ageHours := now.Sub(time.UnixMilli(e.TimestampMs)).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-ageHours / decayHours)
}

// metadataFactor implements +0.1 per present metadata key up to +0.2, plus
// +0.15 for stored-category entries.
func metadataFactor(e Entry) float64 {
	factor := 1.0
	bonus := 0.1 * float64(len(e.Metadata))
	if bonus > 0.2 {
		bonus = 0.2
	}
	factor += bonus
	if e.Category == CategoryStored {
		factor += 0.15
	}
	return factor
}

// contextFactor implements token-overlap between the content and the
// concatenation of the last three context items, weighted by contextWeight.
func contextFactor(content string, ctx []string, weight float64) float64 {
	if len(ctx) == 0 || weight <= 0 {
		return 1.0
	}
	start := 0
	if len(ctx) > 3 {
		start = len(ctx) - 3
	}
	joined := strings.Join(ctx[start:], " ")
	overlap := tokenOverlapScore(joined, content)
	return 1.0 + weight*overlap
}

var multiSpace = regexp.MustCompile(`\s+`)

// Search implements spec §4.3.4: scan candidate entries, apply filters,
// score via vector (if an embedder produced a query vector) and/or keyword
// overlap, re-rank via the hybrid factors, and return the top Limit results.
func (s *RedisStore) Search(ctx context.Context, opts SearchOptions) ([]ScoredEntry, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	keys, err := s.client.Keys(ctx, entryKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}

	var queryVec []float32
	if s.embedder != nil && opts.Query != "" {
		if v, err := s.embedder.Encode(ctx, opts.Query); err == nil {
			queryVec = v
		}
	}

	now := time.Now()
	variations := expandQueryVariations(opts.Query)

	var out []ScoredEntry
	for _, key := range keys {
		uid := strings.TrimPrefix(key, entryKeyPrefix)
		entry, found, err := s.Get(ctx, uid)
		if err != nil || !found {
			continue
		}
		if entry.IsExpired(now) {
			continue
		}
		if opts.NodeID != "" && entry.NodeID != opts.NodeID {
			continue
		}
		if opts.MemoryCategoryFilter != "" && entry.Category != opts.MemoryCategoryFilter {
			continue
		}
		switch opts.LogType {
		case "memory":
			if entry.Category != CategoryStored {
				continue
			}
		case "log":
			if entry.Category != CategoryLog {
				continue
			}
		}

		raw := 0.0
		if len(queryVec) > 0 && len(entry.Vector) > 0 {
			raw = validateSimilarityScore(cosineSimilarity(queryVec, entry.Vector))
		} else {
			best := 0.0
			for _, v := range variations {
				if score := tokenOverlapScore(v, entry.Content); score > best {
					best = score
				}
			}
			raw = validateSimilarityScore(best)
		}

		if opts.Query != "" && raw == 0 {
			continue
		}
		if opts.SimilarityThreshold > 0 && raw < opts.SimilarityThreshold {
			continue
		}

		final := raw * lengthFactor(entry.Content)
		if opts.EnableTemporalRanking {
			final *= recencyFactor(entry, now, opts.TemporalDecayHours)
		}
		final *= metadataFactor(entry)
		final *= contextFactor(entry.Content, opts.Context, opts.ContextWeight)

		out = append(out, ScoredEntry{Entry: entry, RawScore: raw, FinalScore: final})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FinalScore > out[j].FinalScore })
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
