// Package jsonx extracts and repairs structured JSON from free-form LLM
// text (spec §4.7), and coerces it against a caller-declared schema.
//
// Grounded on spec §4.7's literal algorithm plus the string-repair
// tolerance documented in original_source/orka/nodes/loop_node.py's
// _extract_score/_extract_pattern helpers, which fall back through
// several parse strategies (direct JSON, Python-literal-ish syntax,
// regex-extracted numeric/boolean fragments) before giving up.
package jsonx

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrParseFailed is returned (wrapped with context) when every extraction
// strategy is exhausted and the caller supplied no default.
type ErrParseFailed struct {
	Reason string
	Text   string
}

func (e *ErrParseFailed) Error() string {
	return fmt.Sprintf("json_parse_failed: %s", e.Reason)
}

var (
	thinkBlockRe  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	jsonFenceRe   = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	anyFenceRe    = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	singleQuoted  = regexp.MustCompile(`'([^'\\]*(\\.[^'\\]*)*)'`)
)

// Extract implements spec §4.7 steps 1-4: strip <think> blocks, prefer a
// fenced code block, else the first balanced brace/bracket span, normalize
// Python-ish syntax, then attempt a strict parse with one repair retry.
// The returned value is the parsed JSON as generic Go data
// (map[string]interface{}, []interface{}, or a scalar).
func Extract(text string) (interface{}, error) {
	cleaned := thinkBlockRe.ReplaceAllString(text, "")

	candidate := extractCandidate(cleaned)
	if candidate == "" {
		return nil, &ErrParseFailed{Reason: "no JSON-like content found", Text: text}
	}

	var out interface{}
	if err := json.Unmarshal([]byte(candidate), &out); err == nil {
		return out, nil
	}

	repaired := repair(candidate)
	if err := json.Unmarshal([]byte(repaired), &out); err == nil {
		return out, nil
	}

	return nil, &ErrParseFailed{Reason: "strict and repaired parse both failed", Text: candidate}
}

// extractCandidate implements the fence/balanced-span preference order of
// spec §4.7 step 2.
func extractCandidate(text string) string {
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if span := firstBalancedSpan(text, '{', '}'); span != "" {
		return span
	}
	if span := firstBalancedSpan(text, '[', ']'); span != "" {
		return span
	}
	return ""
}

// firstBalancedSpan returns the first open...close balanced substring,
// correctly skipping over bracket characters that appear inside quoted
// strings so embedded literal braces don't break balance counting.
func firstBalancedSpan(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// repair normalizes Python-literal syntax into valid JSON: True/False/None,
// single-quoted strings, and trailing commas before a closing brace/bracket
// (spec §4.7 step 3).
func repair(s string) string {
	s = replaceWord(s, "True", "true")
	s = replaceWord(s, "False", "false")
	s = replaceWord(s, "None", "null")
	s = singleQuoted.ReplaceAllStringFunc(s, func(m string) string {
		inner := m[1 : len(m)-1]
		inner = strings.ReplaceAll(inner, `"`, `\"`)
		return `"` + inner + `"`
	})
	s = trailingComma.ReplaceAllString(s, "$1")
	return s
}

var wordBoundary = `\b`

func replaceWord(s, from, to string) string {
	re := regexp.MustCompile(wordBoundary + regexp.QuoteMeta(from) + wordBoundary)
	return re.ReplaceAllString(s, to)
}

// ExtractWithDefault runs Extract and, on terminal failure, returns def
// instead of an error unless strict is true (spec §4.7 step 6).
func ExtractWithDefault(text string, def interface{}, strict bool) (interface{}, error) {
	out, err := Extract(text)
	if err == nil {
		return out, nil
	}
	if strict {
		return nil, err
	}
	if def != nil {
		return def, nil
	}
	return map[string]interface{}{"error": "json_parse_failed", "raw_text": text}, nil
}

// CoerceFloat converts a JSON-extracted value ("0.9", 0.9, or similar) to a
// float64, used by score extraction (spec §4.4.4 step 2).
func CoerceFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// CoerceBool converts a JSON-extracted value ("true", true, "1") to bool.
func CoerceBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	}
	return false, false
}
