// Package orchestrator compiles a workflow.Document into a runnable node
// graph and executes it (spec §4.4). Grounded on
// original_source/orka/orchestrator/agent_factory.py's AGENT_TYPES registry
// and init_single_agent dispatch (string type -> constructor, with
// type-specific constructor argument extraction from the declarative
// config), translated into a compile-time-exhaustive Go switch per spec §9
// ("Avoid runtime reflection; compile-time exhaustiveness matters for
// Router/Fork/Join/Loop handling").
package orchestrator

import (
	"fmt"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/jsonx"
	"github.com/orkarun/orka/memory"
)

// Supported agent/node type names (spec §6 "Workflow configuration",
// agent_factory.py's AGENT_TYPES).
const (
	TypeRouter                = "router"
	TypeFork                  = "fork"
	TypeJoin                  = "join"
	TypeFailover              = "failover"
	TypeFailing               = "failing"
	TypeLoop                  = "loop"
	TypeMemory                = "memory"
	TypeValidateAndStructure  = "validate_and_structure"
	TypeLLMAnswer             = "openai-answer"
	TypeLLM                   = "llm"
)

// extra is a thin accessor over a NodeConfig's type-specific config map
// (spec §6's "type-specific keys"), tolerant of the scalar/list/nested
// shapes a hand-written YAML document uses in practice.
type extra map[string]interface{}

func (e extra) string(key, def string) string {
	if v, ok := e[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func (e extra) boolv(key string, def bool) bool {
	if v, ok := e[key]; ok {
		if b, ok := jsonx.CoerceBool(v); ok {
			return b
		}
	}
	return def
}

func (e extra) float(key string, def float64) float64 {
	if v, ok := e[key]; ok {
		if f, ok := jsonx.CoerceFloat(v); ok {
			return f
		}
	}
	return def
}

func (e extra) int(key string, def int) int {
	return int(e.float(key, float64(def)))
}

func (e extra) strList(key string) []string {
	v, ok := e[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (e extra) nested(key string) extra {
	if v, ok := e[key]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			return extra(m)
		}
	}
	return extra{}
}

func (e extra) stringMap(key string) map[string]interface{} {
	if v, ok := e[key]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

// unsupportedTypeError reports a configuration error for an unrecognized
// node type (spec §4.4.1: "Throw on unsupported type or missing id").
func unsupportedTypeError(id, typ string) error {
	return core.NewFrameworkError("orchestrator.Compile", core.KindConfiguration,
		fmt.Errorf("agent %q: unsupported type %q", id, typ))
}

// missingIDError reports a configuration error for a NodeConfig with no id.
func missingIDError() error {
	return core.NewFrameworkError("orchestrator.Compile", core.KindConfiguration,
		fmt.Errorf("agent config missing id"))
}

// decayConfigFromExtra parses a `decay:` block, falling back to global when
// absent (agent_factory.py's merged_decay_config, simplified to an
// override-by-presence merge rather than the Python source's per-key deep
// merge -- SPEC_FULL.md §Open Questions records this as a deliberate
// simplification).
func decayConfigFromExtra(e extra, global memory.DecayConfig) memory.DecayConfig {
	d := e.nested("decay")
	if len(d) == 0 {
		return global
	}
	cfg := global
	cfg.Enabled = d.boolv("enabled", cfg.Enabled)
	cfg.ShortTermHours = d.float("short_term_hours", cfg.ShortTermHours)
	cfg.LongTermHours = d.float("long_term_hours", cfg.LongTermHours)
	cfg.CheckIntervalMinutes = d.float("check_interval_minutes", cfg.CheckIntervalMinutes)
	if events := d.strList("long_term_event_types"); events != nil {
		cfg.LongTermEventTypes = events
	}
	return cfg
}
