// Package prompt renders a node's prompt template against the current
// RunContext (spec §4 "Prompt renderer", §9 "Templates in prompts").
//
// Grounded on the teacher's orchestration/template_prompt_builder.go: Go's
// text/template is the teacher's own idiom for prompt construction (see its
// SECURITY comment about trusted-template-only use), so staying on
// text/template here is a grounded choice, not a stdlib fallback.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/orkarun/orka/core"
)

// Renderer renders a NodeConfig's Prompt field against a RunContext.
// Rendering errors degrade to a best-effort string rather than aborting the
// run (spec §9: "Errors during rendering degrade to best-effort text -- they
// never abort a run"; spec §8: "A node whose prompt references an undefined
// variable does not crash the scheduler").
type Renderer struct {
	logger core.Logger
}

// NewRenderer builds a Renderer; pass nil for a no-op logger.
func NewRenderer(logger core.Logger) *Renderer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Renderer{logger: logger}
}

// viewData is the value exposed to a template as ".", plus the function-style
// lookups documented in spec §9 (get_input, get_agent_response).
type viewData struct {
	Input           interface{}
	PreviousOutputs map[string]core.Output
	LoopNumber      int
	PastLoops       []core.PastLoop
}

func (v viewData) GetInput() interface{} {
	return v.Input
}

func (v viewData) GetAgentResponse(id string) interface{} {
	if out, ok := v.PreviousOutputs[id]; ok {
		return out.Result
	}
	return ""
}

var funcMap = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"default": func(def, val interface{}) interface{} {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},
}

// Render substitutes tmplText against rc. On any parse or execution error it
// logs a warning and returns the original template text unmodified -- a
// best-effort rendering, per spec §9/§8 -- along with the error for callers
// that want to record a SilentDegradation telemetry entry.
func (r *Renderer) Render(tmplText string, rc *core.RunContext) (string, error) {
	if tmplText == "" {
		return "", nil
	}

	data := viewData{
		Input:           rc.Input,
		PreviousOutputs: rc.PreviousOutputs,
		LoopNumber:      rc.LoopNumber,
		PastLoops:       rc.PastLoops,
	}

	// Expose get_input/get_agent_response as template-callable funcs bound
	// to this invocation's data, matching spec §9's function-style lookups.
	localFuncs := template.FuncMap{
		"get_input": func() interface{} { return data.GetInput() },
		"get_agent_response": func(id string) interface{} {
			return data.GetAgentResponse(id)
		},
	}
	merged := template.FuncMap{}
	for k, v := range funcMap {
		merged[k] = v
	}
	for k, v := range localFuncs {
		merged[k] = v
	}

	tmpl, err := template.New("prompt").Option("missingkey=zero").Funcs(merged).Parse(tmplText)
	if err != nil {
		r.logger.Warn("prompt template parse failed, using raw text", map[string]interface{}{
			"error": err.Error(),
		})
		return tmplText, fmt.Errorf("parsing prompt template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		r.logger.Warn("prompt template execution failed, using raw text", map[string]interface{}{
			"error": err.Error(),
		})
		return tmplText, fmt.Errorf("executing prompt template: %w", err)
	}

	return buf.String(), nil
}
