package orchestrator

import (
	"fmt"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/jsonx"
	"github.com/orkarun/orka/memory"
	"github.com/orkarun/orka/nodes"
)

// Compiler builds a node graph from a workflow.Document (spec §4.4.1).
// It is held separately from Orchestrator so the same dependency set can
// compile nested configs (Loop's internal_workflow, Failover's children)
// without re-threading every constructor argument by hand.
type Compiler struct {
	Store       memory.Store
	AIClient    core.AIClient
	Logger      core.Logger
	Telemetry   core.Telemetry
	GlobalDecay memory.DecayConfig
}

// compiled is the in-memory graph: every instantiated node keyed by id,
// plus enough bookkeeping for the scheduler to resolve static queues and
// recognize fork-branch membership.
type compiled struct {
	instances map[string]core.Node
	configs   map[string]core.NodeConfig
	order     []string
}

// Compile instantiates every agent in cfgs, recursing into nested children
// (failover) and installing the Loop -> nested-compiled-subgraph runner
// (spec §4.4.1, §4.4.4).
func (c *Compiler) Compile(cfgs []core.NodeConfig) (*compiled, error) {
	out := &compiled{
		instances: make(map[string]core.Node, len(cfgs)),
		configs:   make(map[string]core.NodeConfig, len(cfgs)),
	}
	for _, cfg := range cfgs {
		if err := c.instantiateInto(cfg, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Compiler) instantiateInto(cfg core.NodeConfig, out *compiled) error {
	if cfg.ID == "" {
		return missingIDError()
	}
	node, err := c.instantiate(cfg)
	if err != nil {
		return err
	}
	out.instances[cfg.ID] = node
	out.configs[cfg.ID] = cfg
	out.order = append(out.order, cfg.ID)
	return nil
}

// instantiate builds one node, recursing into children/nested configs as
// needed. Mirrors agent_factory.py's init_single_agent dispatch, one
// type-string per case, compile-time exhaustive (spec §9).
func (c *Compiler) instantiate(cfg core.NodeConfig) (core.Node, error) {
	e := extra(cfg.Extra)
	typ := cfg.Type

	switch typ {
	case TypeRouter:
		return c.compileRouter(cfg, e)

	case TypeFork:
		targets := e.strList("targets")
		mode := e.string("mode", "parallel")
		return nodes.NewForkNode(cfg.ID, targets, mode, c.Store), nil

	case TypeJoin:
		forkNodeID := e.string("fork_group", "")
		mode := nodes.JoinMode(e.string("mode", string(nodes.JoinAll)))
		return nodes.NewJoinNode(cfg.ID, forkNodeID, mode, c.Store), nil

	case TypeFailover:
		children := make([]core.Node, 0, len(cfg.Children))
		for _, childCfg := range cfg.Children {
			child, err := c.instantiate(childCfg)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return nodes.NewFailoverNode(cfg.ID, children), nil

	case TypeFailing:
		return nodes.NewFailingNode(cfg.ID, e.string("message", "")), nil

	case TypeLoop:
		return c.compileLoop(cfg, e)

	case TypeMemory:
		return c.compileMemory(cfg, e)

	case TypeValidateAndStructure:
		return c.compileValidateAndStructure(cfg, e)

	case TypeLLMAnswer, TypeLLM, "":
		return nodes.NewLLMAgentNode(cfg.ID, c.AIClient, e.string("system_prompt", ""), e.string("model", "")), nil

	default:
		return nil, unsupportedTypeError(cfg.ID, typ)
	}
}

func (c *Compiler) compileRouter(cfg core.NodeConfig, e extra) (core.Node, error) {
	rawConds, _ := cfg.Extra["conditions"].([]interface{})
	branches := make([]nodes.RouterBranch, 0, len(rawConds))
	for _, rc := range rawConds {
		m, ok := rc.(map[string]interface{})
		if !ok {
			continue
		}
		re := extra(m)
		branches = append(branches, nodes.RouterBranch{
			Name:       re.string("name", ""),
			Expression: re.string("expression", re.string("if", "")),
			Queue:      re.strList("queue"),
		})
	}
	return nodes.NewRouterNode(cfg.ID, branches, e.strList("default")), nil
}

func (c *Compiler) compileMemory(cfg core.NodeConfig, e extra) (core.Node, error) {
	configBlock := e.nested("config")
	namespace := e.string("namespace", "default")
	decay := decayConfigFromExtra(e, c.GlobalDecay)
	operation := configBlock.string("operation", "read")

	if operation == "write" {
		return &nodes.MemoryWriterNode{
			Base:        nodes.Base{NodeID: cfg.ID},
			Namespace:   namespace,
			Vector:      e.boolv("vector", false),
			Metadata:    e.stringMap("metadata"),
			DecayConfig: decay,
			Store:       c.Store,
		}, nil
	}

	return &nodes.MemoryReaderNode{
		Base:                  nodes.Base{NodeID: cfg.ID},
		Namespace:             namespace,
		Limit:                 configBlock.int("limit", 10),
		SimilarityThreshold:   configBlock.float("similarity_threshold", 0.6),
		EnableContextSearch:   configBlock.boolv("enable_context_search", false),
		EnableTemporalRanking: configBlock.boolv("enable_temporal_ranking", false),
		TemporalWeight:        configBlock.float("temporal_weight", 0.1),
		MemoryCategoryFilter:  memory.Category(configBlock.string("memory_category_filter", "")),
		Store:                 c.Store,
	}, nil
}

func (c *Compiler) compileValidateAndStructure(cfg core.NodeConfig, e extra) (core.Node, error) {
	schema := jsonx.Schema{Strict: e.boolv("strict", false)}
	if rawFields, ok := cfg.Extra["schema"].([]interface{}); ok {
		for _, rf := range rawFields {
			m, ok := rf.(map[string]interface{})
			if !ok {
				continue
			}
			fe := extra(m)
			schema.Fields = append(schema.Fields, jsonx.FieldSpec{
				Name:     fe.string("name", ""),
				Type:     jsonx.FieldType(fe.string("type", string(jsonx.TypeString))),
				Required: fe.boolv("required", false),
				Default:  m["default"],
			})
		}
	}
	def, _ := cfg.Extra["default"].(map[string]interface{})
	return nodes.NewValidateAndStructureNode(cfg.ID, e.string("source", ""), schema, def), nil
}

// compileLoop builds a LoopNode whose SubRunner compiles and runs the
// loop's internal_workflow as its own nested graph, rooted at
// internal_workflow's first agent (spec §4.4.4, §6 "loop: ...
// internal_workflow").
func (c *Compiler) compileLoop(cfg core.NodeConfig, e extra) (core.Node, error) {
	strategies := loadScoreStrategies(e.nested("score_extraction_config"))
	cognitive := loadCognitiveConfig(e.nested("cognitive_extraction"))

	var nestedCfgs []core.NodeConfig
	if raw, ok := cfg.Extra["internal_workflow"].([]interface{}); ok {
		for _, item := range raw {
			if m, ok := item.(map[string]interface{}); ok {
				nestedCfgs = append(nestedCfgs, decodeNodeConfigMap(m))
			}
		}
	}
	var nested *compiled
	if len(nestedCfgs) > 0 {
		var err error
		nested, err = c.Compile(nestedCfgs)
		if err != nil {
			return nil, fmt.Errorf("loop %s: internal_workflow: %w", cfg.ID, err)
		}
	}

	return nodes.NewLoopNode(cfg.ID, e.int("max_loops", 5), e.float("score_threshold", 0.8),
		strategies, cognitive, e.boolv("persist_across_runs", false), c.Store,
		c.compileLoopRunner(nested)), nil
}

func loadScoreStrategies(cfg extra) []nodes.ScoreStrategy {
	raw, ok := cfg["strategies"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]nodes.ScoreStrategy, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		se := extra(m)
		out = append(out, nodes.ScoreStrategy{
			Type:     se.string("type", ""),
			Key:      se.string("key", ""),
			Agents:   se.strList("agents"),
			Patterns: se.strList("patterns"),
		})
	}
	return out
}

func loadCognitiveConfig(cfg extra) nodes.CognitiveExtractionConfig {
	out := nodes.CognitiveExtractionConfig{
		Enabled:              cfg.boolv("enabled", false),
		MaxLengthPerCategory: cfg.int("max_length_per_category", 300),
	}
	if raw, ok := cfg["extract_patterns"].(map[string]interface{}); ok {
		out.ExtractPatterns = make(map[string][]string, len(raw))
		for k, v := range raw {
			out.ExtractPatterns[k] = extra{k: v}.strList(k)
		}
	}
	if raw, ok := cfg["agent_priorities"].(map[string]interface{}); ok {
		out.AgentPriorities = make(map[string][]string, len(raw))
		for k, v := range raw {
			out.AgentPriorities[k] = extra{k: v}.strList(k)
		}
	}
	return out
}

// decodeNodeConfigMap converts a raw YAML-decoded map into a NodeConfig,
// used for internal_workflow entries which arrive as []interface{} rather
// than the top-level document's typed []core.NodeConfig (the workflow
// loader only type-asserts the top-level agents list).
func decodeNodeConfigMap(m map[string]interface{}) core.NodeConfig {
	e := extra(m)
	nc := core.NodeConfig{
		ID:     e.string("id", ""),
		Type:   e.string("type", ""),
		Prompt: e.string("prompt", ""),
		Queue:  e.strList("queue"),
		Extra:  make(map[string]interface{}),
	}
	for k, v := range m {
		switch k {
		case "id", "type", "prompt", "queue", "children":
			continue
		}
		nc.Extra[k] = v
	}
	if rawChildren, ok := m["children"].([]interface{}); ok {
		for _, c := range rawChildren {
			if cm, ok := c.(map[string]interface{}); ok {
				nc.Children = append(nc.Children, decodeNodeConfigMap(cm))
			}
		}
	}
	return nc
}
