// Package workflow loads a workflow document (spec §6 "Workflow
// configuration (YAML, abstracted)") into the NodeConfig graph
// orchestrator.Compile consumes. Grounded on the teacher's YAML-driven
// configuration idiom (gopkg.in/yaml.v3, already a teacher dependency) and
// original_source/orka/orchestrator/agent_factory.py's config shape
// (orchestrator block + flat agents list, queue as scalar-or-list,
// type-specific nested keys passed through verbatim).
package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orkarun/orka/core"
)

// OrchestratorBlock is the `orchestrator:` section of a workflow document
// (spec §6): identity, execution strategy, the root agent id list, and an
// optional global memory configuration block.
type OrchestratorBlock struct {
	ID       string                 `yaml:"id"`
	Strategy string                 `yaml:"strategy"`
	Agents   []string               `yaml:"agents"`
	Memory   map[string]interface{} `yaml:"memory"`
}

// Document is a fully parsed workflow file.
type Document struct {
	Orchestrator OrchestratorBlock `yaml:"orchestrator"`
	Agents       []core.NodeConfig `yaml:"agents"`
}

// rawAgentConfig mirrors core.NodeConfig's shape but accepts Queue as
// either a single scalar or a list (spec §6: "queue (scalar or list)"),
// and recurses into Children with the same tolerance.
type rawAgentConfig struct {
	ID       string                 `yaml:"id"`
	Type     string                 `yaml:"type"`
	Prompt   string                 `yaml:"prompt"`
	Queue    yaml.Node              `yaml:"queue"`
	Children []rawAgentConfig       `yaml:"children"`
	Timeout  string                 `yaml:"timeout"`
	Extra    map[string]interface{} `yaml:",inline"`
}

func (r rawAgentConfig) toNodeConfig() (core.NodeConfig, error) {
	queue, err := decodeScalarOrList(r.Queue)
	if err != nil {
		return core.NodeConfig{}, fmt.Errorf("agent %q: queue: %w", r.ID, err)
	}

	var timeout time.Duration
	if r.Timeout != "" {
		timeout, err = time.ParseDuration(r.Timeout)
		if err != nil {
			return core.NodeConfig{}, fmt.Errorf("agent %q: timeout: %w", r.ID, err)
		}
	}

	children := make([]core.NodeConfig, 0, len(r.Children))
	for _, c := range r.Children {
		cc, err := c.toNodeConfig()
		if err != nil {
			return core.NodeConfig{}, err
		}
		children = append(children, cc)
	}

	return core.NodeConfig{
		ID:       r.ID,
		Type:     r.Type,
		Prompt:   r.Prompt,
		Queue:    queue,
		Children: children,
		Timeout:  timeout,
		Extra:    r.Extra,
	}, nil
}

func decodeScalarOrList(node yaml.Node) ([]string, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unsupported queue node kind %v", node.Kind)
	}
}

type rawDocument struct {
	Orchestrator OrchestratorBlock `yaml:"orchestrator"`
	Agents       []rawAgentConfig  `yaml:"agents"`
}

// Load parses a workflow document from raw YAML bytes. It validates the
// structural requirement every AgentConfig carries an id and a type (spec
// §6); type-support validation itself is the compiler's job (spec §4.4.1
// "Throw on unsupported type").
func Load(data []byte) (*Document, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, core.NewFrameworkError("workflow.Load", core.KindConfiguration, err)
	}

	agents := make([]core.NodeConfig, 0, len(raw.Agents))
	for i, a := range raw.Agents {
		if a.ID == "" {
			return nil, core.NewFrameworkError("workflow.Load", core.KindConfiguration,
				fmt.Errorf("agents[%d]: missing id", i))
		}
		if a.Type == "" {
			return nil, core.NewFrameworkError("workflow.Load", core.KindConfiguration,
				fmt.Errorf("agent %q: missing type", a.ID))
		}
		nc, err := a.toNodeConfig()
		if err != nil {
			return nil, core.NewFrameworkError("workflow.Load", core.KindConfiguration, err)
		}
		agents = append(agents, nc)
	}

	return &Document{Orchestrator: raw.Orchestrator, Agents: agents}, nil
}

// LoadFile reads and parses a workflow document from disk.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewFrameworkError("workflow.LoadFile", core.KindConfiguration, err)
	}
	return Load(data)
}

// RootQueue resolves the scheduler's initial queue: the orchestrator
// block's agents list, or (if empty) the first declared agent's id alone
// (spec §4.4.1: "the root queue (first configured agent unless explicit
// start_node)").
func (d *Document) RootQueue() []string {
	if len(d.Orchestrator.Agents) > 0 {
		return d.Orchestrator.Agents
	}
	if len(d.Agents) > 0 {
		return []string{d.Agents[0].ID}
	}
	return nil
}
