package nodes

import (
	"context"
	"fmt"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/memory"
)

// MemoryWriterNode logs the rendered prompt (or, when it is empty, the run input)
// into the Memory Store, grounded on
// original_source/orka/nodes/memory_writer.py's thin BaseNode subclass.
type MemoryWriterNode struct {
	Base
	Namespace   string
	Vector      bool
	Metadata    map[string]interface{}
	DecayConfig memory.DecayConfig
	Store       memory.Store
}

var _ core.Node = (*MemoryWriterNode)(nil)

func NewMemoryWriterNode(id, namespace string, vector bool, metadata map[string]interface{}, decay memory.DecayConfig, store memory.Store) *MemoryWriterNode {
	return &MemoryWriterNode{
		Base:        Base{NodeID: id},
		Namespace:   namespace,
		Vector:      vector,
		Metadata:    metadata,
		DecayConfig: decay,
		Store:       store,
	}
}

func (n *MemoryWriterNode) Run(ctx context.Context, rc *core.RunContext) (core.Output, error) {
	content := rc.FormattedPrompt
	if content == "" {
		if s, ok := rc.Input.(string); ok {
			content = s
		} else {
			content = fmt.Sprintf("%v", rc.Input)
		}
	}

	meta := make(map[string]interface{}, len(n.Metadata)+1)
	for k, v := range n.Metadata {
		meta[k] = v
	}
	meta["namespace"] = n.Namespace

	req := memory.WriteRequest{
		Content:          content,
		NodeID:           n.NodeID,
		TraceID:          rc.TraceID,
		Metadata:         meta,
		AgentDecayConfig: &n.DecayConfig,
	}

	uid, err := n.Store.LogMemory(ctx, req)
	if err != nil {
		return errorOutput(n.NodeID, fmt.Errorf("memory writer %s: %w", n.NodeID, err)), nil
	}
	return successOutput(n.NodeID, map[string]interface{}{"memory_id": uid}, nil), nil
}

// MemoryReaderNode queries the Memory Store with the node's rendered
// prompt as the search query, grounded on
// original_source/orka/nodes/memory_reader.py.
type MemoryReaderNode struct {
	Base
	Namespace             string
	Limit                 int
	SimilarityThreshold   float64
	EnableContextSearch   bool
	EnableTemporalRanking bool
	TemporalWeight        float64
	MemoryCategoryFilter  memory.Category
	Store                 memory.Store
}

var _ core.Node = (*MemoryReaderNode)(nil)

func NewMemoryReaderNode(id, namespace string, limit int, similarityThreshold float64, store memory.Store) *MemoryReaderNode {
	if limit <= 0 {
		limit = 10
	}
	if similarityThreshold <= 0 {
		similarityThreshold = 0.6
	}
	return &MemoryReaderNode{
		Base:                Base{NodeID: id},
		Namespace:           namespace,
		Limit:               limit,
		SimilarityThreshold: similarityThreshold,
		Store:               store,
	}
}

func (n *MemoryReaderNode) Run(ctx context.Context, rc *core.RunContext) (core.Output, error) {
	query := rc.FormattedPrompt
	if query == "" {
		if s, ok := rc.Input.(string); ok {
			query = s
		}
	}

	var context_ []string
	if n.EnableContextSearch {
		for _, out := range rc.PreviousOutputs {
			if s, ok := out.Result.(string); ok {
				context_ = append(context_, s)
			}
		}
	}

	results, err := n.Store.Search(ctx, memory.SearchOptions{
		Query:                 query,
		Limit:                 n.Limit,
		MemoryCategoryFilter:  n.MemoryCategoryFilter,
		SimilarityThreshold:   n.SimilarityThreshold,
		EnableTemporalRanking: n.EnableTemporalRanking,
		TemporalDecayHours:    1.0 / maxFloat(n.TemporalWeight, 0.001),
		Context:               context_,
		ContextWeight:         n.TemporalWeight,
	})
	if err != nil {
		return errorOutput(n.NodeID, fmt.Errorf("memory reader %s: %w", n.NodeID, err)), nil
	}

	matches := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		matches = append(matches, map[string]interface{}{
			"content": r.Entry.Content,
			"score":   r.FinalScore,
			"node_id": r.Entry.NodeID,
		})
	}

	return successOutput(n.NodeID, map[string]interface{}{"matches": matches}, nil), nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
