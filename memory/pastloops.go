package memory

import (
	"context"
	"encoding/json"

	"github.com/orkarun/orka/core"
)

// pastLoopsDiskCap is the hard-coded on-disk truncation the original
// implementation applies to persisted past_loops, independent of a Loop
// node's own max_loops (spec §9 Open Question: "Past-loops cap is
// hard-coded to 20 in the persistence path but len(past_loops) <= max_loops
// elsewhere; if max_loops > 20 the on-disk tail differs from the in-run
// tail." This rewrite preserves that discrepancy rather than reconciling
// it, per "do not guess intent").
const pastLoopsDiskCap = 20

// PastLoopsLoad reads the persisted past_loops:<node_id> record (spec
// §4.4.4 "Persistence").
func (s *RedisStore) PastLoopsLoad(ctx context.Context, nodeID string) ([]core.PastLoop, error) {
	raw, err := s.client.Get(ctx, pastLoopsKey(nodeID)).Result()
	if err != nil {
		if err.Error() == "redis: nil" {
			return nil, nil
		}
		return nil, err
	}
	var loops []core.PastLoop
	if err := json.Unmarshal([]byte(raw), &loops); err != nil {
		return nil, err
	}
	return loops, nil
}

// PastLoopsSave persists loops, truncated to the most recent
// pastLoopsDiskCap entries.
func (s *RedisStore) PastLoopsSave(ctx context.Context, nodeID string, loops []core.PastLoop) error {
	trimmed := loops
	if len(trimmed) > pastLoopsDiskCap {
		trimmed = trimmed[len(trimmed)-pastLoopsDiskCap:]
	}
	data, err := json.Marshal(trimmed)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, pastLoopsKey(nodeID), data, 0).Err()
}
