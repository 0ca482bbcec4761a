package memory

import "context"

// ForkGroupCreate writes the expected branch set into the store under
// forkgroup:<group_id> (spec §4.4.3 "Fork").
func (s *RedisStore) ForkGroupCreate(ctx context.Context, groupID string, expected []string) error {
	key := forkGroupKey(groupID)
	if len(expected) == 0 {
		// An empty expected set still writes the group hash so the record
		// exists. ForkGroupStatus reads only the member sets, so it reports
		// this group and an unknown group alike (both sets empty), and a
		// mode "all" Join over either completes immediately.
		return s.client.HSet(ctx, key, "expected", "").Err()
	}
	members := make([]interface{}, len(expected))
	for i, m := range expected {
		members[i] = m
	}
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key+":expected", members...)
	pipe.HSet(ctx, key, "expected", len(expected))
	_, err := pipe.Exec(ctx)
	return err
}

// ForkGroupComplete records that branchID has reported a terminal output
// (spec §4.4.3: "entries added by each branch's terminal node via sadd").
// Set-add is idempotent and atomicity is per-operation only -- the Join
// tolerates races by re-checking completion on each retry (spec §5).
func (s *RedisStore) ForkGroupComplete(ctx context.Context, groupID, branchID string) error {
	key := forkGroupKey(groupID)
	return s.client.SAdd(ctx, key+":completed", branchID).Err()
}

// ForkGroupStatus returns the expected and completed branch sets.
func (s *RedisStore) ForkGroupStatus(ctx context.Context, groupID string) (expected, completed []string, err error) {
	key := forkGroupKey(groupID)
	expected, err = s.client.SMembers(ctx, key+":expected").Result()
	if err != nil {
		return nil, nil, err
	}
	completed, err = s.client.SMembers(ctx, key+":completed").Result()
	if err != nil {
		return nil, nil, err
	}
	return expected, completed, nil
}

// ForkGroupDelete removes the fork-group record (spec §4.4.3: "On success:
// ...deletes the fork-group record").
func (s *RedisStore) ForkGroupDelete(ctx context.Context, groupID string) error {
	key := forkGroupKey(groupID)
	return s.client.Del(ctx, key, key+":expected", key+":completed").Err()
}
