package nodes

import (
	"context"

	"github.com/google/uuid"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/memory"
)

// fakeMemoryStore is a minimal in-memory memory.Store for node-level tests,
// grounded on the teacher's core/mock_discovery.go in-memory test-double
// idiom (same pattern orchestrator/fake_store_test.go uses one level up).
type fakeMemoryStore struct {
	entries   []memory.Entry
	expected  map[string][]string
	completed map[string]map[string]bool
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{
		expected:  make(map[string][]string),
		completed: make(map[string]map[string]bool),
	}
}

func (f *fakeMemoryStore) LogMemory(ctx context.Context, req memory.WriteRequest) (string, error) {
	id := uuid.NewString()
	f.entries = append(f.entries, memory.Entry{ID: id, Content: req.Content, NodeID: req.NodeID, Metadata: req.Metadata})
	return id, nil
}

func (f *fakeMemoryStore) Get(ctx context.Context, uid string) (memory.Entry, bool, error) {
	for _, e := range f.entries {
		if e.ID == uid {
			return e, true, nil
		}
	}
	return memory.Entry{}, false, nil
}

func (f *fakeMemoryStore) Search(ctx context.Context, opts memory.SearchOptions) ([]memory.ScoredEntry, error) {
	out := make([]memory.ScoredEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, memory.ScoredEntry{Entry: e, FinalScore: 1})
	}
	return out, nil
}

func (f *fakeMemoryStore) CleanupExpired(ctx context.Context, dryRun bool) (memory.CleanupResult, error) {
	return memory.CleanupResult{}, nil
}

func (f *fakeMemoryStore) ForkGroupCreate(ctx context.Context, groupID string, expected []string) error {
	f.expected[groupID] = expected
	f.completed[groupID] = make(map[string]bool)
	return nil
}

func (f *fakeMemoryStore) ForkGroupComplete(ctx context.Context, groupID, branchID string) error {
	if f.completed[groupID] == nil {
		f.completed[groupID] = make(map[string]bool)
	}
	f.completed[groupID][branchID] = true
	return nil
}

func (f *fakeMemoryStore) ForkGroupStatus(ctx context.Context, groupID string) ([]string, []string, error) {
	expected := f.expected[groupID]
	var completed []string
	for id := range f.completed[groupID] {
		completed = append(completed, id)
	}
	return expected, completed, nil
}

func (f *fakeMemoryStore) ForkGroupDelete(ctx context.Context, groupID string) error {
	delete(f.expected, groupID)
	delete(f.completed, groupID)
	return nil
}

func (f *fakeMemoryStore) PastLoopsLoad(ctx context.Context, nodeID string) ([]core.PastLoop, error) {
	return nil, nil
}

func (f *fakeMemoryStore) PastLoopsSave(ctx context.Context, nodeID string, loops []core.PastLoop) error {
	return nil
}

func (f *fakeMemoryStore) Close() error { return nil }

var _ memory.Store = (*fakeMemoryStore)(nil)
