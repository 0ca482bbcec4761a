package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/memory"
)

// fakeStore is a minimal in-memory memory.Store used by orchestrator tests
// so Scheduler/Fork/Join tests don't need a Redis instance (grounded on the
// teacher's core/mock_discovery.go pattern of a hand-written in-memory test
// double behind the production interface).
type fakeStore struct {
	mu        sync.Mutex
	entries   map[string]memory.Entry
	expected  map[string][]string
	completed map[string]map[string]bool
	pastLoops map[string][]core.PastLoop
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries:   make(map[string]memory.Entry),
		expected:  make(map[string][]string),
		completed: make(map[string]map[string]bool),
		pastLoops: make(map[string][]core.PastLoop),
	}
}

func (f *fakeStore) LogMemory(ctx context.Context, req memory.WriteRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.entries[id] = memory.Entry{ID: id, Content: req.Content, NodeID: req.NodeID, TraceID: req.TraceID, Metadata: req.Metadata}
	return id, nil
}

func (f *fakeStore) Get(ctx context.Context, uid string) (memory.Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[uid]
	return e, ok, nil
}

func (f *fakeStore) Search(ctx context.Context, opts memory.SearchOptions) ([]memory.ScoredEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []memory.ScoredEntry
	for _, e := range f.entries {
		out = append(out, memory.ScoredEntry{Entry: e, FinalScore: 1})
	}
	return out, nil
}

func (f *fakeStore) CleanupExpired(ctx context.Context, dryRun bool) (memory.CleanupResult, error) {
	return memory.CleanupResult{}, nil
}

func (f *fakeStore) ForkGroupCreate(ctx context.Context, groupID string, expected []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expected[groupID] = expected
	f.completed[groupID] = make(map[string]bool)
	return nil
}

func (f *fakeStore) ForkGroupComplete(ctx context.Context, groupID, branchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed[groupID] == nil {
		f.completed[groupID] = make(map[string]bool)
	}
	f.completed[groupID][branchID] = true
	return nil
}

func (f *fakeStore) ForkGroupStatus(ctx context.Context, groupID string) ([]string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	expected := f.expected[groupID]
	var completed []string
	for id := range f.completed[groupID] {
		completed = append(completed, id)
	}
	return expected, completed, nil
}

func (f *fakeStore) ForkGroupDelete(ctx context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.expected, groupID)
	delete(f.completed, groupID)
	return nil
}

func (f *fakeStore) PastLoopsLoad(ctx context.Context, nodeID string) ([]core.PastLoop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pastLoops[nodeID], nil
}

func (f *fakeStore) PastLoopsSave(ctx context.Context, nodeID string, loops []core.PastLoop) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pastLoops[nodeID] = loops
	return nil
}

func (f *fakeStore) Close() error { return nil }

var _ memory.Store = (*fakeStore)(nil)
