package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/telemetry"
)

// Store-wide key conventions (spec §6 "Store namespacing").
const (
	entryKeyPrefix     = "orka_memory:"
	forkGroupKeyPrefix = "forkgroup:"
	sharedStreamKey    = "orka:memory"
	pastLoopsKeyPrefix = "past_loops:"
)

func entryKey(uid string) string     { return entryKeyPrefix + uid }
func forkGroupKey(id string) string  { return forkGroupKeyPrefix + id }
func pastLoopsKey(id string) string  { return pastLoopsKeyPrefix + id }
func namespacedStreamKey(namespace, session string) string {
	return fmt.Sprintf("orka:memory:%s:%s", namespace, session)
}

// Store is the Memory Store contract consumed by nodes, the scheduler, and
// the decay sweeper (spec §4.3). A single implementation (RedisStore) backs
// production use; tests may substitute a fake satisfying the same
// interface, mirroring original_source's MockDecayHost/MockSearchHost test
// doubles.
type Store interface {
	// LogMemory implements the write path (spec §4.3.1).
	LogMemory(ctx context.Context, req WriteRequest) (string, error)
	// Get retrieves a single entry by its store-generated id.
	Get(ctx context.Context, uid string) (Entry, bool, error)
	// Search implements the read path (spec §4.3.4).
	Search(ctx context.Context, opts SearchOptions) ([]ScoredEntry, error)
	// CleanupExpired implements the decay sweeper's on-demand operation
	// (spec §4.3.3).
	CleanupExpired(ctx context.Context, dryRun bool) (CleanupResult, error)
	// ForkGroupCreate / ForkGroupComplete / ForkGroupStatus / ForkGroupDelete
	// implement the Fork/Join coordination record (spec §3 "ForkGroup",
	// §4.4.3).
	ForkGroupCreate(ctx context.Context, groupID string, expected []string) error
	ForkGroupComplete(ctx context.Context, groupID, branchID string) error
	ForkGroupStatus(ctx context.Context, groupID string) (expected, completed []string, err error)
	ForkGroupDelete(ctx context.Context, groupID string) error
	// PastLoopsLoad / PastLoopsSave implement Loop persistence (spec
	// §4.4.4 "Persistence").
	PastLoopsLoad(ctx context.Context, nodeID string) ([]core.PastLoop, error)
	PastLoopsSave(ctx context.Context, nodeID string, loops []core.PastLoop) error
	// Close releases the underlying connection.
	Close() error
}

// Embedder encodes text into a vector for vector search (spec §1: "out of
// scope... the core consumes encode(text) -> vector<float>").
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// RedisStore is the production Store implementation, grounded on the
// teacher's core/redis_client.go connection-building idiom and go-redis/v8
// (already a teacher dependency, core/go.mod).
type RedisStore struct {
	client   *redis.Client
	embedder Embedder
	decay    DecayConfig
	logger   core.Logger
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	RedisURL string
	Embedder Embedder // optional; nil disables vector search
	Decay    DecayConfig
	Logger   core.Logger
}

// NewRedisStore dials Redis and returns a ready Store.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, core.NewFrameworkError("memory.NewRedisStore", core.KindConfiguration, err)
	}
	client := redis.NewClient(redisOpts)

	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("framework/memory")
	}

	return &RedisStore{
		client:   client,
		embedder: opts.Embedder,
		decay:    opts.Decay,
		logger:   logger,
	}, nil
}

// NewRedisStoreFromClient wraps an already-constructed *redis.Client
// (used by tests against miniredis, and by callers sharing a pool across
// components).
func NewRedisStoreFromClient(client *redis.Client, embedder Embedder, decay DecayConfig, logger core.Logger) *RedisStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisStore{client: client, embedder: embedder, decay: decay, logger: logger}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// LogMemory implements spec §4.3.1. Write failures are swallowed to a log
// line rather than propagated -- "the node does not fail because telemetry
// write failed" -- except that LogMemory itself still returns the error to
// its direct caller; it is the *caller's* responsibility (nodes, the
// scheduler's logging path) to swallow it, matching the original's
// try/except-at-the-call-site shape rather than hiding failures inside the
// store.
func (s *RedisStore) LogMemory(ctx context.Context, req WriteRequest) (string, error) {
	uid := uuid.New().String()

	importance := ComputeImportance(req)
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	category := ClassifyCategory(req, metadata)

	decayCfg := s.decay.Merge(req.AgentDecayConfig)
	memType := ClassifyMemoryType(req, category, importance, decayCfg)

	now := time.Now()
	entry := Entry{
		ID:              uid,
		Content:         req.Content,
		NodeID:          req.NodeID,
		TraceID:         req.TraceID,
		TimestampMs:     now.UnixMilli(),
		ImportanceScore: importance,
		MemoryType:      memType,
		Category:        category,
		Metadata:        metadata,
	}

	hours := req.ExpiryHours
	hasExpiry := hours > 0
	if !hasExpiry {
		hours, hasExpiry = ComputeExpiry(memType, importance, decayCfg)
	}
	var ttl time.Duration
	if hasExpiry {
		ttl = time.Duration(hours * float64(time.Hour))
		expireAt := now.Add(ttl).UnixMilli()
		entry.ExpireAtMs = &expireAt
	}

	if s.embedder != nil {
		if vec, err := s.embedder.Encode(ctx, req.Content); err == nil {
			entry.Vector = vec
		} else {
			s.logger.Warn("embedding failed, storing without vector", map[string]interface{}{"error": err.Error()})
		}
	}

	if err := s.persist(ctx, entry, ttl); err != nil {
		// Simplified fallback record on full serialization failure (spec
		// §4.3.1 "Failure"): drop vector/metadata and retry once.
		fallback := entry
		fallback.Vector = nil
		fallback.Metadata = map[string]interface{}{"fallback": true}
		if ferr := s.persist(ctx, fallback, ttl); ferr != nil {
			s.logger.Error("memory write failed even in fallback form", map[string]interface{}{
				"error": ferr.Error(),
			})
			telemetry.Counter("memory.operations", "operation", "write", "memory_type", string(memType), "status", "error")
			return "", fmt.Errorf("writing memory entry: %w", ferr)
		}
	}

	telemetry.Counter("memory.operations", "operation", "write", "memory_type", string(memType), "status", "success")
	return uid, nil
}

func (s *RedisStore) persist(ctx context.Context, e Entry, ttl time.Duration) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"content":          e.Content,
		"node_id":          e.NodeID,
		"trace_id":         e.TraceID,
		"timestamp":        fmt.Sprintf("%d", e.TimestampMs),
		"importance_score": fmt.Sprintf("%f", e.ImportanceScore),
		"memory_type":      string(e.MemoryType),
		"category":         string(e.Category),
		"metadata":         string(metaJSON),
	}
	if e.ExpireAtMs != nil {
		fields["expire_time_ms"] = fmt.Sprintf("%d", *e.ExpireAtMs)
	}
	if len(e.Vector) > 0 {
		vecJSON, _ := json.Marshal(e.Vector)
		fields["vector"] = string(vecJSON)
	}

	key := entryKey(e.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}

	// Stream routing (spec §4.3.2): stored entries additionally append to a
	// namespace-scoped stream when a namespace is present in metadata;
	// everything also appends to the shared orchestration stream so
	// time-ordered reads don't require a search.
	streamPayload := map[string]interface{}{"uid": e.ID, "node_id": e.NodeID, "category": string(e.Category)}
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: sharedStreamKey, Values: streamPayload})
	if e.Category == CategoryStored {
		if ns, ok := e.Metadata["namespace"].(string); ok && ns != "" {
			session, _ := e.Metadata["session"].(string)
			if session == "" {
				session = "default"
			}
			pipe.XAdd(ctx, &redis.XAddArgs{Stream: namespacedStreamKey(ns, session), Values: streamPayload})
		}
	}

	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, uid string) (Entry, bool, error) {
	data, err := s.client.HGetAll(ctx, entryKey(uid)).Result()
	if err != nil {
		telemetry.Counter("memory.operations", "operation", "get", "memory_type", "unknown", "status", "error")
		return Entry{}, false, err
	}
	if len(data) == 0 {
		telemetry.Counter("memory.cache.misses", "memory_type", "unknown")
		return Entry{}, false, nil
	}
	entry := decodeEntry(uid, data)
	telemetry.Counter("memory.cache.hits", "memory_type", string(entry.MemoryType))
	return entry, true, nil
}

func decodeEntry(uid string, data map[string]string) Entry {
	e := Entry{
		ID:         uid,
		Content:    data["content"],
		NodeID:     data["node_id"],
		TraceID:    data["trace_id"],
		MemoryType: MemoryType(data["memory_type"]),
		Category:   Category(data["category"]),
	}
	fmt.Sscanf(data["timestamp"], "%d", &e.TimestampMs)
	fmt.Sscanf(data["importance_score"], "%f", &e.ImportanceScore)
	if data["metadata"] != "" {
		_ = json.Unmarshal([]byte(data["metadata"]), &e.Metadata)
	}
	if v, ok := data["expire_time_ms"]; ok && v != "" {
		var ms int64
		fmt.Sscanf(v, "%d", &ms)
		e.ExpireAtMs = &ms
	}
	if v, ok := data["vector"]; ok && v != "" {
		_ = json.Unmarshal([]byte(v), &e.Vector)
	}
	return e
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
