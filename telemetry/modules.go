package telemetry

// This file declares the metrics OrKa's memory store emits (store.go's
// RedisStore and decay.go's sweeper). It's in the telemetry package, not
// the memory package, to avoid an import cycle (memory already imports
// telemetry to emit these).

func init() {
	DeclareMetrics("memory", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "memory.operations",
				Type:   "counter",
				Help:   "Memory store read/write operations",
				Labels: []string{"operation", "memory_type", "status"},
			},
			{
				Name:   "memory.cache.hits",
				Type:   "counter",
				Help:   "Memory entry lookups that found the key",
				Labels: []string{"memory_type"},
			},
			{
				Name:   "memory.cache.misses",
				Type:   "counter",
				Help:   "Memory entry lookups for a key that was absent or expired",
				Labels: []string{"memory_type"},
			},
			{
				Name:   "memory.evictions",
				Type:   "counter",
				Help:   "Entries removed by the decay sweep",
				Labels: []string{"memory_type", "reason"},
			},
		},
	})
}
