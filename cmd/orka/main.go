// Command orka runs a single workflow document against the OrKa scheduler
// (spec §6 "Workflow configuration"): load the YAML, compile it, run it
// once against the given input, and write the run's trace file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/orkarun/orka/ai"
	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/memory"
	"github.com/orkarun/orka/orchestrator"
	"github.com/orkarun/orka/telemetry"
	"github.com/orkarun/orka/workflow"
)

func main() {
	var (
		workflowPath = flag.String("workflow", "", "path to a workflow YAML document")
		input        = flag.String("input", "", "input passed to the orchestrator run")
		redisURL     = flag.String("redis", "redis://localhost:6379", "Memory Store Redis URL")
		providers    = flag.String("providers", "openai", "comma-separated AI provider chain, e.g. openai,openai.groq")
		tracePath    = flag.String("trace", "trace.json", "path the run's trace file is written to")
		logLevel     = flag.String("log-level", "info", "zerolog level: debug|info|warn|error")
		otelEndpoint = flag.String("otel-endpoint", "", "OTLP/HTTP endpoint for run tracing (node execution, fork/join, loop iterations); \"stdout\" pretty-prints spans instead of exporting; unset disables tracing")
	)
	flag.Parse()

	logger := core.NewZerologLogger(*logLevel)

	var tel core.Telemetry = &core.NoOpTelemetry{}
	switch *otelEndpoint {
	case "":
		// tracing disabled
	case "stdout":
		provider, err := telemetry.NewStdoutOTelProvider("orka")
		if err != nil {
			logger.Error("failed to initialize stdout telemetry", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		defer provider.Shutdown(context.Background())
		tel = provider
	default:
		provider, err := telemetry.NewOTelProvider("orka", *otelEndpoint)
		if err != nil {
			logger.Error("failed to initialize telemetry", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		defer provider.Shutdown(context.Background())
		tel = provider
	}

	// Metrics (memory.*, ai.chain.*, request/tool-call counters declared
	// across the package via DeclareMetrics) share the same endpoint as
	// span tracing; a disabled/stdout endpoint still runs the orchestrator
	// with Counter/Gauge/Histogram calls becoming no-ops (Initialize was
	// never called).
	if *otelEndpoint != "" && *otelEndpoint != "stdout" {
		metricsConfig := telemetry.UseProfile(telemetry.ProfileDevelopment).WithOverrides(telemetry.Config{
			ServiceName: "orka",
			Endpoint:    *otelEndpoint,
		})
		if err := telemetry.Initialize(metricsConfig); err != nil {
			logger.Warn("metrics initialization failed, continuing with tracing only", map[string]interface{}{"error": err.Error()})
		}
	}

	if *workflowPath == "" {
		logger.Error("missing required -workflow flag", nil)
		os.Exit(1)
	}

	doc, err := workflow.LoadFile(*workflowPath)
	if err != nil {
		logger.Error("failed to load workflow", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	store, err := memory.NewRedisStore(memory.RedisStoreOptions{
		RedisURL: *redisURL,
		Decay:    memory.DefaultDecayConfig(),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to connect to the Memory Store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	aiClient, err := ai.NewChainClient(
		ai.WithProviderChain(splitCSV(*providers)...),
		ai.WithChainLogger(logger),
	)
	if err != nil {
		logger.Error("failed to initialize the AI provider chain", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	orc, err := orchestrator.NewWithTelemetry(doc, store, aiClient, logger, tel, memory.DefaultDecayConfig())
	if err != nil {
		logger.Error("failed to compile workflow", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, critical := orc.Run(ctx, *input)
	if critical != nil {
		logger.Error("run ended in a critical failure", map[string]interface{}{"error": critical.Error()})
		os.Exit(1)
	}

	trace := orchestrator.BuildTrace(result, result.Report, nil)
	if err := trace.WriteFile(*tracePath); err != nil {
		logger.Error("failed to write trace file", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	fmt.Printf("run %s finished with status %q (%d steps); trace written to %s\n",
		result.RunID, result.Status, len(result.Logs), *tracePath)
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

