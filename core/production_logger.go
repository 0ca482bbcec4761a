package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// LoggingConfig configures a ProductionLogger's output.
type LoggingConfig struct {
	Level  string // debug|info|warn|error
	Format string // "json" or "text"
	Output string // "stdout" or "stderr"
}

// DevelopmentConfig toggles developer-facing logging behavior (verbose
// debug output regardless of Level).
type DevelopmentConfig struct {
	DebugLogging bool
}

// ProductionLogger provides layered observability for framework-internal
// operations (resilience, orchestration): structured or human-readable
// output, optional trace-context enrichment, and optional metrics emission
// once a telemetry module registers itself via SetMetricsRegistry.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer

	metricsEnabled bool
}

// NewProductionLogger creates a logger from LoggingConfig/DevelopmentConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	logger := &ProductionLogger{
		level:          strings.ToLower(logging.Level),
		debug:          dev.DebugLogging || logging.Level == "debug",
		serviceName:    serviceName,
		format:         logging.Format,
		output:         output,
		metricsEnabled: false,
	}
	trackLogger(logger)
	return logger
}

// EnableMetrics is called by trackLogger once a telemetry module registers
// a MetricsRegistry, so loggers created before telemetry initialized still
// pick up metrics emission.
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

// WithComponent returns a logger tagged with component, satisfying
// ComponentAwareLogger.
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.serviceName = component
	return &clone
}

// GetComponent reports the component this logger is tagged with.
func (p *ProductionLogger) GetComponent() string {
	return p.serviceName
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": "framework",
			"message":   msg,
		}

		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); len(baggage) > 0 {
				for k, v := range baggage {
					logEntry["trace."+k] = v
				}
			}
		}

		for k, v := range fields {
			logEntry[k] = v
		}

		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		traceInfo := ""
		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); baggage["request_id"] != "" {
				traceInfo = fmt.Sprintf("[req=%s] ", baggage["request_id"])
			}
		}

		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}

		fmt.Fprintf(p.output, "%s [%s] [%s] %s%s%s\n",
			timestamp, level, p.serviceName, traceInfo, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitFrameworkMetric(level, msg, fields, ctx)
	}
}

func (p *ProductionLogger) emitFrameworkMetric(level, msg string, fields map[string]interface{}, ctx context.Context) {
	labels := []string{
		"level", level,
		"service", p.serviceName,
		"component", "framework",
	}

	for k, v := range fields {
		switch k {
		case "operation", "status", "error_type", "service_type", "provider":
			labels = append(labels, k, fmt.Sprintf("%v", v))
		}
	}

	if ctx != nil {
		emitMetricWithContext(ctx, "orka.framework.operations", 1.0, labels...)
	} else {
		emitMetric("orka.framework.operations", 1.0, labels...)
	}
}

func emitMetric(name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.Counter(name, labels...)
	}
}

func emitMetricWithContext(ctx context.Context, name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.EmitWithContext(ctx, name, value, labels...)
	}
}

func getContextBaggage(ctx context.Context) map[string]string {
	if globalMetricsRegistry != nil {
		return globalMetricsRegistry.GetBaggage(ctx)
	}
	return make(map[string]string)
}
