package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/resilience"
	"github.com/orkarun/orka/telemetry"
)

// ChainClient implements automatic failover across multiple providers (Phase 3)
// FOLLOWS FRAMEWORK PRINCIPLE: Fail-Fast for Configuration Errors, Resilient Runtime Behavior
type ChainClient struct {
	providers       []core.AIClient
	providerAliases []string // Provider aliases for logging (e.g., "openai", "openai.deepseek")
	// breakers trips per-provider after a run of failures so a provider that
	// is down doesn't eat a full attempt (and its timeout) on every single
	// request -- the chain fails over to the next provider immediately while
	// a breaker is open, exactly the role spec §7 gives "retry-eligible
	// transient" classification in the Failover node, applied here across
	// providers instead of across sibling nodes.
	breakers  []*resilience.CircuitBreaker
	logger    core.Logger
	telemetry core.Telemetry
}

// NewChainClient creates a client that automatically fails over between providers
// This implements the "backup provider support" feature that enables automatic failover.
//
// FOLLOWS FRAMEWORK PRINCIPLES:
// - Fail-Fast Configuration: Invalid provider aliases fail immediately at creation time
// - Resilient Runtime: Missing API keys are warnings, not errors (allows partial chains)
// - Circuit Breaker Integration: Each provider already has circuit breaker protection
func NewChainClient(opts ...ChainOption) (*ChainClient, error) {
	config := &ChainConfig{}
	for _, opt := range opts {
		opt(config)
	}

	// FAIL-FAST: Configuration problems should fail immediately
	if len(config.ProviderAliases) == 0 {
		return nil, fmt.Errorf("configuration error: at least one provider required for chain")
	}

	// Validate provider aliases at configuration time
	validProviders := []string{
		"openai", // Base provider
		"openai.deepseek", "openai.groq", "openai.xai", // OpenAI-wire-compatible
		"openai.together", "openai.qwen", "openai.ollama",
	}

	for _, alias := range config.ProviderAliases {
		valid := false
		for _, v := range validProviders {
			if alias == v || strings.HasPrefix(alias, v+".") {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("configuration error: unknown provider alias %q", alias)
		}
	}

	// Wrap logger with component for consistent attribution
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("framework/ai")
	}

	client := &ChainClient{
		providers:       make([]core.AIClient, 0, len(config.ProviderAliases)),
		providerAliases: make([]string, 0, len(config.ProviderAliases)),
		breakers:        make([]*resilience.CircuitBreaker, 0, len(config.ProviderAliases)),
		logger:          logger,
		telemetry:       config.Telemetry,
	}

	// Create a client for each provider alias
	// RESILIENT: Runtime provider creation failures are handled gracefully
	successCount := 0
	for _, alias := range config.ProviderAliases {
		provider, err := NewClient(
			WithProviderAlias(alias),
			WithLogger(config.Logger),
			WithTelemetry(config.Telemetry),
		)
		if err != nil {
			// Runtime failures (e.g., missing API keys) are warnings, not errors
			// This allows partial chain creation when some providers aren't configured
			logger.Warn("Provider not available (will skip in chain)", map[string]interface{}{
				"operation": "ai_chain_init",
				"alias":     alias,
				"error":     err.Error(),
				"note":      "This provider will be skipped during failover",
			})
			continue // Skip unavailable providers gracefully
		}

		breaker, err := resilience.CreateCircuitBreaker(alias, resilience.ResilienceDependencies{
			Logger:    config.Logger,
			Telemetry: config.Telemetry,
		})
		if err != nil {
			logger.Warn("Circuit breaker creation failed, provider runs unprotected", map[string]interface{}{
				"operation": "ai_chain_init",
				"alias":     alias,
				"error":     err.Error(),
			})
			breaker = nil
		}

		client.providers = append(client.providers, provider)
		client.providerAliases = append(client.providerAliases, alias)
		client.breakers = append(client.breakers, breaker)
		successCount++
	}

	// FAIL-FAST: If NO providers could be created, that's a configuration error
	if successCount == 0 {
		return nil, fmt.Errorf("configuration error: no providers could be initialized (check API keys)")
	}

	logger.Info("Chain client initialized", map[string]interface{}{
		"operation":           "ai_chain_init",
		"requested_providers": len(config.ProviderAliases),
		"available_providers": successCount,
	})

	return client, nil
}

// SetLogger updates the logger after client creation and passes it on to
// every underlying provider that itself exposes SetLogger.
func (c *ChainClient) SetLogger(logger core.Logger) {
	if logger == nil {
		c.logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		c.logger = cal.WithComponent("framework/ai")
	} else {
		c.logger = logger
	}

	// Propagate to all underlying providers
	for _, provider := range c.providers {
		if loggable, ok := provider.(interface{ SetLogger(core.Logger) }); ok {
			loggable.SetLogger(logger)
		}
	}
}

// GenerateResponse tries each provider until one succeeds
// FOLLOWS FRAMEWORK PRINCIPLE: Circuit Breaker Integration for external API calls
//
// Behavior:
// - Clones options for each provider to avoid mutation bleeding across providers
// - Preserves original model setting so each provider can apply its own defaults/resolution
// - Tries each provider in order until one succeeds
// - Fails fast on the client errors isClientError recognizes (bad or invalid
//   requests, content policy) - these would fail the same way on any provider
// - Continues on every other error, including auth errors and server errors (5xx)
// - Returns first successful response
// - Comprehensive telemetry and logging for failover debugging
func (c *ChainClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	startTime := time.Now()

	// Start parent span for the entire chain operation
	var span core.Span = &core.NoOpSpan{}
	if c.telemetry != nil {
		ctx, span = c.telemetry.StartSpan(ctx, "ai.chain.generate_response")
	}
	defer span.End()

	// Preserve original model setting (empty or alias like "smart") so every
	// provider attempt starts from the caller's value, whatever an earlier
	// provider did to the Model field of its own copy
	originalModel := ""
	if options != nil {
		originalModel = options.Model
	}

	// Set span attributes for the chain operation
	span.SetAttribute("ai.chain.providers_count", len(c.providers))
	span.SetAttribute("ai.chain.original_model", originalModel)
	span.SetAttribute("ai.prompt_length", len(prompt))

	// Log chain request start with trace correlation
	if c.logger != nil {
		c.logger.InfoWithContext(ctx, "Chain client request started", map[string]interface{}{
			"operation":        "ai_chain_request",
			"original_model":   originalModel,
			"providers_count":  len(c.providers),
			"provider_aliases": c.providerAliases,
			"prompt_length":    len(prompt),
		})
	}

	var lastErr error
	var failedProviders []string

	for i, provider := range c.providers {
		providerAlias := fmt.Sprintf("provider_%d", i)
		if i < len(c.providerAliases) {
			providerAlias = c.providerAliases[i]
		}
		attemptStart := time.Now()

		// Clone options for each provider to avoid mutation bleeding across providers
		// This fixes the bug where first provider's resolved model is passed to all subsequent providers
		providerOpts := cloneAIOptions(options)

		// Reset model to original so each provider can apply its own defaults/resolution
		// - If original was empty: provider applies its default via "default" alias
		// - If original was alias ("smart"): provider resolves to its own model
		if providerOpts != nil {
			providerOpts.Model = originalModel
		}

		// Create child span for this provider attempt
		var attemptSpan core.Span = &core.NoOpSpan{}
		if c.telemetry != nil {
			_, attemptSpan = c.telemetry.StartSpan(ctx, "ai.chain.provider_attempt")
		}
		attemptSpan.SetAttribute("ai.chain.provider_index", i)
		attemptSpan.SetAttribute("ai.chain.provider_alias", providerAlias)
		attemptSpan.SetAttribute("ai.chain.original_model", originalModel)
		attemptSpan.SetAttribute("ai.chain.is_retry", i > 0)

		// Log provider attempt with trace correlation
		if c.logger != nil {
			c.logger.DebugWithContext(ctx, "Trying provider in chain", map[string]interface{}{
				"operation":       "ai_chain_attempt",
				"provider_index":  i,
				"provider_alias":  providerAlias,
				"original_model":  originalModel,
				"remaining":       len(c.providers) - i - 1,
				"failed_so_far":   failedProviders,
			})
		}

		// Each provider call runs behind its own circuit breaker so a
		// provider stuck failing doesn't pay its full timeout on every
		// request in the chain -- the breaker trips open and the chain
		// moves on to the next provider immediately.
		var resp *core.AIResponse
		genErr := func() error {
			r, e := provider.GenerateResponse(ctx, prompt, providerOpts)
			resp = r
			return e
		}
		var err error
		var breaker *resilience.CircuitBreaker
		if i < len(c.breakers) {
			breaker = c.breakers[i]
		}
		if breaker != nil {
			err = breaker.Execute(ctx, genErr)
		} else {
			err = genErr()
		}
		attemptDuration := time.Since(attemptStart)

		if err == nil {
			// Success!
			attemptSpan.SetAttribute("ai.chain.attempt_status", "success")
			attemptSpan.SetAttribute("ai.chain.attempt_duration_ms", attemptDuration.Milliseconds())
			attemptSpan.End()

			// Record successful attempt metric
			telemetry.Counter("ai.chain.attempt",
				"module", telemetry.ModuleAI,
				"provider", providerAlias,
				"status", "success",
				"attempt", fmt.Sprintf("%d", i+1),
			)

			if i > 0 {
				// Record successful failover metric with details
				telemetry.Counter("ai.chain.failover",
					"module", telemetry.ModuleAI,
					"from_provider", failedProviders[len(failedProviders)-1],
					"to_provider", providerAlias,
					"failed_count", fmt.Sprintf("%d", i),
				)

				span.SetAttribute("ai.chain.failover_count", i)
				span.SetAttribute("ai.chain.successful_provider", providerAlias)

				if c.logger != nil {
					c.logger.InfoWithContext(ctx, "Chain failover succeeded", map[string]interface{}{
						"operation":           "ai_chain_failover_success",
						"failed_providers":    failedProviders,
						"successful_provider": providerAlias,
						"successful_index":    i,
						"total_duration_ms":   time.Since(startTime).Milliseconds(),
					})
				}
			} else {
				if c.logger != nil {
					c.logger.InfoWithContext(ctx, "Chain request succeeded on primary provider", map[string]interface{}{
						"operation":      "ai_chain_success",
						"provider":       providerAlias,
						"duration_ms":    attemptDuration.Milliseconds(),
						"prompt_tokens":  resp.Usage.PromptTokens,
						"output_tokens":  resp.Usage.CompletionTokens,
					})
				}
			}

			span.SetAttribute("ai.chain.status", "success")
			span.SetAttribute("ai.chain.total_duration_ms", time.Since(startTime).Milliseconds())
			return resp, nil
		}

		// Provider failed
		lastErr = err
		failedProviders = append(failedProviders, providerAlias)
		isClient := isClientError(err)

		attemptSpan.SetAttribute("ai.chain.attempt_status", "failed")
		attemptSpan.SetAttribute("ai.chain.attempt_duration_ms", attemptDuration.Milliseconds())
		attemptSpan.SetAttribute("ai.chain.error", err.Error())
		attemptSpan.SetAttribute("ai.chain.is_client_error", isClient)
		attemptSpan.RecordError(err)
		attemptSpan.End()

		// Record failed attempt metric
		telemetry.Counter("ai.chain.attempt",
			"module", telemetry.ModuleAI,
			"provider", providerAlias,
			"status", "failed",
			"attempt", fmt.Sprintf("%d", i+1),
		)

		// Determine if error is retryable (follows framework's resilient runtime behavior)
		// Errors isClientError recognizes abort the chain; all others fail over
		if isClient {
			// Fail fast on client errors - don't try other providers
			span.SetAttribute("ai.chain.status", "client_error")
			span.SetAttribute("ai.chain.abort_reason", "non_retryable_client_error")
			span.RecordError(err)

			if c.logger != nil {
				c.logger.ErrorWithContext(ctx, "Chain aborted - client error not retryable", map[string]interface{}{
					"operation":        "ai_chain_abort",
					"provider":         providerAlias,
					"provider_index":   i,
					"error":            err.Error(),
					"failed_providers": failedProviders,
					"duration_ms":      time.Since(startTime).Milliseconds(),
				})
			}

			return nil, fmt.Errorf("client error (not retrying): %w", err)
		}

		// Log provider failure with trace correlation
		if c.logger != nil {
			c.logger.WarnWithContext(ctx, "Provider failed in chain, trying next", map[string]interface{}{
				"operation":        "ai_chain_provider_failed",
				"provider":         providerAlias,
				"provider_index":   i,
				"error":            err.Error(),
				"remaining":        len(c.providers) - i - 1,
				"duration_ms":      attemptDuration.Milliseconds(),
				"failed_providers": failedProviders,
			})
		}
	}

	// Record chain exhausted metric - all providers failed
	telemetry.Counter("ai.chain.exhausted",
		"module", telemetry.ModuleAI,
		"providers_tried", fmt.Sprintf("%d", len(c.providers)),
	)

	span.SetAttribute("ai.chain.status", "exhausted")
	span.SetAttribute("ai.chain.failed_providers", strings.Join(failedProviders, ","))
	span.SetAttribute("ai.chain.total_duration_ms", time.Since(startTime).Milliseconds())
	span.RecordError(lastErr)

	if c.logger != nil {
		c.logger.ErrorWithContext(ctx, "All chain providers exhausted", map[string]interface{}{
			"operation":        "ai_chain_exhausted",
			"providers_tried":  len(c.providers),
			"failed_providers": failedProviders,
			"final_error":      lastErr.Error(),
			"total_duration_ms": time.Since(startTime).Milliseconds(),
		})
	}

	return nil, fmt.Errorf("all %d providers failed, last error: %w", len(c.providers), lastErr)
}

// StreamResponse tries each streaming-capable provider in order, same
// failover shape as GenerateResponse, with one difference spec §4.5's
// Refresh step requires: once a provider has emitted chunks and then fails,
// the chain does not retry a different provider -- the caller (the
// Streaming Runtime's session loop) may already have forwarded those
// chunks to a listener, so silently replaying the prompt elsewhere would
// duplicate or contradict what was already shown. That case surfaces as
// ErrStreamPartiallyCompleted alongside the partial response, distinct
// from an ordinary pre-stream failure (connection refused, auth error),
// which does failover normally.
func (c *ChainClient) StreamResponse(ctx context.Context, prompt string, options *core.AIOptions, callback core.StreamCallback) (*core.AIResponse, error) {
	originalModel := ""
	if options != nil {
		originalModel = options.Model
	}

	var lastErr error
	var failedProviders []string
	triedAny := false

	for i, provider := range c.providers {
		streaming, ok := provider.(core.StreamingAIClient)
		if !ok || !streaming.SupportsStreaming() {
			continue
		}
		triedAny = true
		providerAlias := fmt.Sprintf("provider_%d", i)
		if i < len(c.providerAliases) {
			providerAlias = c.providerAliases[i]
		}

		providerOpts := cloneAIOptions(options)
		if providerOpts != nil {
			providerOpts.Model = originalModel
		}

		// A stream can't be replayed through CircuitBreaker.Execute (that
		// would re-run the callback and double-send already-delivered
		// chunks), so the breaker here only observes the single attempt's
		// outcome rather than gating it.
		var breaker *resilience.CircuitBreaker
		if i < len(c.breakers) {
			breaker = c.breakers[i]
		}
		if breaker != nil && !breaker.CanExecute() {
			lastErr = fmt.Errorf("circuit breaker '%s' is open: %w", providerAlias, core.ErrCircuitBreakerOpen)
			failedProviders = append(failedProviders, providerAlias)
			continue
		}

		resp, err := streaming.StreamResponse(ctx, prompt, providerOpts, callback)
		if breaker != nil {
			if err != nil && !errors.Is(err, core.ErrStreamPartiallyCompleted) {
				breaker.RecordFailure()
			} else {
				breaker.RecordSuccess()
			}
		}
		if err == nil {
			if c.logger != nil {
				c.logger.InfoWithContext(ctx, "Chain stream succeeded", map[string]interface{}{
					"operation": "ai_chain_stream_success",
					"provider":  providerAlias,
				})
			}
			return resp, nil
		}
		if errors.Is(err, core.ErrStreamPartiallyCompleted) {
			if c.logger != nil {
				c.logger.WarnWithContext(ctx, "Chain stream partially completed, not failing over", map[string]interface{}{
					"operation": "ai_chain_stream_partial",
					"provider":  providerAlias,
				})
			}
			return resp, err
		}

		lastErr = err
		failedProviders = append(failedProviders, providerAlias)
		if c.logger != nil {
			c.logger.WarnWithContext(ctx, "Streaming provider failed in chain, trying next", map[string]interface{}{
				"operation": "ai_chain_stream_provider_failed",
				"provider":  providerAlias,
				"error":     err.Error(),
			})
		}
	}

	if !triedAny {
		return nil, fmt.Errorf("no provider in chain supports streaming")
	}
	return nil, fmt.Errorf("all %d streaming providers failed, last error: %w", len(failedProviders), lastErr)
}

// SupportsStreaming reports whether at least one chained provider
// implements core.StreamingAIClient and currently supports streaming.
func (c *ChainClient) SupportsStreaming() bool {
	for _, provider := range c.providers {
		if streaming, ok := provider.(core.StreamingAIClient); ok && streaming.SupportsStreaming() {
			return true
		}
	}
	return false
}

var _ core.StreamingAIClient = (*ChainClient)(nil)

// cloneAIOptions creates a shallow copy of AIOptions to prevent mutation bleeding across providers.
// Without cloning, a provider that changed options.Model would hand that changed model name
// to every subsequent provider in the chain.
//
// IMPORTANT: This is a shallow copy. It works correctly because core.AIOptions contains only
// value types (string, int, float64) that are copied by value. If AIOptions ever gains slice,
// map, or pointer fields, this function must be updated to deep copy those fields.
func cloneAIOptions(opts *core.AIOptions) *core.AIOptions {
	if opts == nil {
		return nil
	}
	clone := *opts
	return &clone
}

// isClientError checks if the error is a non-retryable client error
// In a provider chain, we WANT to failover on authentication errors because
// each provider has its own API key. An auth error on one provider tries the next.
//
// Non-retryable errors (don't try other providers):
// - Bad request (malformed input)
// - Content policy violations
// - Invalid requests / invalid parameters
//
// Retryable errors (DO try other providers):
// - Authentication/API key errors (each provider has different key!)
// - Rate limits
// - Server errors
func isClientError(err error) bool {
	errStr := err.Error()
	errLower := strings.ToLower(errStr)

	// Authentication errors SHOULD trigger failover to next provider
	// because each provider in the chain has its own API key
	authPatterns := []string{
		"api key",
		"authentication",
		"unauthorized",
		"invalid key",
		"missing key",
		"401",
	}
	for _, pattern := range authPatterns {
		if strings.Contains(errLower, pattern) {
			return false // Allow failover to next provider
		}
	}

	// These errors are true client errors - don't retry
	// (same bad input would fail on any provider)
	clientErrorPatterns := []string{
		"bad request",
		"content policy",
		"invalid request",
		"invalid parameter",
		"malformed",
	}

	for _, pattern := range clientErrorPatterns {
		if strings.Contains(errLower, pattern) {
			return true
		}
	}

	// Default to false (retry on other providers)
	// This is conservative - better to retry than fail fast
	return false
}

// ChainConfig holds configuration for chain client
type ChainConfig struct {
	ProviderAliases []string
	Logger          core.Logger
	Telemetry       core.Telemetry
}

// ChainOption configures a chain client
type ChainOption func(*ChainConfig)

// WithProviderChain sets the provider aliases to try in order
// Example: WithProviderChain("openai", "openai.deepseek", "openai.groq")
// The client will try OpenAI first, then DeepSeek, then Groq until one succeeds.
func WithProviderChain(aliases ...string) ChainOption {
	return func(c *ChainConfig) {
		c.ProviderAliases = aliases
	}
}

// WithChainLogger sets the logger for the chain client
// This enables tracking of failover attempts and provider selection.
func WithChainLogger(logger core.Logger) ChainOption {
	return func(c *ChainConfig) {
		c.Logger = logger
	}
}

// WithChainTelemetry sets the telemetry provider for the chain client
// This enables distributed tracing for AI operations across all providers in the chain.
func WithChainTelemetry(telemetry core.Telemetry) ChainOption {
	return func(c *ChainConfig) {
		c.Telemetry = telemetry
	}
}
