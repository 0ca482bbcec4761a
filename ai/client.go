package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/orkarun/orka/core"
	"github.com/orkarun/orka/resilience"
)

// OpenAIClient implements core.AIClient and core.StreamingAIClient against
// any backend that speaks the OpenAI chat-completions wire format -- not
// just OpenAI itself. WithProviderAlias's subprovider resolution (deepseek,
// groq, xai, qwen, together, ollama) all point this same client at a
// different baseURL, because they all expose that wire-compatible API; a
// genuinely different wire format (Anthropic's, Gemini's) would need its
// own client, out of scope here per spec §1's "external LLM client" being a
// boundary this runtime calls through, not one it needs many flavors of.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float32
	maxTokens   int
	maxRetries  int
	httpClient  *http.Client
	logger      core.Logger
}

// NewOpenAIClient creates a client against the vanilla OpenAI API, reading
// OPENAI_API_KEY when apiKey is empty. Kept for callers that just want a
// plain OpenAI client without going through NewClient's alias/env
// resolution.
func NewOpenAIClient(apiKey string, logger core.Logger) *OpenAIClient {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    "https://api.openai.com/v1",
		model:      "gpt-4",
		maxRetries: 1,
		httpClient: &http.Client{Timeout: 30 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:     logger,
	}
}

// providerRequiringAPIKey reports whether alias needs a non-empty API key;
// ollama serves local models and has none.
func providerRequiringAPIKey(alias string) bool {
	return !strings.HasSuffix(alias, ".ollama")
}

// envDetectionOrder is the auto-detect priority used when the caller asks
// for WithProvider(ProviderAuto) or leaves Provider unset without supplying
// an API key or base URL: check each
// OpenAI-compatible service's well-known API key variable in turn, falling
// back to a local Ollama probe, mirroring the priority order the teacher's
// registry-based provider detection used (highest-signal hosted service
// first, free local runtime last).
var envDetectionOrder = []struct {
	alias  string
	envKey string
}{
	{"openai", "OPENAI_API_KEY"},
	{"openai.groq", "GROQ_API_KEY"},
	{"openai.deepseek", "DEEPSEEK_API_KEY"},
	{"openai.xai", "XAI_API_KEY"},
	{"openai.qwen", "QWEN_API_KEY"},
	{"openai.together", "TOGETHER_API_KEY"},
}

func detectProviderAlias() (string, error) {
	for _, candidate := range envDetectionOrder {
		if os.Getenv(candidate.envKey) != "" {
			return candidate.alias, nil
		}
	}
	if isLocalOllamaAvailable() {
		return "openai.ollama", nil
	}
	return "", fmt.Errorf("no AI provider available: set one of OPENAI_API_KEY, GROQ_API_KEY, DEEPSEEK_API_KEY, XAI_API_KEY, QWEN_API_KEY, TOGETHER_API_KEY, or run Ollama locally")
}

func isLocalOllamaAvailable() bool {
	baseURL := firstNonEmpty(os.Getenv("OLLAMA_BASE_URL"), "http://localhost:11434/v1")
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/models")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// NewClient builds the one concrete core.AIClient this runtime constructs,
// resolving provider/alias/credentials from opts the same way
// WithProviderAlias already does for ChainClient's per-alias construction.
func NewClient(opts ...AIOption) (core.AIClient, error) {
	config := &AIConfig{}
	for _, opt := range opts {
		opt(config)
	}

	alias := config.ProviderAlias
	if alias == "" {
		alias = config.Provider
	}
	if alias == "" && (config.APIKey != "" || config.BaseURL != "") {
		// Explicit credentials with no provider name address a plain
		// OpenAI-wire endpoint; environment auto-detection is skipped.
		alias = string(ProviderOpenAI)
	}
	if alias == "" || alias == string(ProviderAuto) {
		detected, err := detectProviderAlias()
		if err != nil {
			return nil, err
		}
		alias = detected
		WithProviderAlias(alias)(config)
	} else if config.ProviderAlias == "" {
		// A bare WithProvider("openai") / WithProvider("openai.groq") call
		// still needs the alias-driven env/base-URL resolution applied.
		WithProviderAlias(alias)(config)
	}
	if alias == string(ProviderOpenAI) && config.APIKey == "" {
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if !strings.HasPrefix(alias, "openai") {
		return nil, fmt.Errorf("provider %q not supported: this runtime only wires OpenAI-wire-compatible backends (openai, openai.groq, openai.deepseek, openai.xai, openai.qwen, openai.together, openai.ollama)", alias)
	}

	if providerRequiringAPIKey(alias) && config.APIKey == "" {
		return nil, fmt.Errorf("%s: API key not configured", alias)
	}

	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	// Every outbound LLM call gets its own otelhttp-instrumented span
	// (nested under ChainClient's "ai.chain.provider_attempt" span, when
	// called through the chain) so a slow/failing provider is visible in
	// the same trace as the node execution that triggered it.
	var transport http.RoundTripper = http.DefaultTransport
	if len(config.Headers) > 0 {
		transport = &headerTransport{headers: config.Headers, base: transport}
	}
	transport = otelhttp.NewTransport(transport)

	client := &OpenAIClient{
		apiKey:      config.APIKey,
		baseURL:     firstNonEmpty(config.BaseURL, "https://api.openai.com/v1"),
		model:       firstNonEmpty(config.Model, "gpt-4"),
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		maxRetries:  maxRetries,
		httpClient:  &http.Client{Timeout: timeout, Transport: transport},
		logger:      logger,
	}
	return client, nil
}

// headerTransport injects caller-supplied headers (e.g. a reverse-proxy
// auth token in front of a self-hosted OpenAI-compatible endpoint) onto
// every request this client issues.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func (c *OpenAIClient) chatRequestBody(prompt string, options *core.AIOptions, stream bool) ([]byte, *core.AIOptions) {
	if options == nil {
		options = &core.AIOptions{
			Model:       c.model,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		}
	}
	model := firstNonEmpty(options.Model, c.model)
	temperature := options.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := options.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []map[string]string{}
	if options.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": options.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	reqBody := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	}
	if stream {
		reqBody["stream"] = true
	}
	data, _ := json.Marshal(reqBody)
	return data, options
}

// GenerateResponse generates a response from the configured OpenAI-wire
// endpoint, retrying transient failures (rate limits, 5xx, connection
// resets -- resilience.IsTransient's classification) with backoff before
// giving up; non-transient failures (bad request, auth) return immediately
// since retrying them would just reproduce the same error.
func (c *OpenAIClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	if c.apiKey == "" && providerRequiringAPIKeyBaseURL(c.baseURL) {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	var resp *core.AIResponse
	attempt := func() error {
		r, err := c.doChatCompletion(ctx, prompt, options)
		if err == nil {
			resp = r
		}
		return err
	}

	err := attempt()
	if err != nil && resilience.IsTransient(err) && c.maxRetries > 1 {
		cfg := resilience.DefaultRetryConfig()
		cfg.MaxAttempts = c.maxRetries
		err = resilience.Retry(ctx, cfg, attempt)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// providerRequiringAPIKeyBaseURL is the baseURL-side complement to
// providerRequiringAPIKey, used where only the resolved baseURL (not the
// original alias) is in hand.
func providerRequiringAPIKeyBaseURL(baseURL string) bool {
	return !strings.Contains(baseURL, "localhost") && !strings.Contains(baseURL, "127.0.0.1")
}

func (c *OpenAIClient) doChatCompletion(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	jsonData, _ := c.chatRequestBody(prompt, options, false)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat completions API error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no response from provider")
	}

	return &core.AIResponse{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage: core.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

// StreamResponse streams chat completion chunks via the OpenAI
// chat-completions SSE wire format ("data: {...}\n\n", terminated by
// "data: [DONE]"), delivering each as a core.StreamChunk to callback. If
// the stream fails after at least one chunk was already delivered, it
// returns the partial response alongside core.ErrStreamPartiallyCompleted
// so ChainClient does not fail over and replay the prompt elsewhere (spec
// §4.5 Refresh).
func (c *OpenAIClient) StreamResponse(ctx context.Context, prompt string, options *core.AIOptions, callback core.StreamCallback) (*core.AIResponse, error) {
	if c.apiKey == "" && providerRequiringAPIKeyBaseURL(c.baseURL) {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	jsonData, resolvedOptions := c.chatRequestBody(prompt, options, true)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chat completions API error (status %d): %s", resp.StatusCode, string(body))
	}

	var content strings.Builder
	model := resolvedOptions.Model
	index := 0
	delivered := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var event struct {
			Model   string `json:"model"`
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		if event.Model != "" {
			model = event.Model
		}
		for _, choice := range event.Choices {
			if choice.Delta.Content == "" && choice.FinishReason == "" {
				continue
			}
			content.WriteString(choice.Delta.Content)
			chunk := core.StreamChunk{
				Content:      choice.Delta.Content,
				Delta:        choice.FinishReason == "",
				Index:        index,
				Model:        model,
				FinishReason: choice.FinishReason,
			}
			index++
			delivered = true
			if cbErr := callback(chunk); cbErr != nil {
				return &core.AIResponse{Content: content.String(), Model: model}, nil
			}
		}
	}

	partial := &core.AIResponse{Content: content.String(), Model: model}
	if err := scanner.Err(); err != nil {
		if delivered {
			return partial, fmt.Errorf("%w: %v", core.ErrStreamPartiallyCompleted, err)
		}
		return nil, fmt.Errorf("stream read failed: %w", err)
	}
	return partial, nil
}

// SupportsStreaming reports that this client can stream.
func (c *OpenAIClient) SupportsStreaming() bool {
	return true
}

var (
	_ core.AIClient          = (*OpenAIClient)(nil)
	_ core.StreamingAIClient = (*OpenAIClient)(nil)
)