package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/orkarun/orka/core"
)

// TestNewClient_AutoDetectFromEnv verifies NewClient falls back to env-var
// detection (the same priority order ChainClient uses per-alias) when the
// caller supplies no provider option at all.
func TestNewClient_AutoDetectFromEnv(t *testing.T) {
	originalVars := saveChainEnvironment()
	defer restoreChainEnvironment(originalVars)
	clearAllChainEnvVars()

	os.Setenv("DEEPSEEK_API_KEY", "test-deepseek-key")

	client, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient() with DEEPSEEK_API_KEY set: unexpected error: %v", err)
	}
	oc, ok := client.(*OpenAIClient)
	if !ok {
		t.Fatalf("expected *OpenAIClient, got %T", client)
	}
	if oc.baseURL != "https://api.deepseek.com" {
		t.Errorf("expected deepseek base URL, got %q", oc.baseURL)
	}
	if oc.apiKey != "test-deepseek-key" {
		t.Errorf("expected detected API key wired through, got %q", oc.apiKey)
	}
}

// TestNewClient_NoProviderAvailable verifies the fail-fast error when
// nothing in envDetectionOrder is set and no local Ollama responds.
func TestNewClient_NoProviderAvailable(t *testing.T) {
	originalVars := saveChainEnvironment()
	defer restoreChainEnvironment(originalVars)
	clearAllChainEnvVars()
	os.Setenv("OLLAMA_BASE_URL", "http://127.0.0.1:1") // guaranteed unreachable

	_, err := NewClient()
	if err == nil {
		t.Fatal("expected an error when no provider is configured and Ollama is unreachable")
	}
}

// TestNewClient_RejectsNonOpenAIAlias verifies the registry-removal
// boundary: only openai*-prefixed aliases are accepted now that the
// Anthropic/Gemini/Bedrock backends are gone.
func TestNewClient_RejectsNonOpenAIAlias(t *testing.T) {
	_, err := NewClient(WithProvider("anthropic"), WithAPIKey("sk-test"))
	if err == nil {
		t.Fatal("expected an error for a non-openai-prefixed provider")
	}
	if want := "not supported"; !strings.Contains(err.Error(), want) {
		t.Errorf("expected error mentioning %q, got %q", want, err.Error())
	}
}

// TestNewClient_OllamaNeedsNoAPIKey verifies the one alias that's exempt
// from the API-key requirement.
func TestNewClient_OllamaNeedsNoAPIKey(t *testing.T) {
	client, err := NewClient(WithProviderAlias("openai.ollama"))
	if err != nil {
		t.Fatalf("unexpected error for ollama alias without an API key: %v", err)
	}
	oc := client.(*OpenAIClient)
	if oc.apiKey != "" {
		t.Errorf("expected empty API key for ollama, got %q", oc.apiKey)
	}
}

// TestNewClient_MissingAPIKeyFails verifies a hosted alias without a key
// fails fast rather than constructing a client that will 401 at call time.
func TestNewClient_MissingAPIKeyFails(t *testing.T) {
	originalVars := saveChainEnvironment()
	defer restoreChainEnvironment(originalVars)
	clearAllChainEnvVars()

	_, err := NewClient(WithProviderAlias("openai.groq"))
	if err == nil {
		t.Fatal("expected an error when a hosted provider has no API key configured")
	}
}

// TestOpenAIClient_GenerateResponse_Success exercises the happy path
// against a fake OpenAI-wire-compatible server.
func TestOpenAIClient_GenerateResponse_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected bearer auth header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"model": "gpt-4",
			"choices": [{"message": {"content": "hello there"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
		}`)
	}))
	defer server.Close()

	client, err := NewClient(WithAPIKey("test-key"), WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.GenerateResponse(context.Background(), "hi", &core.AIOptions{Model: "gpt-4"})
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("expected content %q, got %q", "hello there", resp.Content)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("expected 13 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

// TestOpenAIClient_GenerateResponse_RetriesTransientThenSucceeds verifies
// the resilience.Retry wiring: a 503 (transient) is retried and the second
// attempt's success is returned, rather than surfacing the first failure.
func TestOpenAIClient_GenerateResponse_RetriesTransientThenSucceeds(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "service unavailable")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model": "gpt-4", "choices": [{"message": {"content": "ok"}}], "usage": {}}`)
	}))
	defer server.Close()

	client, err := NewClient(WithAPIKey("test-key"), WithBaseURL(server.URL), WithMaxRetries(3))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.GenerateResponse(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("expected the retry to recover from the transient 503, got error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected recovered content %q, got %q", "ok", resp.Content)
	}
	if attempts < 2 {
		t.Errorf("expected at least 2 attempts (one failure, one retry), got %d", attempts)
	}
}

// TestOpenAIClient_GenerateResponse_NonTransientFailsFast verifies a 400
// (not in resilience.IsTransient's set) is returned immediately without
// retrying, since retrying a bad request would just reproduce it.
func TestOpenAIClient_GenerateResponse_NonTransientFailsFast(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "bad request")
	}))
	defer server.Close()

	client, err := NewClient(WithAPIKey("test-key"), WithBaseURL(server.URL), WithMaxRetries(3))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.GenerateResponse(context.Background(), "hi", nil)
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-transient error, got %d", attempts)
	}
}

// TestOpenAIClient_StreamResponse_DeliversChunks verifies the SSE parser
// delivers each delta to the callback and assembles the full content.
func TestOpenAIClient_StreamResponse_DeliversChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"model\":\"gpt-4\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		if flusher != nil {
			flusher.Flush()
		}
		fmt.Fprint(w, "data: {\"model\":\"gpt-4\",\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		if flusher != nil {
			flusher.Flush()
		}
		fmt.Fprint(w, "data: {\"model\":\"gpt-4\",\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := NewClient(WithAPIKey("test-key"), WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	streamer, ok := client.(core.StreamingAIClient)
	if !ok {
		t.Fatal("expected client to implement core.StreamingAIClient")
	}
	if !streamer.SupportsStreaming() {
		t.Fatal("expected SupportsStreaming() to be true")
	}

	var chunks []core.StreamChunk
	resp, err := streamer.StreamResponse(context.Background(), "hi", nil, func(c core.StreamChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse: %v", err)
	}
	if resp.Content != "Hello" {
		t.Errorf("expected assembled content %q, got %q", "Hello", resp.Content)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 delivered chunks, got %d", len(chunks))
	}
	if chunks[len(chunks)-1].FinishReason != "stop" {
		t.Errorf("expected final chunk finish_reason %q, got %q", "stop", chunks[len(chunks)-1].FinishReason)
	}
}

// TestOpenAIClient_StreamResponse_PartialFailureWrapsErr verifies a stream
// that dies mid-delivery returns core.ErrStreamPartiallyCompleted alongside
// the partial content, so ChainClient knows not to fail over and replay.
func TestOpenAIClient_StreamResponse_PartialFailureWrapsErr(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("httptest server does not support hijacking")
		}
		fmt.Fprint(w, "data: {\"model\":\"gpt-4\",\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack: %v", err)
		}
		conn.Close() // severs the connection mid-stream, after one chunk was sent
	}))
	defer server.Close()

	client, err := NewClient(WithAPIKey("test-key"), WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	streamer := client.(core.StreamingAIClient)

	resp, err := streamer.StreamResponse(context.Background(), "hi", nil, func(core.StreamChunk) error { return nil })
	if err == nil {
		t.Fatal("expected an error after the connection was severed mid-stream")
	}
	if !errors.Is(err, core.ErrStreamPartiallyCompleted) {
		t.Errorf("expected error wrapping core.ErrStreamPartiallyCompleted, got %v", err)
	}
	if resp == nil || resp.Content != "partial" {
		t.Errorf("expected the partial response to be returned alongside the error, got %+v", resp)
	}
}
