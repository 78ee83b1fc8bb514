package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-memory/internal/config"
)

func TestOpenAIProviderComplete(t *testing.T) {
	var body map[string]any
	handler := func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"facts\":[\"likes tea\"]}"}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 5, "total_tokens": 8}
		}`))
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", handler)
	mux.HandleFunc("/v1/chat/completions", handler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.LLMConfig{APIKey: "sk", URL: srv.URL, Options: map[string]any{"temperature": 0.1}}
	p := NewOpenAIProvider(cfg, zap.NewNop())

	out, err := p.Complete(context.Background(), []Message{
		{Role: "system", Content: "extract"},
		{Role: "user", Content: "I like tea"},
	}, Options{JSON: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "likes tea") {
		t.Errorf("got %q", out)
	}
	if body["model"] != "gpt-4o-mini" {
		t.Errorf("got model %v", body["model"])
	}
	if body["temperature"] != 0.1 {
		t.Errorf("config temperature not applied: %v", body["temperature"])
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("got response_format %v", body["response_format"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func TestOpenAIProviderImageParts(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-2", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "a red bicycle"}}]
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.LLMConfig{APIKey: "sk", URL: srv.URL}, zap.NewNop())
	if !AcceptsImages(p) {
		t.Fatal("openai provider should accept images")
	}
	out, err := p.Complete(context.Background(), []Message{
		{Role: "user", Content: "describe", Images: []string{"https://example.com/bike.png"}},
	}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "a red bicycle" {
		t.Errorf("got %q", out)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	parts, _ := msgs[0].(map[string]any)["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("got content %v, want text and image parts", msgs[0])
	}
	img, _ := parts[1].(map[string]any)
	url, _ := img["image_url"].(map[string]any)
	if img["type"] != "image_url" || url["url"] != "https://example.com/bike.png" {
		t.Errorf("got image part %v", img)
	}
}

func TestAcceptsImages(t *testing.T) {
	p, err := NewOllamaProvider(config.LLMConfig{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if AcceptsImages(p) {
		t.Error("ollama provider should not accept image URLs")
	}
}

func TestAnthropicProviderComplete(t *testing.T) {
	var body map[string]any
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "ak" {
			http.Error(w, `{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`, http.StatusUnauthorized)
			return
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "hello "}, {"type": "text", "text": "there"}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 1, "output_tokens": 2}
		}`))
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", handler)
	mux.HandleFunc("/messages", handler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAnthropicProvider(config.LLMConfig{APIKey: "ak", URL: srv.URL}, zap.NewNop())
	out, err := p.Complete(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello there" {
		t.Errorf("got %q, want %q", out, "hello there")
	}
	if body["max_tokens"] != float64(anthropicDefaultMaxTokens) {
		t.Errorf("got max_tokens %v", body["max_tokens"])
	}
	if sys, _ := body["system"].([]any); len(sys) != 1 {
		t.Errorf("system prompt not sent separately: %v", body["system"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestOllamaProviderComplete(t *testing.T) {
	var req map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"llama3.1:8b","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"ok"},"done":true}` + "\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := NewOllamaProvider(config.LLMConfig{URL: srv.URL}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Complete(context.Background(), []Message{{Role: "user", Content: "ping"}}, Options{JSON: true, MaxTokens: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Errorf("got %q, want ok", out)
	}
	if req["format"] != "json" {
		t.Errorf("got format %v", req["format"])
	}
	if req["stream"] != false {
		t.Errorf("expected stream=false, got %v", req["stream"])
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{
		{Role: "system", Content: "a"},
		{Role: "user", Content: "q"},
		{Role: "system", Content: "b"},
	})
	if system != "a\n\nb" {
		t.Errorf("got system %q", system)
	}
	if len(rest) != 1 || rest[0].Content != "q" {
		t.Errorf("got rest %v", rest)
	}
}

func TestDefaultsMerge(t *testing.T) {
	d := newDefaults(config.LLMConfig{Model: "m", Options: map[string]any{"temperature": 0.5, "maxTokens": 100}}, "fallback")
	if d.model != "m" {
		t.Errorf("got model %q", d.model)
	}
	hot := 0.9
	got := d.merge(Options{Temperature: &hot})
	if *got.Temperature != 0.9 || got.MaxTokens != 100 {
		t.Errorf("got %+v", got)
	}
	got = d.merge(Options{})
	if *got.Temperature != 0.5 {
		t.Errorf("config temperature not used: %v", *got.Temperature)
	}
}
