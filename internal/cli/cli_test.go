package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-memory/internal/api"
	"github.com/nidhogg/nuka-memory/internal/llm"
	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/resolver"
	"github.com/nidhogg/nuka-memory/internal/vectorstore"
)

type lengthEmbedder struct{}

func (lengthEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (lengthEmbedder) Dimension() int { return 2 }

type silentLLM struct{}

func (silentLLM) Complete(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	return `{"facts": []}`, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	vs, err := vectorstore.NewMemoryStore("memories", 0, logger)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := memory.New(context.Background(), &resolver.ResolvedMemoryConfig{
		Embedder:       lengthEmbedder{},
		LLM:            silentLLM{},
		VectorStore:    vs,
		CollectionName: "memories",
		StoreHistory:   true,
	}, logger)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(api.NewHandler(mem, logger).Router())
	t.Cleanup(func() {
		ts.Close()
		mem.Close()
	})
	return ts
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"embedder": {"provider": "ollama", "config": {"model": "nomic-embed-text", "dimension": 768}},
		"vectorStore": {"provider": "memory", "config": {"collectionName": "memories"}},
		"llm": {"provider": "ollama", "config": {"model": "llama3.1"}}
	}`)
	out, err := run(t, "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("got %q", out)
	}
}

func TestValidateReportsEveryField(t *testing.T) {
	path := writeConfig(t, `{
		"embedder": {"provider": "openai", "config": {}},
		"llm": {"provider": "openai", "config": {"apiKey": 42}}
	}`)
	out, err := run(t, "validate", path)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"embedder.config.apiKey", "vectorStore", "llm.config.apiKey"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateResolveUnknownProvider(t *testing.T) {
	path := writeConfig(t, `{
		"embedder": {"provider": "ollama", "config": {"dimension": 768}},
		"vectorStore": {"provider": "nosuchstore", "config": {"collectionName": "m"}},
		"llm": {"provider": "ollama", "config": {}}
	}`)
	if _, err := run(t, "validate", path); err != nil {
		t.Fatalf("schema-only validate should pass: %v", err)
	}
	_, err := run(t, "validate", "--resolve", path)
	if err == nil || !strings.Contains(err.Error(), "nosuchstore") {
		t.Errorf("got %v, want unknown provider error", err)
	}
}

func TestAddSearchGet(t *testing.T) {
	ts := newTestServer(t)

	out, err := run(t, "--server", ts.URL, "--user", "alice", "add", "Likes", "long", "walks")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	var added memory.SearchResult
	if err := json.Unmarshal([]byte(out), &added); err != nil {
		t.Fatalf("decode add output: %v\n%s", err, out)
	}
	if len(added.Results) != 1 || added.Results[0].Memory != "Likes long walks" {
		t.Fatalf("got %+v", added.Results)
	}
	id := added.Results[0].ID

	out, err = run(t, "-s", ts.URL, "-u", "alice", "search", "walks")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out, id) {
		t.Errorf("search output missing %s:\n%s", id, out)
	}

	if _, err := run(t, "-s", ts.URL, "update", id, "Likes", "short", "walks"); err != nil {
		t.Fatalf("update: %v", err)
	}
	out, err = run(t, "-s", ts.URL, "get", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out, "Likes short walks") {
		t.Errorf("got %s", out)
	}

	out, err = run(t, "-s", ts.URL, "history", id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, `"UPDATE"`) {
		t.Errorf("history missing UPDATE:\n%s", out)
	}

	if _, err := run(t, "-s", ts.URL, "-u", "alice", "delete", "--all"); err != nil {
		t.Fatalf("delete --all: %v", err)
	}
	_, err = run(t, "-s", ts.URL, "get", id)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Errorf("got %v, want 404", err)
	}
}

func TestAddWithoutScope(t *testing.T) {
	ts := newTestServer(t)
	_, err := run(t, "--server", ts.URL, "add", "orphan")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 400 {
		t.Errorf("got %v, want 400", err)
	}
}

func TestAddImageNeedsImageCapableLLM(t *testing.T) {
	ts := newTestServer(t)
	_, err := run(t, "--server", ts.URL, "--user", "alice", "add", "--image", "https://example.com/a.png")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 400 {
		t.Errorf("got %v, want 400", err)
	}
}

func TestResetRequiresConfirmation(t *testing.T) {
	ts := newTestServer(t)
	if _, err := run(t, "--server", ts.URL, "reset"); err == nil {
		t.Error("expected reset without --yes to fail")
	}
	if _, err := run(t, "--server", ts.URL, "reset", "--yes"); err != nil {
		t.Errorf("reset --yes: %v", err)
	}
}
