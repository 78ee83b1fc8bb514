//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("NUKA_MEMORY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3210"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

type memoryItem struct {
	ID     string   `json:"id"`
	Memory string   `json:"memory"`
	Score  *float64 `json:"score"`
}

type searchResult struct {
	Results []memoryItem `json:"results"`
}

func call(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, baseURL+path, r)
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s %s: %v\n%s", method, path, err, data)
		}
	}
	return resp.StatusCode
}

func TestSmoke_Health(t *testing.T) {
	var body map[string]string
	if code := call(t, "GET", "/api/health", nil, &body); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("expected ok, got %q", body["status"])
	}
}

func TestSmoke_AddSearchDelete(t *testing.T) {
	user := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	t.Cleanup(func() { call(t, "DELETE", "/api/memories?userId="+user, nil, nil) })

	var added searchResult
	code := call(t, "POST", "/api/memories", map[string]interface{}{
		"userId": user,
		"messages": []map[string]string{
			{"role": "user", "content": "My favourite drink is jasmine tea"},
			{"role": "user", "content": "I am learning to play the cello"},
		},
	}, &added)
	if code != 201 || len(added.Results) != 2 {
		t.Fatalf("add: code %d, %d results", code, len(added.Results))
	}

	var found searchResult
	code = call(t, "POST", "/api/memories/search", map[string]interface{}{
		"userId": user,
		"query":  "what does the user like to drink?",
		"limit":  1,
	}, &found)
	if code != 200 || len(found.Results) != 1 {
		t.Fatalf("search: code %d, %d results", code, len(found.Results))
	}
	if !strings.Contains(found.Results[0].Memory, "tea") {
		t.Errorf("expected the tea memory first, got %q", found.Results[0].Memory)
	}

	id := added.Results[0].ID
	if code := call(t, "DELETE", "/api/memories/"+id, nil, nil); code != 200 {
		t.Fatalf("delete: expected 200, got %d", code)
	}
	if code := call(t, "GET", "/api/memories/"+id, nil, nil); code != 404 {
		t.Errorf("get after delete: expected 404, got %d", code)
	}
}

func TestSmoke_InferFacts(t *testing.T) {
	if os.Getenv("NUKA_E2E_LLM") == "" {
		t.Skip("NUKA_E2E_LLM not set")
	}
	user := fmt.Sprintf("smoke-infer-%d", time.Now().UnixNano())
	t.Cleanup(func() { call(t, "DELETE", "/api/memories?userId="+user, nil, nil) })

	var added searchResult
	code := call(t, "POST", "/api/memories", map[string]interface{}{
		"userId": user,
		"infer":  true,
		"messages": []map[string]string{
			{"role": "user", "content": "Hi! I just moved to Lisbon and I'm allergic to peanuts."},
		},
	}, &added)
	if code != 201 {
		t.Fatalf("add: expected 201, got %d", code)
	}
	if len(added.Results) == 0 {
		t.Fatal("expected at least one inferred fact")
	}
	for _, m := range added.Results {
		t.Logf("fact: %s", m.Memory)
	}
}

func TestSmoke_ValidateConfig(t *testing.T) {
	var body struct {
		Valid  bool `json:"valid"`
		Errors []struct {
			Path string `json:"path"`
		} `json:"errors"`
	}
	code := call(t, "POST", "/api/config/validate", map[string]interface{}{
		"embedder": map[string]interface{}{"provider": "openai", "config": map[string]interface{}{}},
	}, &body)
	if code != 422 {
		t.Fatalf("expected 422, got %d", code)
	}
	if body.Valid || len(body.Errors) < 3 {
		t.Errorf("expected embedder, vectorStore and llm errors, got %+v", body.Errors)
	}
}
