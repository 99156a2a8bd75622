package summary

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/skypro1111/stream-stt-service/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(endpoint string) config.SummarizerConfig {
	return config.SummarizerConfig{
		Endpoint:        endpoint,
		Model:           "llama3.1",
		Timeout:         5,
		MaxRetries:      2,
		FinalizeTimeout: 30,
	}
}

func TestSummarizeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}

		if req["format"] != "json" {
			t.Errorf("format = %v, want json", req["format"])
		}
		if req["stream"] != false {
			t.Errorf("stream = %v, want false", req["stream"])
		}
		prompt, _ := req["prompt"].(string)
		if !strings.Contains(prompt, "the transcript body") {
			t.Error("prompt does not contain the transcript")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"response": `{"summary":"a visit","topics":["health"]}`,
			"done":     true,
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	doc, err := client.Summarize(context.Background(), "the transcript body")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	var parsed struct {
		Summary string   `json:"summary"`
		Topics  []string `json:"topics"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	if parsed.Summary != "a visit" {
		t.Errorf("summary = %q", parsed.Summary)
	}
}

func TestSummarizeRejectsInvalidJSON(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"response": "sorry, I cannot produce JSON today",
			"done":     true,
		})
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 1

	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Summarize(context.Background(), "transcript"); err == nil {
		t.Error("expected error for non-JSON model answer")
	}
	// Invalid answers burn attempts like transport failures
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("backend called %d times, want 2", calls)
	}
}

func TestSummarizeRetriesThenFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 1

	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Summarize(context.Background(), "transcript"); err == nil {
		t.Error("expected error after exhausted retries")
	}

	stats := client.GetStats()
	if stats.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", stats.FailedRequests)
	}
	if stats.Retries != 1 {
		t.Errorf("Retries = %d, want 1", stats.Retries)
	}
}

func TestNewClientValidation(t *testing.T) {
	cfg := testConfig("")
	if _, err := NewClient(cfg, testLogger()); err == nil {
		t.Error("expected error for missing endpoint")
	}

	cfg = testConfig("http://localhost:11434/api/generate")
	cfg.Model = ""
	if _, err := NewClient(cfg, testLogger()); err == nil {
		t.Error("expected error for missing model")
	}
}
