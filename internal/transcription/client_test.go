package transcription

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/skypro1111/stream-stt-service/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(endpoint string) config.TranscriptionConfig {
	return config.TranscriptionConfig{
		Endpoint:      endpoint,
		Timeout:       5,
		MaxRetries:    2,
		MaxConcurrent: 2,
		Language:      "en",
		Model:         "whisper-1",
	}
}

func TestTranscribeSuccess(t *testing.T) {
	var gotPrompt, gotModel string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("bad multipart form: %v", err)
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file field: %v", err)
		} else {
			file.Close()
		}

		gotPrompt = r.FormValue("prompt")
		gotModel = r.FormValue("model")

		json.NewEncoder(w).Encode(map[string]string{"text": "hello from the backend"})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	text, err := client.Transcribe(context.Background(), []byte("fake-wav"), "previous words")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if text != "hello from the backend" {
		t.Errorf("text = %q", text)
	}
	if gotPrompt != "previous words" {
		t.Errorf("prompt = %q", gotPrompt)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q", gotModel)
	}
}

func TestTranscribeRetriesOnFailure(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "third time lucky"})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	text, err := client.Transcribe(context.Background(), []byte("fake-wav"), "")
	if err != nil {
		t.Fatalf("Transcribe failed after retries: %v", err)
	}
	if text != "third time lucky" {
		t.Errorf("text = %q", text)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("backend called %d times, want 3", calls)
	}

	stats := client.GetStats()
	if stats.Retries != 2 {
		t.Errorf("Retries = %d, want 2", stats.Retries)
	}
}

func TestTranscribeExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permanently broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 1

	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Transcribe(context.Background(), []byte("fake-wav"), ""); err == nil {
		t.Error("expected error after exhausted retries")
	}

	stats := client.GetStats()
	if stats.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", stats.FailedRequests)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	cfg := testConfig("")
	if _, err := NewClient(cfg, testLogger()); err == nil {
		t.Error("expected error for missing endpoint")
	}
}
