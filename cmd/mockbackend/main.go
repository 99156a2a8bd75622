// Mock transcription and summarization backend for local development and
// integration testing. Serves a multipart /transcribe endpoint and an
// Ollama-compatible /api/generate endpoint with canned responses.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

var (
	transcribeCount int64
	generateCount   int64
)

var sampleTexts = []string{
	"the patient reports mild headaches since monday",
	"blood pressure is within the normal range",
	"we will schedule a follow up in two weeks",
	"no known allergies to the prescribed medication",
	"symptoms have improved since the last visit",
}

func main() {
	port := flag.Int("port", 9090, "port to listen on")
	delay := flag.Duration("delay", 200*time.Millisecond, "simulated processing delay")
	failEvery := flag.Int("fail-every", 0, "fail every Nth transcription request (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()

	mux.HandleFunc("POST /transcribe", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&transcribeCount, 1)

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "invalid multipart form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file field", http.StatusBadRequest)
			return
		}
		defer file.Close()

		size, _ := io.Copy(io.Discard, file)

		time.Sleep(*delay)

		if *failEvery > 0 && n%int64(*failEvery) == 0 {
			logger.Warn("Simulating transcription failure", slog.Int64("request", n))
			http.Error(w, "simulated backend failure", http.StatusInternalServerError)
			return
		}

		text := sampleTexts[int(n)%len(sampleTexts)]

		logger.Info("Transcription request",
			slog.Int64("request", n),
			slog.String("filename", header.Filename),
			slog.Int64("bytes", size),
			slog.String("prompt", r.FormValue("prompt")),
		)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": text})
	})

	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&generateCount, 1)

		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
			Format string `json:"format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		time.Sleep(*delay)

		summaryDoc, _ := json.Marshal(map[string]any{
			"summary":      "Routine visit with improving symptoms and a scheduled follow up.",
			"topics":       []string{"headaches", "blood pressure", "follow up"},
			"action_items": []string{"schedule follow up in two weeks"},
		})

		logger.Info("Summarization request",
			slog.Int64("request", n),
			slog.String("model", req.Model),
			slog.Int("prompt_chars", len(req.Prompt)),
		)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"response": string(summaryDoc),
			"done":     true,
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Mock backend listening", slog.String("address", addr))

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
