package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/skypro1111/stream-stt-service/internal/config"
)

// Summarizer produces a structured JSON summary for a completed transcript
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (json.RawMessage, error)
}

// Client calls an Ollama-compatible generate endpoint in JSON mode. The model
// is asked to answer with a single JSON document, which is validated and
// passed through as-is.
type Client struct {
	endpoint   string
	model      string
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger

	// Statistics
	totalRequests  uint64
	failedRequests uint64
	retries        uint64
	totalDuration  time.Duration

	mu sync.Mutex
}

// ClientStats represents summarizer client statistics for monitoring
type ClientStats struct {
	TotalRequests  uint64  `json:"total_requests"`
	FailedRequests uint64  `json:"failed_requests"`
	Retries        uint64  `json:"retries"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
}

// generateRequest is the Ollama-style request body. Format "json" switches
// the model into JSON mode.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format"`
}

// generateResponse carries the model output; Response holds the JSON
// document as a string.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

const summaryPrompt = `You are a summarization engine. Summarize the following transcript.
Answer with a single JSON object with the fields "summary" (a concise paragraph),
"topics" (a list of strings) and "action_items" (a list of strings). Do not add
any text outside the JSON object.

Transcript:
%s`

// NewClient creates a summarizer client from configuration
func NewClient(cfg config.SummarizerConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("summarizer endpoint is required")
	}

	if cfg.Model == "" {
		return nil, fmt.Errorf("summarizer model is required")
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout: cfg.GetTimeoutDuration(),
		},
		logger: logger,
	}, nil
}

// Summarize generates a structured summary for the transcript. Attempts are
// retried with exponential backoff; an invalid JSON answer counts as a failed
// attempt.
func (c *Client) Summarize(ctx context.Context, transcript string) (json.RawMessage, error) {
	startTime := time.Now()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second

			c.mu.Lock()
			c.retries++
			c.mu.Unlock()

			c.logger.Debug("Retrying summarization request",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		doc, err := c.generate(ctx, transcript)
		if err == nil {
			c.mu.Lock()
			c.totalRequests++
			c.totalDuration += time.Since(startTime)
			c.mu.Unlock()
			return doc, nil
		}

		lastErr = err
	}

	c.mu.Lock()
	c.totalRequests++
	c.failedRequests++
	c.totalDuration += time.Since(startTime)
	c.mu.Unlock()

	return nil, fmt.Errorf("summarization failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// generate performs a single request attempt
func (c *Client) generate(ctx context.Context, transcript string) (json.RawMessage, error) {
	reqBody, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: fmt.Sprintf(summaryPrompt, transcript),
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	doc := json.RawMessage(result.Response)
	if !json.Valid(doc) {
		return nil, fmt.Errorf("model answer is not valid JSON")
	}

	return doc, nil
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	avgMs := float64(0)
	if c.totalRequests > 0 {
		avgMs = float64(c.totalDuration.Milliseconds()) / float64(c.totalRequests)
	}

	return ClientStats{
		TotalRequests:  c.totalRequests,
		FailedRequests: c.failedRequests,
		Retries:        c.retries,
		AvgDurationMs:  avgMs,
	}
}
