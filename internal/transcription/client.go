package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/skypro1111/stream-stt-service/internal/config"
)

// Engine converts a WAV-encoded speech segment into text. promptContext is
// the tail of the transcript so far, letting the engine carry context across
// segment boundaries.
type Engine interface {
	Transcribe(ctx context.Context, wav []byte, promptContext string) (string, error)
}

// Client sends segments to an HTTP transcription backend as multipart WAV
// uploads. Concurrency is bounded by a semaphore so a slow backend cannot
// absorb every dispatcher worker.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	language   string
	maxRetries int
	httpClient *http.Client
	semaphore  chan struct{}
	logger     *slog.Logger

	// Statistics
	totalRequests  uint64
	failedRequests uint64
	retries        uint64
	totalDuration  time.Duration

	mu sync.Mutex
}

// ClientStats represents transcription client statistics for monitoring
type ClientStats struct {
	TotalRequests  uint64  `json:"total_requests"`
	FailedRequests uint64  `json:"failed_requests"`
	Retries        uint64  `json:"retries"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
	InFlight       int     `json:"in_flight"`
}

// transcribeResponse is the backend's JSON response body
type transcribeResponse struct {
	Text string `json:"text"`
}

// NewClient creates a transcription client from configuration
func NewClient(cfg config.TranscriptionConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("transcription endpoint is required")
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		language:   cfg.Language,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout: cfg.GetTimeoutDuration(),
		},
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		logger:    logger,
	}, nil
}

// Transcribe uploads the WAV segment and returns the recognized text.
// Failed attempts are retried with exponential backoff up to the configured
// limit; the final error wraps the last attempt's failure.
func (c *Client) Transcribe(ctx context.Context, wav []byte, promptContext string) (string, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for transcription slot: %w", ctx.Err())
	}

	startTime := time.Now()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second

			c.mu.Lock()
			c.retries++
			c.mu.Unlock()

			c.logger.Debug("Retrying transcription request",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := c.send(ctx, wav, promptContext)
		if err == nil {
			c.mu.Lock()
			c.totalRequests++
			c.totalDuration += time.Since(startTime)
			c.mu.Unlock()
			return text, nil
		}

		lastErr = err
	}

	c.mu.Lock()
	c.totalRequests++
	c.failedRequests++
	c.totalDuration += time.Since(startTime)
	c.mu.Unlock()

	return "", fmt.Errorf("transcription failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// send performs a single multipart upload attempt
func (c *Client) send(ctx context.Context, wav []byte, promptContext string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "segment.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if c.model != "" {
		if err := writer.WriteField("model", c.model); err != nil {
			return "", fmt.Errorf("failed to write model field: %w", err)
		}
	}
	if c.language != "" {
		if err := writer.WriteField("language", c.language); err != nil {
			return "", fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if promptContext != "" {
		if err := writer.WriteField("prompt", promptContext); err != nil {
			return "", fmt.Errorf("failed to write prompt field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result transcribeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	return result.Text, nil
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
		InFlight:       len(c.semaphore),
	}
}
