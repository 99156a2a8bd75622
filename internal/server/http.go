package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/stream-stt-service/internal/config"
	"github.com/skypro1111/stream-stt-service/internal/job"
	"github.com/skypro1111/stream-stt-service/internal/metrics"
	"github.com/skypro1111/stream-stt-service/internal/pipeline"
	"github.com/skypro1111/stream-stt-service/internal/store"
)

// maxChunkBytes bounds a single audio upload to keep memory predictable
const maxChunkBytes = 1 << 20 // 1 MiB

// Server exposes the streaming transcription API over HTTP: stream lifecycle
// endpoints, a WebSocket transport, an SSE event feed, and operational
// endpoints.
type Server struct {
	coordinator *pipeline.Coordinator
	store       *store.Store
	config      *config.Config
	metrics     *metrics.Metrics
	logger      *slog.Logger
	httpServer  *http.Server
	startTime   time.Time
}

// NewServer creates the API server. The store may be nil when durable storage
// is disabled.
func NewServer(
	coordinator *pipeline.Coordinator,
	st *store.Store,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	s := &Server{
		coordinator: coordinator,
		store:       st,
		config:      cfg,
		metrics:     m,
		logger:      logger,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/stream/create", s.withMetrics("/api/v1/stream/create", s.handleCreate))
	mux.HandleFunc("POST /api/v1/stream/{id}/audio", s.withMetrics("/api/v1/stream/{id}/audio", s.handlePushAudio))
	mux.HandleFunc("POST /api/v1/stream/{id}/finalize", s.withMetrics("/api/v1/stream/{id}/finalize", s.handleFinalize))
	mux.HandleFunc("GET /api/v1/stream/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/stream/{id}", s.withMetrics("/api/v1/stream/{id}", s.handleGetStream))
	mux.HandleFunc("GET /ws/v1/stream/{id}", s.handleWebSocket)

	mux.HandleFunc("GET /health", s.withMetrics("/health", s.handleHealth))
	mux.HandleFunc("GET /streams", s.withMetrics("/streams", s.handleStreams))
	mux.HandleFunc("GET /streams/{id}", s.withMetrics("/streams/{id}", s.handleGetStream))
	mux.HandleFunc("GET /stats", s.withMetrics("/stats", s.handleStats))
	mux.HandleFunc("GET /config", s.withMetrics("/config", s.handleConfig))
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own deadlines
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins serving HTTP requests, blocking until the listener fails or
// Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting",
		slog.String("address", s.httpServer.Addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// withMetrics records request counts and latency per endpoint
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(rw, r)

		s.metrics.RecordHTTPRequest(
			r.Method,
			endpoint,
			fmt.Sprintf("%d", rw.statusCode),
			time.Since(startTime).Seconds(),
		)
	}
}

// writeJSON writes a JSON response with the given status code
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.metrics.RecordHTTPError(r.Method, r.URL.Path, fmt.Sprintf("%d", status))
	s.writeJSON(w, status, map[string]string{"error": message})
}

// handleCreate starts a new streaming job
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.coordinator.Start(r.Context())
	if err != nil {
		s.logger.Error("Failed to start job", slog.String("error", err.Error()))
		s.writeError(w, r, http.StatusInternalServerError, "failed to start stream")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"job_id": jobID,
		"status": "ACTIVE",
		"audio_config": map[string]any{
			"sample_rate":       s.config.Audio.SampleRate,
			"channels":          s.config.Audio.Channels,
			"bit_depth":         s.config.Audio.BitDepth,
			"frame_duration_ms": s.config.Audio.FrameDurationMs,
		},
	})
}

// handlePushAudio ingests one raw PCM chunk from the request body
func (s *Server) handlePushAudio(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	data, err := io.ReadAll(io.LimitReader(r.Body, maxChunkBytes+1))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "failed to read audio chunk")
		return
	}

	if len(data) > maxChunkBytes {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "audio chunk too large")
		return
	}

	if err := s.coordinator.PushChunk(r.Context(), jobID, data); err != nil {
		switch {
		case strings.Contains(err.Error(), "not found"):
			s.writeError(w, r, http.StatusNotFound, err.Error())
		case isInvalidTransition(err):
			s.writeError(w, r, http.StatusConflict, err.Error())
		default:
			s.writeError(w, r, http.StatusBadRequest, err.Error())
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleFinalize closes the audio stream and starts finalization
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if err := s.coordinator.Finalize(jobID); err != nil {
		s.writeError(w, r, http.StatusNotFound, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "finalizing"})
}

// handleGetStream returns the job state, falling back to storage for jobs
// that already left memory.
func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if machine, err := s.coordinator.Job(jobID); err == nil {
		s.writeJSON(w, http.StatusOK, machine.GetStats())
		return
	}

	if s.store != nil {
		if rec, err := s.store.GetJob(jobID); err == nil {
			s.writeJSON(w, http.StatusOK, rec)
			return
		}
	}

	s.writeError(w, r, http.StatusNotFound, fmt.Sprintf("job %s not found", jobID))
}

// handleHealth returns service health information
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.coordinator.GetStats()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"uptime_seconds":  time.Since(s.startTime).Seconds(),
		"active_sessions": stats.ActiveSessions,
	})
}

// handleStreams lists live jobs
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	jobs := s.coordinator.ListJobs()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(jobs),
		"streams": jobs,
	})
}

// handleStats returns aggregated component statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"coordinator": s.coordinator.GetStats(),
		"dispatcher":  s.coordinator.DispatcherStats(),
	})
}

// handleConfig returns the active configuration with secrets removed
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	redacted := *s.config
	if redacted.Transcription.APIKey != "" {
		redacted.Transcription.APIKey = "***"
	}

	s.writeJSON(w, http.StatusOK, redacted)
}

// isInvalidTransition reports whether err stems from a lifecycle violation
func isInvalidTransition(err error) bool {
	return errors.Is(err, job.ErrInvalidTransition)
}
