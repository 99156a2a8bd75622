// Package server exposes the streaming transcription API: REST endpoints for
// stream lifecycle, a WebSocket transport carrying audio in and events out,
// an SSE event feed, and operational endpoints for health, stats, and
// Prometheus metrics.
package server
