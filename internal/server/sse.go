package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/skypro1111/stream-stt-service/internal/relay"
)

// handleEvents streams a job's events as server-sent events for clients that
// push audio over plain HTTP instead of the WebSocket transport. Buffered
// events are replayed first, then delivery continues live until the job's
// channel closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, err := s.coordinator.Subscribe(jobID)
	if err == relay.ErrSubscriberConflict {
		s.writeError(w, r, http.StatusConflict, "stream already has a subscriber")
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	defer s.coordinator.Unsubscribe(jobID, sub)

	if err := s.coordinator.Connected(jobID); err != nil {
		s.logger.Warn("Failed to publish CONNECTED event",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		event, err := sub.Next(r.Context())
		if err != nil {
			// Channel drained and closed, or the client went away
			return
		}

		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("Failed to marshal event",
				slog.String("job_id", jobID),
				slog.Uint64("seq", event.Seq),
				slog.String("error", err.Error()),
			)
			continue
		}

		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, data); err != nil {
			return
		}
		flusher.Flush()
	}
}
