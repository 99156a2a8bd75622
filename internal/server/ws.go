package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/stream-stt-service/internal/relay"
)

const (
	// wsWriteTimeout bounds a single event write to a slow client
	wsWriteTimeout = 10 * time.Second

	// wsPongTimeout is how long the read side waits for a pong
	wsPongTimeout = 60 * time.Second

	// wsPingInterval must be shorter than wsPongTimeout
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Stream clients are not browsers; origin checks stay open
		return true
	},
}

// handleWebSocket is the bidirectional stream transport: binary messages
// carry PCM audio chunks in, JSON text messages carry pipeline events out.
// A clean close or the text command "finalize" finalizes the job.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if _, err := s.coordinator.Job(jobID); err != nil {
		s.writeError(w, r, http.StatusNotFound, err.Error())
		return
	}

	sub, err := s.coordinator.Subscribe(jobID)
	if err == relay.ErrSubscriberConflict {
		s.writeError(w, r, http.StatusConflict, "stream already has a subscriber")
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusGone, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.coordinator.Unsubscribe(jobID, sub)
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("WebSocket client connected",
		slog.String("job_id", jobID),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	if err := s.coordinator.Connected(jobID); err != nil {
		s.logger.Warn("Failed to publish CONNECTED event",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer conn.Close()
	defer s.coordinator.Unsubscribe(jobID, sub)

	go s.wsWriter(ctx, cancel, conn, sub, jobID)

	s.wsReader(ctx, conn, jobID)
}

// wsReader consumes inbound messages until the connection drops. Connection
// loss counts as end of stream and finalizes the job.
func (s *Server) wsReader(ctx context.Context, conn *websocket.Conn, jobID string) {
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("WebSocket read error",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}

			if finalizeErr := s.coordinator.Finalize(jobID); finalizeErr != nil {
				s.logger.Debug("Finalize on disconnect",
					slog.String("job_id", jobID),
					slog.String("error", finalizeErr.Error()),
				)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := s.coordinator.PushChunk(ctx, jobID, data); err != nil {
				s.logger.Warn("Rejected audio chunk",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}

		case websocket.TextMessage:
			if strings.TrimSpace(string(data)) == "finalize" {
				if err := s.coordinator.Finalize(jobID); err != nil {
					s.logger.Warn("Finalize command failed",
						slog.String("job_id", jobID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// wsWriter streams events to the client and keeps the connection alive with
// pings. It exits when the channel is drained and closed or the connection
// context ends.
func (s *Server) wsWriter(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *relay.Subscription, jobID string) {
	defer cancel()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	events := make(chan relay.Event)
	errs := make(chan error, 1)

	go func() {
		for {
			event, err := sub.Next(ctx)
			if err != nil {
				errs <- err
				return
			}

			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case event := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Warn("Failed to write event",
					slog.String("job_id", jobID),
					slog.Uint64("seq", event.Seq),
					slog.String("error", err.Error()),
				)
				return
			}

		case err := <-errs:
			if err == relay.ErrChannelClosed {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"))
			}
			return
		}
	}
}
