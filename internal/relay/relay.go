package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/stream-stt-service/internal/metrics"
)

// Event types published on a job channel
const (
	EventConnected         = "CONNECTED"
	EventTranscriptSegment = "TRANSCRIPT_SEGMENT"
	EventFinalSummary      = "FINAL_SUMMARY"
	EventError             = "ERROR"
)

var (
	// ErrSubscriberConflict is returned when a channel already has a live subscriber
	ErrSubscriberConflict = errors.New("channel already has a subscriber")

	// ErrChannelClosed is returned once a closed channel has no more events to deliver
	ErrChannelClosed = errors.New("channel closed")
)

// Event is one item on a job's event stream. Seq is assigned at publish time
// and is strictly increasing per job with no gaps, starting at 1.
type Event struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// ConnectedPayload accompanies EventConnected
type ConnectedPayload struct {
	JobID string `json:"job_id"`
}

// TranscriptSegmentPayload accompanies EventTranscriptSegment
type TranscriptSegmentPayload struct {
	JobID        string `json:"job_id"`
	Text         string `json:"text"`
	SegmentIndex int    `json:"segment_index"`
}

// FinalSummaryPayload accompanies EventFinalSummary. Summary is the raw JSON
// document produced by the summarizer, passed through untouched.
type FinalSummaryPayload struct {
	JobID          string          `json:"job_id"`
	FullTranscript string          `json:"full_transcript"`
	Summary        json.RawMessage `json:"summary"`
}

// ErrorPayload accompanies EventError. Recoverable means the job continues
// and the client should keep listening.
type ErrorPayload struct {
	JobID       string `json:"job_id"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Channel is the per-job event stream. Events published before a subscriber
// attaches are buffered and replayed on attach, then delivery continues live.
// Delivery is at-least-once: an event leaves the buffer only when handed to
// the subscriber. At most one subscriber may be attached at a time.
type Channel struct {
	jobID    string
	capacity int
	metrics  *metrics.Metrics
	logger   *slog.Logger

	queue      []Event
	nextSeq    uint64
	subscriber *Subscription
	closed     bool
	notify     chan struct{}
	done       chan struct{}

	// Statistics
	published uint64
	delivered uint64
	dropped   uint64

	mu sync.Mutex
}

// ChannelStats represents channel statistics for monitoring
type ChannelStats struct {
	JobID         string `json:"job_id"`
	Buffered      int    `json:"buffered"`
	Published     uint64 `json:"published"`
	Delivered     uint64 `json:"delivered"`
	Dropped       uint64 `json:"dropped"`
	HasSubscriber bool   `json:"has_subscriber"`
	Closed        bool   `json:"closed"`
}

// Subscription is the single consumer handle for a channel
type Subscription struct {
	channel *Channel
}

// NewChannel creates an event channel for one job with the given buffer
// capacity. A nil metrics handle disables recording.
func NewChannel(jobID string, capacity int, m *metrics.Metrics, logger *slog.Logger) (*Channel, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be at least 1, got %d", capacity)
	}

	return &Channel{
		jobID:    jobID,
		capacity: capacity,
		metrics:  m,
		logger:   logger,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Publish appends an event of the given type to the channel, assigning the
// next sequence number. Publishing to a closed channel is a no-op so late
// pipeline stages never fail on teardown races.
func (c *Channel) Publish(eventType string, payload any) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0
	}

	c.nextSeq++
	event := Event{
		Type:      eventType,
		JobID:     c.jobID,
		Seq:       c.nextSeq,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	if len(c.queue) >= c.capacity {
		// Drop the oldest undelivered event to keep the buffer bounded
		c.dropped++
		if c.metrics != nil {
			c.metrics.EventsDropped.Inc()
		}
		c.logger.Warn("Event buffer full, dropping oldest event",
			slog.String("job_id", c.jobID),
			slog.Uint64("dropped_seq", c.queue[0].Seq),
			slog.String("dropped_type", c.queue[0].Type),
		)
		c.queue = c.queue[1:]
	}

	c.queue = append(c.queue, event)
	c.published++
	if c.metrics != nil {
		c.metrics.EventsPublished.WithLabelValues(eventType).Inc()
	}

	select {
	case c.notify <- struct{}{}:
	default:
	}

	return event.Seq
}

// Subscribe attaches the channel's single subscriber. Buffered events are
// delivered first through Next, then delivery continues live. Returns
// ErrSubscriberConflict while another subscriber is attached.
func (c *Channel) Subscribe() (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed && len(c.queue) == 0 {
		return nil, ErrChannelClosed
	}

	if c.subscriber != nil {
		return nil, ErrSubscriberConflict
	}

	sub := &Subscription{channel: c}
	c.subscriber = sub

	return sub, nil
}

// Unsubscribe detaches the subscriber, freeing the slot for a reconnect.
// Undelivered events stay buffered.
func (c *Channel) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscriber == sub {
		c.subscriber = nil
	}
}

// Close marks the channel closed. Buffered events can still be drained by an
// attached subscriber; Next returns ErrChannelClosed once the buffer is empty.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.done)
}

// GetStats returns current channel statistics
func (c *Channel) GetStats() ChannelStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ChannelStats{
		JobID:         c.jobID,
		Buffered:      len(c.queue),
		Published:     c.published,
		Delivered:     c.delivered,
		Dropped:       c.dropped,
		HasSubscriber: c.subscriber != nil,
		Closed:        c.closed,
	}
}

// Next returns the next event in sequence order, blocking until one is
// available, the channel is closed and drained, or ctx is cancelled. The
// event is removed from the buffer when returned, so a subscriber that dies
// mid-delivery may see the same tail again after reconnecting.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	c := s.channel

	for {
		c.mu.Lock()
		if c.subscriber != s {
			c.mu.Unlock()
			return Event{}, ErrSubscriberConflict
		}
		if len(c.queue) > 0 {
			event := c.queue[0]
			c.queue = c.queue[1:]
			c.delivered++
			c.mu.Unlock()
			return event, nil
		}
		if c.closed {
			c.mu.Unlock()
			return Event{}, ErrChannelClosed
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-c.done:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
