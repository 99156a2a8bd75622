package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/stream-stt-service/internal/relay"
)

// Status is the lifecycle state of a streaming job
type Status int

const (
	StatusCreated Status = iota
	StatusActive
	StatusFinalizing
	StatusSummarizing
	StatusCompleted
	StatusFailed
)

// String returns the status name used in logs, storage, and API responses
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusActive:
		return "ACTIVE"
	case StatusFinalizing:
		return "FINALIZING"
	case StatusSummarizing:
		return "SUMMARIZING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ErrInvalidTransition is returned when an operation is not valid in the
// job's current state.
var ErrInvalidTransition = errors.New("invalid job state transition")

// Store mirrors job state to durable storage. Implementations must tolerate
// concurrent calls; a nil Store disables mirroring.
type Store interface {
	UpdateStatus(jobID string, status string) error
	AppendSegment(jobID string, index int, text string, startSeq, endSeq uint64) error
	SetResult(jobID string, transcript string, summary []byte, errorMessage string) error
}

// Machine tracks one job through its lifecycle and accumulates the ordered
// transcript. State transitions publish the corresponding events on the job's
// relay channel; storage mirroring is best-effort and never blocks the
// pipeline.
type Machine struct {
	id      string
	channel *relay.Channel
	store   Store
	logger  *slog.Logger

	status       Status
	transcript   []string
	summary      json.RawMessage
	errorMessage string
	createdAt    time.Time
	completedAt  time.Time
	lastActivity time.Time

	// Statistics
	segmentsAppended int
	segmentsEmpty    int

	mu sync.Mutex
}

// MachineStats represents job statistics for monitoring
type MachineStats struct {
	JobID            string    `json:"job_id"`
	Status           string    `json:"status"`
	SegmentsAppended int       `json:"segments_appended"`
	SegmentsEmpty    int       `json:"segments_empty"`
	TranscriptChars  int       `json:"transcript_chars"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
}

// NewMachine creates a job in StatusCreated
func NewMachine(id string, channel *relay.Channel, store Store, logger *slog.Logger) *Machine {
	now := time.Now()

	return &Machine{
		id:           id,
		channel:      channel,
		store:        store,
		logger:       logger,
		status:       StatusCreated,
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the job identifier
func (m *Machine) ID() string {
	return m.id
}

// Channel returns the job's event channel
func (m *Machine) Channel() *relay.Channel {
	return m.channel
}

// Status returns the current lifecycle state
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Touch records activity for idle-job reaping
func (m *Machine) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = time.Now()
}

// LastActivity returns the time of the most recent audio or state change
func (m *Machine) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Activate moves the job from CREATED to ACTIVE, making it eligible to
// receive audio.
func (m *Machine) Activate() error {
	return m.transition(StatusActive, StatusCreated)
}

// BeginFinalize moves the job from ACTIVE to FINALIZING. New audio is
// rejected from this point; segments already dispatched keep flowing.
func (m *Machine) BeginFinalize() error {
	return m.transition(StatusFinalizing, StatusActive)
}

// BeginSummarize moves the job from FINALIZING to SUMMARIZING once every
// dispatched segment has been delivered.
func (m *Machine) BeginSummarize() error {
	return m.transition(StatusSummarizing, StatusFinalizing)
}

// AppendSegment records one delivered transcription result in order. Valid
// while the job is ACTIVE or FINALIZING. Non-empty text is appended to the
// transcript and published as a TRANSCRIPT_SEGMENT event; empty text is
// counted as a placeholder and produces no event.
func (m *Machine) AppendSegment(index int, text string, startSeq, endSeq uint64) error {
	m.mu.Lock()

	if m.status != StatusActive && m.status != StatusFinalizing {
		status := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot append segment in %s", ErrInvalidTransition, status)
	}

	m.lastActivity = time.Now()

	text = strings.TrimSpace(text)
	if text == "" {
		m.segmentsEmpty++
		m.mu.Unlock()
		return nil
	}

	m.transcript = append(m.transcript, text)
	m.segmentsAppended++
	m.mu.Unlock()

	m.channel.Publish(relay.EventTranscriptSegment, relay.TranscriptSegmentPayload{
		JobID:        m.id,
		Text:         text,
		SegmentIndex: index,
	})

	m.mirror(func(s Store) error {
		return s.AppendSegment(m.id, index, text, startSeq, endSeq)
	})

	return nil
}

// PublishError emits an ERROR event without changing job state. Used for
// recoverable failures such as a single segment transcription failing.
func (m *Machine) PublishError(message string, recoverable bool) {
	m.channel.Publish(relay.EventError, relay.ErrorPayload{
		JobID:       m.id,
		Message:     message,
		Recoverable: recoverable,
	})
}

// Complete publishes the FINAL_SUMMARY event and moves the job from
// SUMMARIZING to COMPLETED.
func (m *Machine) Complete(summary json.RawMessage) error {
	m.mu.Lock()

	if m.status != StatusSummarizing {
		status := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> COMPLETED", ErrInvalidTransition, status)
	}

	m.summary = summary
	transcript := strings.Join(m.transcript, " ")
	segments := m.segmentsAppended
	m.mu.Unlock()

	m.channel.Publish(relay.EventFinalSummary, relay.FinalSummaryPayload{
		JobID:          m.id,
		FullTranscript: transcript,
		Summary:        summary,
	})

	m.mu.Lock()
	m.status = StatusCompleted
	m.completedAt = time.Now()
	m.lastActivity = m.completedAt
	m.mu.Unlock()

	m.logger.Info("Job completed",
		slog.String("job_id", m.id),
		slog.Int("segments", segments),
		slog.Int("transcript_chars", len(transcript)),
	)

	m.mirror(func(s Store) error {
		if err := s.SetResult(m.id, transcript, summary, ""); err != nil {
			return err
		}
		return s.UpdateStatus(m.id, StatusCompleted.String())
	})

	return nil
}

// Fail moves the job to FAILED from any non-terminal state and publishes a
// non-recoverable ERROR event.
func (m *Machine) Fail(message string) error {
	m.mu.Lock()

	if m.status == StatusCompleted || m.status == StatusFailed {
		status := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> FAILED", ErrInvalidTransition, status)
	}

	m.status = StatusFailed
	m.errorMessage = message
	m.completedAt = time.Now()
	m.lastActivity = m.completedAt
	transcript := strings.Join(m.transcript, " ")
	m.mu.Unlock()

	m.channel.Publish(relay.EventError, relay.ErrorPayload{
		JobID:       m.id,
		Message:     message,
		Recoverable: false,
	})

	m.logger.Warn("Job failed",
		slog.String("job_id", m.id),
		slog.String("error", message),
	)

	m.mirror(func(s Store) error {
		if err := s.SetResult(m.id, transcript, nil, message); err != nil {
			return err
		}
		return s.UpdateStatus(m.id, StatusFailed.String())
	})

	return nil
}

// Transcript returns the segments joined in recording order
func (m *Machine) Transcript() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.transcript, " ")
}

// PromptContext returns up to maxChars of the transcript tail, used to prime
// the transcription engine with recent context.
func (m *Machine) PromptContext(maxChars int) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	full := strings.Join(m.transcript, " ")
	if maxChars <= 0 || len(full) <= maxChars {
		return full
	}

	return full[len(full)-maxChars:]
}

// Summary returns the summarizer output, nil until completed
func (m *Machine) Summary() json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// ErrorMessage returns the failure reason, empty unless failed
func (m *Machine) ErrorMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorMessage
}

// GetStats returns current job statistics
func (m *Machine) GetStats() MachineStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	transcriptChars := 0
	for _, t := range m.transcript {
		transcriptChars += len(t)
	}

	return MachineStats{
		JobID:            m.id,
		Status:           m.status.String(),
		SegmentsAppended: m.segmentsAppended,
		SegmentsEmpty:    m.segmentsEmpty,
		TranscriptChars:  transcriptChars,
		CreatedAt:        m.createdAt,
		LastActivity:     m.lastActivity,
	}
}

// transition moves to target if the current state matches from
func (m *Machine) transition(target, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.status, target)
	}

	m.status = target
	m.lastActivity = time.Now()

	m.mirror(func(s Store) error {
		return s.UpdateStatus(m.id, target.String())
	})

	return nil
}

// mirror applies a storage update, logging failures instead of propagating
// them.
func (m *Machine) mirror(fn func(Store) error) {
	if m.store == nil {
		return
	}

	if err := fn(m.store); err != nil {
		m.logger.Warn("Storage update failed",
			slog.String("job_id", m.id),
			slog.String("error", err.Error()),
		)
	}
}
