package store

import (
	"encoding/json"
	"time"
)

// JobRecord is a persisted job row
type JobRecord struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Transcript   string          `json:"transcript"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// SegmentRecord is a persisted transcript segment row
type SegmentRecord struct {
	JobID     string    `json:"job_id"`
	Index     int       `json:"segment_index"`
	Text      string    `json:"text"`
	StartSeq  uint64    `json:"start_seq"`
	EndSeq    uint64    `json:"end_seq"`
	CreatedAt time.Time `json:"created_at"`
}
