package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	completed_at  TIMESTAMP,
	transcript    TEXT NOT NULL DEFAULT '',
	summary       TEXT,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS segments (
	job_id        TEXT NOT NULL REFERENCES jobs(id),
	segment_index INTEGER NOT NULL,
	text          TEXT NOT NULL,
	start_seq     INTEGER NOT NULL,
	end_seq       INTEGER NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (job_id, segment_index)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

// Store persists job lifecycles and transcript segments in SQLite. It backs
// the read-side API after jobs leave memory; the pipeline treats every write
// as best-effort.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job row
func (s *Store) CreateJob(jobID string, status string, createdAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO jobs (id, status, created_at) VALUES (?, ?, ?)`,
		jobID, status, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", jobID, err)
	}

	return nil
}

// UpdateStatus sets the job's lifecycle status
func (s *Store) UpdateStatus(jobID string, status string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ? WHERE id = ?`, status, jobID)
	if err != nil {
		return fmt.Errorf("failed to update status for job %s: %w", jobID, err)
	}

	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}

	return nil
}

// AppendSegment records one transcribed segment
func (s *Store) AppendSegment(jobID string, index int, text string, startSeq, endSeq uint64) error {
	_, err := s.db.Exec(
		`INSERT INTO segments (job_id, segment_index, text, start_seq, end_seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, index, text, int64(startSeq), int64(endSeq), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to append segment %d for job %s: %w", index, jobID, err)
	}

	return nil
}

// SetResult records the final transcript, summary, and error message
func (s *Store) SetResult(jobID string, transcript string, summary []byte, errorMessage string) error {
	var summaryValue any
	if summary != nil {
		summaryValue = string(summary)
	}

	res, err := s.db.Exec(
		`UPDATE jobs SET transcript = ?, summary = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		transcript, summaryValue, errorMessage, time.Now(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to set result for job %s: %w", jobID, err)
	}

	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}

	return nil
}

// GetJob loads one job row
func (s *Store) GetJob(jobID string) (*JobRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, status, created_at, completed_at, transcript, summary, error_message
		 FROM jobs WHERE id = ?`,
		jobID,
	)

	var rec JobRecord
	var completedAt sql.NullTime
	var summary sql.NullString

	err := row.Scan(&rec.ID, &rec.Status, &rec.CreatedAt, &completedAt, &rec.Transcript, &summary, &rec.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	if summary.Valid {
		rec.Summary = []byte(summary.String)
	}

	return &rec, nil
}

// ListSegments returns a job's segments in recording order
func (s *Store) ListSegments(jobID string) ([]SegmentRecord, error) {
	rows, err := s.db.Query(
		`SELECT job_id, segment_index, text, start_seq, end_seq, created_at
		 FROM segments WHERE job_id = ? ORDER BY segment_index`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var segments []SegmentRecord
	for rows.Next() {
		var rec SegmentRecord
		var startSeq, endSeq int64

		if err := rows.Scan(&rec.JobID, &rec.Index, &rec.Text, &startSeq, &endSeq, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}

		rec.StartSeq = uint64(startSeq)
		rec.EndSeq = uint64(endSeq)
		segments = append(segments, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate segments: %w", err)
	}

	return segments, nil
}

// ListJobs returns recent jobs, newest first
func (s *Store) ListJobs(limit int) ([]JobRecord, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, status, created_at, completed_at, transcript, summary, error_message
		 FROM jobs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var completedAt sql.NullTime
		var summary sql.NullString

		if err := rows.Scan(&rec.ID, &rec.Status, &rec.CreatedAt, &completedAt, &rec.Transcript, &summary, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		if completedAt.Valid {
			rec.CompletedAt = &completedAt.Time
		}
		if summary.Valid {
			rec.Summary = []byte(summary.String)
		}

		jobs = append(jobs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return jobs, nil
}
