package job

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job tracks one document extraction request through its lifecycle.
// started_at is set once the job leaves pending, completed_at once it
// reaches a terminal state, output_path only on completion.
type Job struct {
	ID          string     `json:"job_id"`
	Status      Status     `json:"status"`
	Filename    string     `json:"filename"`
	FileSize    int64      `json:"file_size"`
	FileType    string     `json:"file_type"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error_message,omitempty"`
	OutputPath  string     `json:"output_path,omitempty"`

	// Populated on completion.
	TextLength        int     `json:"text_length,omitempty"`
	ImagesCount       int     `json:"images_count,omitempty"`
	ExtractorUsed     string  `json:"extractor_used,omitempty"`
	ProcessingSeconds float64 `json:"processing_time,omitempty"`
}

// Metrics carries the numbers a worker records when a job completes.
type Metrics struct {
	TextLength        int
	ImagesCount       int
	ExtractorUsed     string
	ProcessingSeconds float64
}
