package job

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a job id does not exist, or exists in a
// state that makes the requested transition impossible. Callers cannot
// distinguish "never created" from "already cleaned up".
var ErrNotFound = errors.New("job not found")

// Store persists and retrieves jobs. Implementations must be safe for
// concurrent use by multiple workers and the cleanup sweeper; updates to
// the same job id are serialized so no transition is ever lost.
type Store interface {
	// Create inserts a new pending job and returns it.
	Create(ctx context.Context, filename string, fileSize int64, fileType string) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	// List returns up to limit jobs ordered by created_at DESC. A zero
	// statusFilter means all statuses.
	List(ctx context.Context, limit int, statusFilter Status) ([]*Job, error)
	// MarkProcessing transitions pending -> processing and records the
	// start time. Returns ErrNotFound if no pending job with that id exists.
	MarkProcessing(ctx context.Context, id string) error
	// Complete transitions processing -> completed, recording metrics and
	// the output directory.
	Complete(ctx context.Context, id string, m Metrics, outputPath string) error
	// Fail moves a pending or processing job to failed with a message.
	Fail(ctx context.Context, id string, errMsg string) error
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes completed jobs finished before completedCutoff
	// and pending jobs created before pendingCutoff (abandoned), returning
	// the deleted ids.
	DeleteExpired(ctx context.Context, completedCutoff, pendingCutoff time.Time) ([]string, error)
	Close() error
}
