package job

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// The pragmas must also ride in the DSN: database/sql pools connections,
	// and a PRAGMA issued via Exec only reaches the one connection that ran it.
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err = db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id              TEXT PRIMARY KEY,
			status          TEXT NOT NULL DEFAULT 'pending',
			filename        TEXT NOT NULL,
			file_size       INTEGER NOT NULL,
			file_type       TEXT NOT NULL,
			created_at      DATETIME NOT NULL,
			started_at      DATETIME,
			completed_at    DATETIME,
			error_message   TEXT NOT NULL DEFAULT '',
			output_path     TEXT NOT NULL DEFAULT '',
			text_length     INTEGER NOT NULL DEFAULT 0,
			images_count    INTEGER NOT NULL DEFAULT 0,
			extractor_used  TEXT NOT NULL DEFAULT '',
			processing_time REAL NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status       ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_created_at   ON jobs(created_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_completed_at ON jobs(completed_at);
	`)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, filename string, fileSize int64, fileType string) (*Job, error) {
	j := &Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Filename:  filename,
		FileSize:  fileSize,
		FileType:  fileType,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, filename, file_size, file_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, j.ID, j.Status, j.Filename, j.FileSize, j.FileType, j.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return j, nil
}

const jobColumns = `id, status, filename, file_size, file_type, created_at,
	started_at, completed_at, error_message, output_path,
	text_length, images_count, extractor_used, processing_time`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int, statusFilter Status) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if statusFilter != "" {
		query += ` WHERE status = ?`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// MarkProcessing claims a pending job. The status guard keeps transitions
// monotonic even when two workers race for the same id: only one UPDATE
// can match the pending row.
func (s *SQLiteStore) MarkProcessing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
	`, StatusProcessing, time.Now().UTC(), id, StatusPending)
	if err != nil {
		return fmt.Errorf("mark processing %s: %w", id, err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) Complete(ctx context.Context, id string, m Metrics, outputPath string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, output_path = ?,
			text_length = ?, images_count = ?, extractor_used = ?, processing_time = ?
		WHERE id = ? AND status = ?
	`, StatusCompleted, time.Now().UTC(), outputPath,
		m.TextLength, m.ImagesCount, m.ExtractorUsed, m.ProcessingSeconds,
		id, StatusProcessing)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return requireAffected(res)
}

// Fail accepts jobs in pending or processing state: a job whose pickup
// itself failed never reached processing but still needs a terminal record.
func (s *SQLiteStore) Fail(ctx context.Context, id string, errMsg string) error {
	if errMsg == "" {
		errMsg = "extraction failed"
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, completed_at = ?,
			started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status IN (?, ?)
	`, StatusFailed, errMsg, now, now, id, StatusPending, StatusProcessing)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// DeleteExpired removes expired completed jobs and abandoned pending jobs
// in one transaction so the returned ids match exactly what was deleted.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, completedCutoff, pendingCutoff time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin expiry tx: %w", err)
	}
	defer tx.Rollback()

	const predicate = `(status = ? AND completed_at IS NOT NULL AND completed_at < ?)
		OR (status = ? AND created_at < ?)`

	rows, err := tx.QueryContext(ctx, `SELECT id FROM jobs WHERE `+predicate,
		StatusCompleted, completedCutoff.UTC(), StatusPending, pendingCutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("query expired jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired ids: %w", err)
	}

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE `+predicate,
		StatusCompleted, completedCutoff.UTC(), StatusPending, pendingCutoff.UTC()); err != nil {
		return nil, fmt.Errorf("delete expired jobs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expiry: %w", err)
	}
	return ids, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	j := &Job{}
	var startedAt, completedAt sql.NullTime
	err := scan(
		&j.ID, &j.Status, &j.Filename, &j.FileSize, &j.FileType, &j.CreatedAt,
		&startedAt, &completedAt, &j.Error, &j.OutputPath,
		&j.TextLength, &j.ImagesCount, &j.ExtractorUsed, &j.ProcessingSeconds,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}
