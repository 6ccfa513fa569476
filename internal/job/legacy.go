package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// legacyRecordSchema describes one entry of the legacy flat-file job map.
// Records that predate the SQLite store carry only the base lifecycle
// fields; the completion metrics columns did not exist yet.
const legacyRecordSchema = `{
	"type": "object",
	"required": ["status", "filename", "file_size", "file_type", "created_at"],
	"properties": {
		"status":        {"type": "string", "enum": ["pending", "processing", "completed", "failed"]},
		"filename":      {"type": "string", "minLength": 1},
		"file_size":     {"type": "integer", "minimum": 0},
		"file_type":     {"type": "string"},
		"created_at":    {"type": "string"},
		"started_at":    {"type": ["string", "null"]},
		"completed_at":  {"type": ["string", "null"]},
		"error_message": {"type": ["string", "null"]},
		"output_path":   {"type": ["string", "null"]}
	}
}`

type legacyRecord struct {
	Status       string  `json:"status"`
	Filename     string  `json:"filename"`
	FileSize     int64   `json:"file_size"`
	FileType     string  `json:"file_type"`
	CreatedAt    string  `json:"created_at"`
	StartedAt    *string `json:"started_at"`
	CompletedAt  *string `json:"completed_at"`
	ErrorMessage *string `json:"error_message"`
	OutputPath   *string `json:"output_path"`
}

// ImportLegacyJSON performs the one-time migration from the legacy flat-file
// record format. The file holds a single JSON object keyed by job id. The
// import is idempotent: ids already present in the store are skipped, and
// invalid records are logged and skipped rather than aborting the run.
// Returns the number of records imported.
func (s *SQLiteStore) ImportLegacyJSON(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read legacy jobs file: %w", err)
	}

	var records map[string]json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("parse legacy jobs file: %w", err)
	}

	schema, err := compileLegacySchema()
	if err != nil {
		return 0, err
	}

	imported := 0
	for id, raw := range records {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			log.Printf("legacy import: job %s: invalid JSON: %v", id, err)
			continue
		}
		if err := schema.Validate(v); err != nil {
			log.Printf("legacy import: job %s: record does not match legacy layout: %v", id, err)
			continue
		}

		var rec legacyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Printf("legacy import: job %s: %v", id, err)
			continue
		}

		createdAt, err := parseLegacyTime(rec.CreatedAt)
		if err != nil {
			log.Printf("legacy import: job %s: bad created_at: %v", id, err)
			continue
		}
		startedAt := parseLegacyTimePtr(rec.StartedAt)
		completedAt := parseLegacyTimePtr(rec.CompletedAt)

		// INSERT OR IGNORE keeps re-imports a no-op for existing ids.
		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO jobs
				(id, status, filename, file_size, file_type, created_at,
				 started_at, completed_at, error_message, output_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, rec.Status, rec.Filename, rec.FileSize, rec.FileType, createdAt,
			startedAt, completedAt, deref(rec.ErrorMessage), deref(rec.OutputPath))
		if err != nil {
			return imported, fmt.Errorf("legacy import: insert job %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
		}
	}
	return imported, nil
}

func compileLegacySchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("legacy.json", strings.NewReader(legacyRecordSchema)); err != nil {
		return nil, fmt.Errorf("add legacy schema: %w", err)
	}
	schema, err := compiler.Compile("legacy.json")
	if err != nil {
		return nil, fmt.Errorf("compile legacy schema: %w", err)
	}
	return schema, nil
}

func parseLegacyTime(s string) (time.Time, error) {
	// The legacy writer emitted datetime.isoformat(), which omits the
	// timezone; try RFC 3339 first, then the naive form.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05.999999", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseLegacyTimePtr(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	t, err := parseLegacyTime(*s)
	if err != nil {
		return nil
	}
	return t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
