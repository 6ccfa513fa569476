package results

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/extractd/extractd/internal/extractor"
)

// ErrNoOutput is returned when a job has no output directory to package.
var ErrNoOutput = errors.New("no output for job")

// extractionLog is the JSON artifact written next to the extracted content.
type extractionLog struct {
	JobID               string `json:"job_id"`
	Filename            string `json:"filename"`
	ExtractorUsed       string `json:"extractor_used"`
	ExtractionTimestamp string `json:"extraction_timestamp"`
	TextLength          int    `json:"text_length"`
	ImagesCount         int    `json:"images_count"`
	Success             bool   `json:"success"`
}

// Materializer owns the per-job output tree: one directory per job id
// holding content.txt, meta.txt, extraction_log.json and any images the
// extractor produced. The tree is partitioned by job id, so concurrent
// workers never touch the same subtree.
type Materializer struct {
	outputsDir string
}

// New creates the outputs root if needed.
func New(outputsDir string) (*Materializer, error) {
	if err := os.MkdirAll(outputsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create outputs dir: %w", err)
	}
	return &Materializer{outputsDir: outputsDir}, nil
}

// JobDir returns the output directory for a job (not necessarily existing yet).
func (m *Materializer) JobDir(jobID string) string {
	return filepath.Join(m.outputsDir, jobID)
}

// WriteArtifacts persists a successful extraction: the text content, a
// human-readable metadata summary, and the JSON extraction log.
func (m *Materializer) WriteArtifacts(jobID, filename, extractorName string, res *extractor.Result) error {
	dir := m.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create job output dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "content.txt"), []byte(res.Text), 0o644); err != nil {
		return fmt.Errorf("write content.txt: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "meta.txt"), []byte(metaText(filename, extractorName, res)), 0o644); err != nil {
		return fmt.Errorf("write meta.txt: %w", err)
	}

	logEntry := extractionLog{
		JobID:               jobID,
		Filename:            filename,
		ExtractorUsed:       extractorName,
		ExtractionTimestamp: time.Now().UTC().Format(time.RFC3339),
		TextLength:          len(res.Text),
		ImagesCount:         len(res.Images),
		Success:             res.Success,
	}
	data, err := json.MarshalIndent(logEntry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal extraction log: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "extraction_log.json"), data, 0o644); err != nil {
		return fmt.Errorf("write extraction_log.json: %w", err)
	}
	return nil
}

// metaText renders the metadata summary; keys sorted for stable output.
func metaText(filename, extractorName string, res *extractor.Result) string {
	lines := []string{
		"Document Metadata",
		"=================",
		"",
		"Filename: " + filename,
		"Extraction Method: " + extractorName,
		fmt.Sprintf("Text Length: %d", len(res.Text)),
		fmt.Sprintf("Images: %d", len(res.Images)),
		"",
	}
	if len(res.Metadata) > 0 {
		keys := make([]string, 0, len(res.Metadata))
		for k := range res.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines = append(lines, "Document Properties:", "--------------------")
		for _, k := range keys {
			lines = append(lines, k+": "+res.Metadata[k])
		}
		lines = append(lines, "")
	}

	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

// Exists reports whether the job produced any output.
func (m *Materializer) Exists(jobID string) bool {
	entries, err := os.ReadDir(m.JobDir(jobID))
	return err == nil && len(entries) > 0
}

// Remove deletes the job's entire output directory.
func (m *Materializer) Remove(jobID string) error {
	return os.RemoveAll(m.JobDir(jobID))
}

// Archive packages the job's output directory into a single zip, relative
// paths preserved. The archive is rebuilt from the directory on every call,
// so repeated requests are deterministic; the archive file itself is never
// included in its own contents.
func (m *Materializer) Archive(jobID string) (string, error) {
	dir := m.JobDir(jobID)
	if !m.Exists(jobID) {
		return "", ErrNoOutput
	}

	zipName := jobID + "_results.zip"
	zipPath := filepath.Join(dir, zipName)

	// Build to a temp file first so a half-written archive is never served.
	tmp, err := os.CreateTemp(dir, ".archive-*")
	if err != nil {
		return "", fmt.Errorf("create archive temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Name() == zipName || strings.HasPrefix(info.Name(), ".archive-") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		zw.Close()
		tmp.Close()
		return "", fmt.Errorf("build archive for job %s: %w", jobID, err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}

	if err := os.Rename(tmp.Name(), zipPath); err != nil {
		return "", fmt.Errorf("publish archive: %w", err)
	}
	return zipPath, nil
}
