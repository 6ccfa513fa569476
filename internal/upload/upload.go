package upload

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrTooLarge is returned when an upload exceeds the configured size limit.
var ErrTooLarge = errors.New("file exceeds maximum allowed size")

var (
	unsafeChars   = regexp.MustCompile(`[^\w\-.]`)
	repeatedScore = regexp.MustCompile(`_+`)
)

// Staging receives validated uploads into a flat directory before a job is
// created for them. Files here are transient: the cleanup sweeper removes
// anything older than the upload retention window.
type Staging struct {
	dir     string
	maxSize int64
}

// New creates the staging directory if needed.
func New(dir string, maxSize int64) (*Staging, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &Staging{dir: dir, maxSize: maxSize}, nil
}

// Dir returns the staging directory path.
func (s *Staging) Dir() string { return s.dir }

// Save streams an upload to disk under a sanitized, timestamp-unique name
// and returns the stored path and byte count. Returns ErrTooLarge (and
// removes the partial file) when the stream exceeds the limit.
func (s *Staging) Save(filename string, r io.Reader) (string, int64, error) {
	safe := SanitizeFilename(filename)
	ext := filepath.Ext(safe)
	base := strings.TrimSuffix(safe, ext)
	unique := fmt.Sprintf("%s_%d%s", base, time.Now().UnixNano(), ext)
	path := filepath.Join(s.dir, unique)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}

	// Read one byte past the limit to detect oversize streams.
	n, err := io.Copy(f, io.LimitReader(r, s.maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("save upload: %w", err)
	}
	if n > s.maxSize {
		os.Remove(path)
		return "", 0, ErrTooLarge
	}
	return path, n, nil
}

// SanitizeFilename strips path separators and anything outside
// [A-Za-z0-9_.-], collapsing runs of underscores.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		name = ""
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	name = repeatedScore.ReplaceAllString(name, "_")
	if name == "" || strings.HasPrefix(name, ".") {
		name = "document" + name
	}
	return name
}

// SweepOlderThan removes staged files whose modification time is older than
// age, returning how many were removed. Per-file failures are logged and do
// not stop the sweep.
func (s *Staging) SweepOlderThan(age time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read uploads dir: %w", err)
	}

	cutoff := time.Now().Add(-age)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Printf("uploads sweep: remove %s: %v", path, err)
			continue
		}
		removed++
	}
	return removed, nil
}
