package extractor

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Result is what a capability hands back to the worker. Extraction never
// signals failure by panicking or by a Go error crossing the pool boundary;
// the worker consumes exactly one Result per job and projects it onto the
// job record.
type Result struct {
	Success  bool
	Text     string
	Images   []string
	Metadata map[string]string
	Err      string
}

// Failure builds a failed Result with a formatted message.
func Failure(format string, args ...any) *Result {
	return &Result{Err: fmt.Sprintf(format, args...)}
}

// Extractor turns one document format into text, metadata and image files.
// Extract writes any image artifacts under outputDir/images and returns
// their paths in the Result.
type Extractor interface {
	Name() string
	Extensions() []string
	CanHandle(path string) bool
	Extract(ctx context.Context, path, outputDir string) *Result
}

// matchesFile implements the shared CanHandle rule: extension match, or
// sniffed content type match when the extension is unfamiliar.
func matchesFile(path string, exts, mimeTypes []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	sniffed := sniffMIME(path)
	for _, m := range mimeTypes {
		if sniffed == m {
			return true
		}
	}
	return false
}

// sniffMIME returns the detected content type of the file, preferring the
// extension-derived type over raw content sniffing since office formats all
// sniff as zip archives.
func sniffMIME(path string) string {
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		if i := strings.Index(byExt, ";"); i != -1 {
			byExt = byExt[:i]
		}
		return byExt
	}

	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return ""
	}
	detected := http.DetectContentType(buf[:n])
	if i := strings.Index(detected, ";"); i != -1 {
		detected = detected[:i]
	}
	return detected
}

// imagesDir creates and returns the per-job image directory.
func imagesDir(outputDir string) (string, error) {
	dir := filepath.Join(outputDir, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create images dir: %w", err)
	}
	return dir, nil
}
